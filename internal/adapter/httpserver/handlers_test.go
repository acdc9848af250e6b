package httpserver_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/ark-vote/internal/adapter/httpserver"
	"github.com/fairyhunter13/ark-vote/internal/adapter/kv/redisstore"
	"github.com/fairyhunter13/ark-vote/internal/aggregator"
	"github.com/fairyhunter13/ark-vote/internal/app"
	"github.com/fairyhunter13/ark-vote/internal/config"
	"github.com/fairyhunter13/ark-vote/internal/domain"
	"github.com/fairyhunter13/ark-vote/internal/snowflake"
	"github.com/fairyhunter13/ark-vote/internal/topiccache"
	"github.com/fairyhunter13/ark-vote/internal/usecase"
)

type memTopicRepo struct {
	mu     sync.Mutex
	topics map[string]domain.Topic
}

func newMemTopicRepo(topics ...domain.Topic) *memTopicRepo {
	r := &memTopicRepo{topics: make(map[string]domain.Topic)}
	for _, t := range topics {
		r.topics[t.ID] = t
	}
	return r
}

func (r *memTopicRepo) Insert(_ domain.Context, t domain.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics[t.ID] = t
	return nil
}

func (r *memTopicRepo) Upsert(ctx domain.Context, t domain.Topic) error { return r.Insert(ctx, t) }

func (r *memTopicRepo) FindByID(_ domain.Context, id string) (domain.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[id]
	if !ok {
		return domain.Topic{}, domain.ErrTopicNotFound
	}
	return t, nil
}

func (r *memTopicRepo) FindAll(_ domain.Context) ([]domain.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Topic, 0, len(r.topics))
	for _, t := range r.topics {
		out = append(out, t)
	}
	return out, nil
}

func (r *memTopicRepo) FindUpdatedSince(_ domain.Context, _ time.Time) ([]domain.Topic, error) {
	return nil, nil
}

func (r *memTopicRepo) FindAwaitingAudit(_ domain.Context) ([]domain.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Topic
	for _, t := range r.topics {
		if t.Status.State == domain.TopicWaitingAudit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTopicRepo) SetAuditStatus(_ domain.Context, id string, status domain.TopicStatus, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[id]
	if !ok {
		return domain.ErrTopicNotFound
	}
	t.Status = status
	t.UpdatedAt = &updatedAt
	r.topics[id] = t
	return nil
}

type memPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (p *memPublisher) Publish(_ domain.Context, subject string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return nil
}

type memArchive struct{}

func (memArchive) InsertBatch(_ domain.Context, _ string, _ []domain.StoredBallot) error { return nil }

func livePairwiseTopic(id string) domain.Topic {
	now := time.Now().UTC()
	return domain.Topic{
		ID:        id,
		Name:      "Topic " + id,
		Type:      domain.TopicPairwise,
		CreatedAt: now.Add(-time.Hour),
		OpenTime:  now.Add(-time.Hour),
		CloseTime: now.Add(time.Hour),
		IsActive:  true,
		Status:    domain.TopicStatus{State: domain.TopicApproved},
		CandidatePool: domain.PoolExpr{
			Type:   domain.PoolCustom,
			Params: &domain.PoolExprParams{OperatorIDs: []int32{1001, 1002, 2001}},
		},
	}
}

func serverCatalog() []domain.CharacterInfo {
	return []domain.CharacterInfo{
		{ID: 1001, Name: "Alpha", Rarity: domain.Tier6, Profession: domain.ProfessionWarrior},
		{ID: 1002, Name: "Bravo", Rarity: domain.Tier6, Profession: domain.ProfessionWarrior},
		{ID: 2001, Name: "Charlie", Rarity: domain.Tier6, Profession: domain.ProfessionCaster},
	}
}

func newTestStack(t *testing.T, cfg config.Config, topics ...domain.Topic) (http.Handler, *memPublisher) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redisstore.New(client, redisstore.ScoreConfig{
		BaseMultiplier:  100,
		LowMultiplier:   20,
		MaxIPLimit:      300,
		IPCounterExpire: 86400,
	})
	repo := newMemTopicRepo(topics...)
	cache := topiccache.NewService(repo, serverCatalog(), slog.Default())
	agg := aggregator.New(store, memArchive{}, aggregator.Config{QueueSize: 100, LowMultiplier: 20}, slog.Default())
	t.Cleanup(agg.Close)
	gen, err := snowflake.New(1600000000000, 0, 0)
	require.NoError(t, err)
	pub := &memPublisher{}
	ballots := usecase.NewBallotService(cache, store, agg, pub, gen, time.Hour)
	srv := httpserver.NewServer(cfg, ballots, usecase.NewTopicService(cache), usecase.NewResultsService(cache, store))
	return app.BuildRouter(cfg, srv, nil), pub
}

func newTestHandler(t *testing.T, cfg config.Config, topics ...domain.Topic) http.Handler {
	t.Helper()
	h, _ := newTestStack(t, cfg, topics...)
	return h
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) httpserver.Envelope {
	t.Helper()
	var env httpserver.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestBallotNewAndSaveRoundTrip(t *testing.T) {
	h := newTestHandler(t, config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 600}, livePairwiseTopic("t1"))

	rec := postJSON(t, h, "/ballot/new", map[string]string{"topic_id": "t1"})
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	require.Equal(t, httpserver.StatusOK, env.Status)
	require.Equal(t, httpserver.MsgOK, env.Message)

	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	ballotID, _ := data["ballot_id"].(string)
	require.NotEmpty(t, ballotID)
	left := int32(data["left"].(float64))
	right := int32(data["right"].(float64))
	require.NotEqual(t, left, right)

	rec = postJSON(t, h, "/ballot/save", map[string]any{
		"topic_id":   "t1",
		"ballot_id":  ballotID,
		"topic_type": "pairwise",
		"winner":     left,
		"loser":      right,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	env = decodeEnvelope(t, rec)
	assert.Equal(t, httpserver.StatusOK, env.Status)
	saved := env.Data.(map[string]any)
	assert.Equal(t, float64(0), saved["code"])

	// the challenge is single-use
	rec = postJSON(t, h, "/ballot/save", map[string]any{
		"topic_id":  "t1",
		"ballot_id": ballotID,
		"winner":    left,
		"loser":     right,
	})
	env = decodeEnvelope(t, rec)
	assert.Equal(t, httpserver.StatusNotFound, env.Status)
	assert.Equal(t, httpserver.MsgBallotNotFound, env.Message)
}

func TestBallotNewRecyclesPreviousBallot(t *testing.T) {
	h, pub := newTestStack(t, config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 600}, livePairwiseTopic("t1"))

	rec := postJSON(t, h, "/ballot/new", map[string]string{"topic_id": "t1", "ballot_id": "stale-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	require.Equal(t, httpserver.StatusOK, env.Status)

	require.Equal(t, []string{usecase.SubjectNewCompare}, pub.subjects)
	var msg usecase.NewCompareMessage
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, "t1", msg.TopicID)
	assert.Equal(t, "stale-1", msg.BallotID)

	// without a previous ballot nothing is published
	rec = postJSON(t, h, "/ballot/new", map[string]string{"topic_id": "t1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, pub.subjects, 1)
}

func TestBallotNewUnknownTopic(t *testing.T) {
	h := newTestHandler(t, config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 600})

	rec := postJSON(t, h, "/ballot/new", map[string]string{"topic_id": "missing"})
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, httpserver.StatusNotFound, env.Status)
	assert.Equal(t, httpserver.MsgTargetTopicNotFound, env.Message)
}

func TestBallotSaveWinnerIsLoser(t *testing.T) {
	h := newTestHandler(t, config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 600}, livePairwiseTopic("t1"))

	rec := postJSON(t, h, "/ballot/new", map[string]string{"topic_id": "t1"})
	env := decodeEnvelope(t, rec)
	data := env.Data.(map[string]any)
	left := int32(data["left"].(float64))

	rec = postJSON(t, h, "/ballot/save", map[string]any{
		"topic_id":  "t1",
		"ballot_id": data["ballot_id"],
		"winner":    left,
		"loser":     left,
	})
	env = decodeEnvelope(t, rec)
	assert.Equal(t, httpserver.StatusBadRequest, env.Status)
	assert.Equal(t, httpserver.MsgBallotWinnerCannotBeLoser, env.Message)
}

func TestBallotSkip(t *testing.T) {
	h := newTestHandler(t, config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 600}, livePairwiseTopic("t1"))

	rec := postJSON(t, h, "/ballot/skip", map[string]string{"topic_id": "t1", "ballot_id": "b1"})
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, httpserver.StatusSkipped, env.Status)
}

func TestBallotMalformedBody(t *testing.T) {
	h := newTestHandler(t, config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 600})

	req := httptest.NewRequest(http.MethodPost, "/ballot/new", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTopicInfoAndList(t *testing.T) {
	h := newTestHandler(t, config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 600}, livePairwiseTopic("t1"))

	rec := postJSON(t, h, "/topic/info", map[string]string{"topic_id": "t1"})
	env := decodeEnvelope(t, rec)
	require.Equal(t, httpserver.StatusOK, env.Status)
	data := env.Data.(map[string]any)
	assert.Equal(t, "t1", data["id"])

	rec = postJSON(t, h, "/topic/list", map[string]string{})
	env = decodeEnvelope(t, rec)
	require.Equal(t, httpserver.StatusOK, env.Status)
	list := env.Data.(map[string]any)
	assert.Equal(t, []any{"t1"}, list["topic_ids"])
}

func TestTopicCandidatePool(t *testing.T) {
	h := newTestHandler(t, config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 600}, livePairwiseTopic("t1"))

	rec := postJSON(t, h, "/topic/candidate_pool", map[string]string{"topic_id": "t1"})
	env := decodeEnvelope(t, rec)
	require.Equal(t, httpserver.StatusOK, env.Status)
	data := env.Data.(map[string]any)
	assert.Equal(t, "t1", data["topic_id"])
	assert.Len(t, data["pool"], 3)
}

func TestResultsFinalOrderUnsupported(t *testing.T) {
	plurality := livePairwiseTopic("t1")
	plurality.Type = domain.TopicPlurality
	h := newTestHandler(t, config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 600}, plurality)

	rec := postJSON(t, h, "/results/final_order", map[string]string{"topic_id": "t1"})
	env := decodeEnvelope(t, rec)
	assert.Equal(t, httpserver.StatusInternal, env.Status)
	assert.Equal(t, httpserver.MsgCurTopicNotSupportFinalOrder, env.Message)
}

func TestResultsFinalOrderOK(t *testing.T) {
	h := newTestHandler(t, config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 600}, livePairwiseTopic("t1"))

	rec := postJSON(t, h, "/results/final_order", map[string]string{"topic_id": "t1"})
	env := decodeEnvelope(t, rec)
	require.Equal(t, httpserver.StatusOK, env.Status)
	data := env.Data.(map[string]any)
	assert.Equal(t, "t1", data["topic_id"])
	assert.Len(t, data["items"], 3)
}

func TestAuditEndpointsForbiddenByDefault(t *testing.T) {
	h := newTestHandler(t, config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 600}, livePairwiseTopic("t1"))

	for _, path := range []string{"/topic/create", "/audit/topic", "/audit/need_audit_topics"} {
		rec := postJSON(t, h, path, map[string]string{})
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
		env := decodeEnvelope(t, rec)
		assert.Equal(t, httpserver.MsgEndpointForbidden, env.Message, path)
	}
}

func TestAuditFlow(t *testing.T) {
	cfg := config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 600, AuditEnabled: true}
	pending := livePairwiseTopic("t1")
	pending.IsActive = false
	pending.Status = domain.TopicStatus{State: domain.TopicWaitingAudit}
	h := newTestHandler(t, cfg, pending)

	rec := postJSON(t, h, "/audit/need_audit_topics", map[string]string{})
	env := decodeEnvelope(t, rec)
	require.Equal(t, httpserver.StatusOK, env.Status)
	assert.Len(t, env.Data.([]any), 1)

	rec = postJSON(t, h, "/audit/topic", map[string]string{
		"topic_id":       "t1",
		"auditor_id":     "op-1",
		"audit_category": "ContentCompliance",
	})
	env = decodeEnvelope(t, rec)
	require.Equal(t, httpserver.StatusOK, env.Status)
	data := env.Data.(map[string]any)
	status := data["status"].(map[string]any)
	assert.Equal(t, domain.TopicApproved, status["state"])
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 600})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
