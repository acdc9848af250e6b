package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ark-vote/internal/adapter/kv/redisstore"
	"github.com/fairyhunter13/ark-vote/internal/domain"
	"github.com/fairyhunter13/ark-vote/internal/snowflake"
	"github.com/fairyhunter13/ark-vote/internal/topiccache"
	"github.com/fairyhunter13/ark-vote/internal/usecase"
)

type streamTopicRepo struct {
	mu     sync.Mutex
	topics map[string]domain.Topic
}

func newStreamTopicRepo(topics ...domain.Topic) *streamTopicRepo {
	r := &streamTopicRepo{topics: make(map[string]domain.Topic)}
	for _, t := range topics {
		r.topics[t.ID] = t
	}
	return r
}

func (r *streamTopicRepo) Insert(_ domain.Context, t domain.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics[t.ID] = t
	return nil
}

func (r *streamTopicRepo) Upsert(ctx domain.Context, t domain.Topic) error { return r.Insert(ctx, t) }

func (r *streamTopicRepo) FindByID(_ domain.Context, id string) (domain.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[id]
	if !ok {
		return domain.Topic{}, domain.ErrTopicNotFound
	}
	return t, nil
}

func (r *streamTopicRepo) FindAll(_ domain.Context) ([]domain.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Topic, 0, len(r.topics))
	for _, t := range r.topics {
		out = append(out, t)
	}
	return out, nil
}

func (r *streamTopicRepo) FindUpdatedSince(ctx domain.Context, _ time.Time) ([]domain.Topic, error) {
	return r.FindAll(ctx)
}

func (r *streamTopicRepo) FindAwaitingAudit(_ domain.Context) ([]domain.Topic, error) {
	return nil, nil
}

func (r *streamTopicRepo) SetAuditStatus(_ domain.Context, id string, status domain.TopicStatus, updatedAt time.Time) error {
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

func newCompareFixture(t *testing.T, topics ...domain.Topic) (*NewCompareHandler, *miniredis.Miniredis) {
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

	catalog := []domain.CharacterInfo{
		{ID: 1001, Name: "Alpha", Rarity: domain.Tier6, Profession: domain.ProfessionWarrior},
		{ID: 1002, Name: "Bravo", Rarity: domain.Tier6, Profession: domain.ProfessionWarrior},
		{ID: 2001, Name: "Charlie", Rarity: domain.Tier6, Profession: domain.ProfessionCaster},
	}
	cache := topiccache.NewService(newStreamTopicRepo(topics...), catalog, slog.Default())

	gen, err := snowflake.New(1600000000000, 0, 0)
	require.NoError(t, err)
	ballots := usecase.NewBallotService(cache, store, nil, nil, gen, time.Hour)
	return NewNewCompareHandler(ballots, store, slog.Default()), mr
}

func compareTopic(id string) domain.Topic {
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

func compareRequest(t *testing.T, msg usecase.NewCompareMessage) *kgo.Record {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return &kgo.Record{Topic: SubjectNewCompare, Value: raw}
}

func countChallengeKeys(mr *miniredis.Miniredis, topicID string) int {
	n := 0
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, topicID+":ballot:") {
			n++
		}
	}
	return n
}

func TestNewCompareMintsRequestedChallenges(t *testing.T) {
	h, mr := newCompareFixture(t, compareTopic("t1"))

	errs := h.HandleBatch(context.Background(), []*kgo.Record{
		compareRequest(t, usecase.NewCompareMessage{TopicID: "t1", Count: 3}),
	})
	require.Len(t, errs, 1)
	assert.NoError(t, errs[0])
	assert.Equal(t, 3, countChallengeKeys(mr, "t1"))
}

func TestNewCompareDefaultsCountToOne(t *testing.T) {
	h, mr := newCompareFixture(t, compareTopic("t1"))

	errs := h.HandleBatch(context.Background(), []*kgo.Record{
		compareRequest(t, usecase.NewCompareMessage{TopicID: "t1"}),
	})
	require.Len(t, errs, 1)
	assert.NoError(t, errs[0])
	assert.Equal(t, 1, countChallengeKeys(mr, "t1"))
}

func TestNewCompareReclaimsRepublishedBallot(t *testing.T) {
	h, mr := newCompareFixture(t, compareTopic("t1"))

	mr.Set(redisstore.BallotKey("t1", "stale"), "1001,1002")
	errs := h.HandleBatch(context.Background(), []*kgo.Record{
		compareRequest(t, usecase.NewCompareMessage{TopicID: "t1", BallotID: "stale"}),
	})
	require.Len(t, errs, 1)
	assert.NoError(t, errs[0])
	assert.False(t, mr.Exists(redisstore.BallotKey("t1", "stale")))
	// reclamation alone mints nothing
	assert.Equal(t, 0, countChallengeKeys(mr, "t1"))
}

func TestNewCompareDropsUnknownTopic(t *testing.T) {
	h, mr := newCompareFixture(t)

	errs := h.HandleBatch(context.Background(), []*kgo.Record{
		compareRequest(t, usecase.NewCompareMessage{TopicID: "missing", Count: 2}),
	})
	require.Len(t, errs, 1)
	assert.NoError(t, errs[0])
	assert.Empty(t, mr.Keys())
}

func TestNewCompareDropsUndecodableRequest(t *testing.T) {
	h, _ := newCompareFixture(t)

	errs := h.HandleBatch(context.Background(), []*kgo.Record{
		{Topic: SubjectNewCompare, Value: []byte("not json")},
	})
	require.Len(t, errs, 1)
	assert.NoError(t, errs[0])
}
