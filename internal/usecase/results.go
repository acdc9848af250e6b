package usecase

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/fairyhunter13/ark-vote/internal/adapter/kv/redisstore"
	"github.com/fairyhunter13/ark-vote/internal/domain"
	"github.com/fairyhunter13/ark-vote/internal/topiccache"
)

const (
	resultsCacheSize = 256
	resultsCacheTTL  = 3 * time.Second
)

type resultsKind uint8

const (
	kindFinalOrder resultsKind = iota
	kindMatrix
)

type resultsCacheKey struct {
	topicID string
	kind    resultsKind
}

// FinalOrderItem is one ranked operator in a final order response.
type FinalOrderItem struct {
	Name  string `json:"name"`
	ID    int32  `json:"id"`
	Win   int64  `json:"win"`
	Lose  int64  `json:"lose"`
	Score string `json:"score"`
	Rate  string `json:"rate"`
}

// FinalOrderResult is the ranked standing of a topic's operators.
type FinalOrderResult struct {
	TopicID string           `json:"topic_id"`
	Items   []FinalOrderItem `json:"items"`
	Count   int64            `json:"count"`
}

// MatrixItem is one head-to-head cell: net weighted score and how many
// times the pair met.
type MatrixItem struct {
	Score int64 `json:"score"`
	Count int64 `json:"count"`
}

// MatrixResult maps "winID:loseID" to its cell.
type MatrixResult map[string]MatrixItem

// ResultsService computes ranking views over the Redis scoring state,
// with a short-lived cache so hot topics don't hammer Redis.
type ResultsService struct {
	Topics *topiccache.Service
	Store  *redisstore.Store

	cache *expirable.LRU[resultsCacheKey, any]
}

// NewResultsService constructs a ResultsService.
func NewResultsService(topics *topiccache.Service, store *redisstore.Store) *ResultsService {
	return &ResultsService{
		Topics: topics,
		Store:  store,
		cache:  expirable.NewLRU[resultsCacheKey, any](resultsCacheSize, nil, resultsCacheTTL),
	}
}

// FinalOrder ranks the topic's operators by weighted win rate.
func (s *ResultsService) FinalOrder(ctx domain.Context, topicID string) (*FinalOrderResult, error) {
	topic, err := s.Topics.Get(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if !topic.Type.SupportsFinalOrder() {
		return nil, domain.ErrUnsupportedTopicType
	}

	key := resultsCacheKey{topicID: topic.ID, kind: kindFinalOrder}
	if v, ok := s.cache.Get(key); ok {
		if cached, ok := v.(*FinalOrderResult); ok {
			return cached, nil
		}
	}

	pool, err := s.Topics.CandidatePool(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, domain.ErrTopicNotFound
	}

	tallies, total, err := s.Store.FinalOrderStats(ctx, topicID, pool)
	if err != nil {
		return nil, err
	}

	type row struct {
		id    int32
		name  string
		win   int64
		lose  int64
		score float64
		rate  float64
	}
	rows := make([]row, 0, len(pool))
	for _, id := range pool {
		wl := tallies[id]
		name, ok := s.Topics.OperatorName(id)
		if !ok {
			name = fmt.Sprintf("Unknown Operator %d", id)
		}
		r := row{id: id, name: name, win: wl.Win, lose: wl.Lose}
		if totalGames := wl.Win + wl.Lose; totalGames > 0 {
			r.rate = float64(wl.Win) * 100.0 / float64(totalGames)
		}
		r.score = float64(wl.Win-wl.Lose) / 100.0
		rows = append(rows, r)
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.rate != b.rate {
			return a.rate > b.rate
		}
		if a.score != b.score {
			return a.score > b.score
		}
		if a.win != b.win {
			return a.win > b.win
		}
		return a.id < b.id
	})

	result := &FinalOrderResult{
		TopicID: topicID,
		Items:   make([]FinalOrderItem, 0, len(rows)),
		Count:   total,
	}
	for _, r := range rows {
		result.Items = append(result.Items, FinalOrderItem{
			Name:  r.name,
			ID:    r.id,
			Win:   r.win,
			Lose:  r.lose,
			Score: fmt.Sprintf("%.2f", r.score),
			Rate:  fmt.Sprintf("%.1f%%", r.rate),
		})
	}

	s.cache.Add(key, result)
	return result, nil
}

// Matrix1v1 returns the head-to-head matrix joined with the encounter
// counter.
func (s *ResultsService) Matrix1v1(ctx domain.Context, topicID string) (MatrixResult, error) {
	topic, err := s.Topics.Get(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if !topic.Type.Supports1v1Matrix() {
		return nil, domain.ErrUnsupportedTopicType
	}

	key := resultsCacheKey{topicID: topic.ID, kind: kindMatrix}
	if v, ok := s.cache.Get(key); ok {
		if cached, ok := v.(MatrixResult); ok {
			return cached, nil
		}
	}

	matrix, err := s.Store.MatrixAll(ctx, topicID)
	if err != nil {
		return nil, err
	}
	counter, err := s.Store.CounterAll(ctx, topicID)
	if err != nil {
		return nil, err
	}

	result := make(MatrixResult, len(matrix))
	for field, score := range matrix {
		result[field] = MatrixItem{
			Score: score,
			Count: counter[counterField(field)],
		}
	}

	s.cache.Add(key, result)
	return result, nil
}

// counterField normalizes a matrix field "a:b" to the low:high form
// the encounter counter uses.
func counterField(field string) string {
	parts := strings.SplitN(field, ":", 2)
	if len(parts) != 2 {
		return field
	}
	a, errA := strconv.ParseInt(parts[0], 10, 64)
	b, errB := strconv.ParseInt(parts[1], 10, 64)
	if errA != nil || errB != nil {
		if parts[0] <= parts[1] {
			return parts[0] + ":" + parts[1]
		}
		return parts[1] + ":" + parts[0]
	}
	if a <= b {
		return parts[0] + ":" + parts[1]
	}
	return parts[1] + ":" + parts[0]
}
