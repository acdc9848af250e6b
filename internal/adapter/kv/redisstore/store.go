// Package redisstore implements the Redis-backed scoring state:
// ballot challenges, per-IP rate weighting, aggregate win/lose stats
// and the head-to-head matrix.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ark-vote/internal/domain"
)

// ScoreConfig tunes the IP-based vote weighting.
type ScoreConfig struct {
	BaseMultiplier  int32
	LowMultiplier   int32
	MaxIPLimit      int64
	IPCounterExpire int64 // seconds
}

// ScoreUpdate is one pairwise result to fold into a topic's stats.
type ScoreUpdate struct {
	TopicID    string
	Win        int32
	Lose       int32
	Multiplier int32
}

// MatchPair is one head-to-head encounter to count, regardless of outcome.
type MatchPair struct {
	TopicID string
	A       int32
	B       int32
}

// WinLose is an operator's accumulated weighted tally.
type WinLose struct {
	Win  int64
	Lose int64
}

// Store wraps a Redis client with the preloaded scoring scripts.
type Store struct {
	client *redis.Client
	cfg    ScoreConfig

	finalOrder  *redis.Script
	ipCounter   *redis.Script
	scoreUpdate *redis.Script
	record1v1   *redis.Script
	getDelMany  *redis.Script
	delMultiple *redis.Script
}

// New builds a Store around an existing client.
func New(client *redis.Client, cfg ScoreConfig) *Store {
	return &Store{
		client:      client,
		cfg:         cfg,
		finalOrder:  redis.NewScript(luaFinalOrder),
		ipCounter:   redis.NewScript(luaBatchIPCounter),
		scoreUpdate: redis.NewScript(luaBatchScoreUpdate),
		record1v1:   redis.NewScript(luaBatchRecord1v1),
		getDelMany:  redis.NewScript(luaGetDelMany),
		delMultiple: redis.NewScript(luaDelMultiple),
	}
}

// BallotKey is where an issued ballot challenge lives until redeemed.
func BallotKey(topicID, ballotID string) string {
	return topicID + ":ballot:" + ballotID
}

// IPCounterKey tracks submissions from one IP on one topic.
func IPCounterKey(topicID, ip string) string {
	return topicID + ":ip_counter:" + ip
}

// SetBallotChallenge stores the issued pair for later validation.
func (s *Store) SetBallotChallenge(ctx context.Context, topicID, ballotID, pair string, ttl time.Duration) error {
	if err := s.client.Set(ctx, BallotKey(topicID, ballotID), pair, ttl).Err(); err != nil {
		return fmt.Errorf("op=redisstore.SetBallotChallenge: %w", err)
	}
	return nil
}

// GetDelBallotChallenge atomically redeems a challenge. A missing or
// already-redeemed ballot yields domain.ErrBallotNotFound.
func (s *Store) GetDelBallotChallenge(ctx context.Context, topicID, ballotID string) (string, error) {
	val, err := s.client.GetDel(ctx, BallotKey(topicID, ballotID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrBallotNotFound
	}
	if err != nil {
		return "", fmt.Errorf("op=redisstore.GetDelBallotChallenge: %w", err)
	}
	return val, nil
}

// BatchIPMultipliers bumps each counter key and returns the multiplier
// to apply for the corresponding submission, index-aligned with keys.
func (s *Store) BatchIPMultipliers(ctx context.Context, keys []string) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	res, err := s.ipCounter.Run(ctx, s.client, keys,
		s.cfg.IPCounterExpire, s.cfg.MaxIPLimit, s.cfg.BaseMultiplier, s.cfg.LowMultiplier,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("op=redisstore.BatchIPMultipliers: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("op=redisstore.BatchIPMultipliers: unexpected script result %T", res)
	}
	out := make([]int64, len(vals))
	for i, v := range vals {
		out[i] = toInt64(v)
	}
	return out, nil
}

// BatchScoreUpdate folds weighted pairwise outcomes into the per-topic
// stats, matrix and valid ballot count in one round trip.
func (s *Store) BatchScoreUpdate(ctx context.Context, updates []ScoreUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(updates)*4)
	for _, u := range updates {
		args = append(args, u.TopicID, u.Win, u.Lose, u.Multiplier)
	}
	if err := s.scoreUpdate.Run(ctx, s.client, nil, args...).Err(); err != nil {
		return fmt.Errorf("op=redisstore.BatchScoreUpdate: %w", err)
	}
	return nil
}

// BatchRecord1v1 counts encounters in the head-to-head counter. Pairs
// are normalized so (a,b) and (b,a) share one field.
func (s *Store) BatchRecord1v1(ctx context.Context, pairs []MatchPair) error {
	if len(pairs) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(pairs)*3)
	for _, p := range pairs {
		low, high := p.A, p.B
		if low > high {
			low, high = high, low
		}
		args = append(args, p.TopicID, low, high)
	}
	if err := s.record1v1.Run(ctx, s.client, nil, args...).Err(); err != nil {
		return fmt.Errorf("op=redisstore.BatchRecord1v1: %w", err)
	}
	return nil
}

// FinalOrderStats reads the weighted tallies for the given operators
// plus the topic's valid ballot count, atomically.
func (s *Store) FinalOrderStats(ctx context.Context, topicID string, ids []int32) (map[int32]WinLose, int64, error) {
	fields := make([]interface{}, 0, len(ids)*2)
	for _, id := range ids {
		fields = append(fields, strconv.FormatInt(int64(id), 10)+":win")
		fields = append(fields, strconv.FormatInt(int64(id), 10)+":lose")
	}
	res, err := s.finalOrder.Run(ctx, s.client, []string{topicID}, fields...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("op=redisstore.FinalOrderStats: %w", err)
	}
	outer, ok := res.([]interface{})
	if !ok || len(outer) < 1 {
		return nil, 0, fmt.Errorf("op=redisstore.FinalOrderStats: unexpected script result %T", res)
	}
	stats, ok := outer[0].([]interface{})
	if !ok || len(stats) != len(ids)*2 {
		return nil, 0, fmt.Errorf("op=redisstore.FinalOrderStats: stats shape mismatch")
	}

	tallies := make(map[int32]WinLose, len(ids))
	for i, id := range ids {
		tallies[id] = WinLose{
			Win:  toInt64(stats[i*2]),
			Lose: toInt64(stats[i*2+1]),
		}
	}
	var total int64
	if len(outer) > 1 {
		total = toInt64(outer[1])
	}
	return tallies, total, nil
}

// GetDelMany atomically reads and deletes the given keys. Missing keys
// come back as empty strings at their index.
func (s *Store) GetDelMany(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	res, err := s.getDelMany.Run(ctx, s.client, keys).Result()
	if err != nil {
		return nil, fmt.Errorf("op=redisstore.GetDelMany: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("op=redisstore.GetDelMany: unexpected script result %T", res)
	}
	out := make([]string, len(keys))
	for i, v := range vals {
		if i >= len(out) {
			break
		}
		if sv, ok := v.(string); ok {
			out[i] = sv
		}
	}
	return out, nil
}

// DelMultiple deletes the given keys in one round trip.
func (s *Store) DelMultiple(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.delMultiple.Run(ctx, s.client, keys).Err(); err != nil {
		return fmt.Errorf("op=redisstore.DelMultiple: %w", err)
	}
	return nil
}

// MatrixAll returns the full head-to-head score matrix for a topic,
// keyed "winID:loseID".
func (s *Store) MatrixAll(ctx context.Context, topicID string) (map[string]int64, error) {
	return s.hashAll(ctx, topicID+":op_matrix", "MatrixAll")
}

// CounterAll returns the full encounter counter for a topic, keyed
// "lowID:highID".
func (s *Store) CounterAll(ctx context.Context, topicID string) (map[string]int64, error) {
	return s.hashAll(ctx, topicID+":op_counter", "CounterAll")
}

func (s *Store) hashAll(ctx context.Context, key, op string) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("op=redisstore.%s: %w", op, err)
	}
	out := make(map[string]int64, len(raw))
	for field, val := range raw {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case float64:
		return int64(t)
	}
	return 0
}
