package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ark-vote/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, ScoreConfig{
		BaseMultiplier:  100,
		LowMultiplier:   20,
		MaxIPLimit:      3,
		IPCounterExpire: 86400,
	}), mr
}

func TestBallotChallengeRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBallotChallenge(ctx, "t1", "b1", "10,20", 24*time.Hour))

	val, err := s.GetDelBallotChallenge(ctx, "t1", "b1")
	require.NoError(t, err)
	assert.Equal(t, "10,20", val)

	// second redemption must miss
	_, err = s.GetDelBallotChallenge(ctx, "t1", "b1")
	assert.ErrorIs(t, err, domain.ErrBallotNotFound)
}

func TestBatchIPMultipliersCap(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	key := IPCounterKey("t1", "1.2.3.4")
	keys := []string{key, key, key, key, key}
	mults, err := s.BatchIPMultipliers(ctx, keys)
	require.NoError(t, err)
	require.Len(t, mults, 5)
	// first three within the cap, then throttled
	assert.Equal(t, []int64{100, 100, 100, 20, 20}, mults)
}

func TestBatchScoreUpdate(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	err := s.BatchScoreUpdate(ctx, []ScoreUpdate{
		{TopicID: "t1", Win: 10, Lose: 20, Multiplier: 100},
		{TopicID: "t1", Win: 20, Lose: 10, Multiplier: 20},
	})
	require.NoError(t, err)

	assert.Equal(t, "100", mr.HGet("t1:op_stats", "10:win"))
	assert.Equal(t, "20", mr.HGet("t1:op_stats", "10:lose"))
	assert.Equal(t, "80", mr.HGet("t1:op_matrix", "10:20"))
	assert.Equal(t, "-80", mr.HGet("t1:op_matrix", "20:10"))

	count, err := mr.Get("t1:valid_ballots_count")
	require.NoError(t, err)
	assert.Equal(t, "2", count)
}

func TestBatchRecord1v1NormalizesPairs(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	err := s.BatchRecord1v1(ctx, []MatchPair{
		{TopicID: "t1", A: 20, B: 10},
		{TopicID: "t1", A: 10, B: 20},
	})
	require.NoError(t, err)

	assert.Equal(t, "2", mr.HGet("t1:op_counter", "10:20"))
}

func TestFinalOrderStats(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BatchScoreUpdate(ctx, []ScoreUpdate{
		{TopicID: "t1", Win: 10, Lose: 20, Multiplier: 100},
		{TopicID: "t1", Win: 10, Lose: 20, Multiplier: 100},
		{TopicID: "t1", Win: 20, Lose: 10, Multiplier: 100},
	}))

	tallies, total, err := s.FinalOrderStats(ctx, "t1", []int32{10, 20, 30})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, WinLose{Win: 200, Lose: 100}, tallies[10])
	assert.Equal(t, WinLose{Win: 100, Lose: 200}, tallies[20])
	// never seen, reads as zero
	assert.Equal(t, WinLose{}, tallies[30])
}

func TestGetDelMany(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	mr.Set("k1", "v1")
	mr.Set("k3", "v3")

	vals, err := s.GetDelMany(ctx, []string{"k1", "k2", "k3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "", "v3"}, vals)
	assert.False(t, mr.Exists("k1"))
	assert.False(t, mr.Exists("k3"))
}

func TestDelMultiple(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	mr.Set("k1", "v1")
	mr.Set("k2", "v2")

	require.NoError(t, s.DelMultiple(ctx, []string{"k1", "k2", "missing"}))
	assert.False(t, mr.Exists("k1"))
	assert.False(t, mr.Exists("k2"))
}

func TestMatrixAndCounterAll(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	mr.HSet("t1:op_matrix", "10:20", "80")
	mr.HSet("t1:op_matrix", "20:10", "-80")
	mr.HSet("t1:op_counter", "10:20", "2")

	matrix, err := s.MatrixAll(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(80), matrix["10:20"])
	assert.Equal(t, int64(-80), matrix["20:10"])

	counter, err := s.CounterAll(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counter["10:20"])
}
