package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ark-vote/internal/adapter/kv/redisstore"
	"github.com/fairyhunter13/ark-vote/internal/domain"
)

type memArchive struct {
	mu      sync.Mutex
	batches map[string][]domain.StoredBallot
}

func newMemArchive() *memArchive {
	return &memArchive{batches: make(map[string][]domain.StoredBallot)}
}

func (m *memArchive) InsertBatch(_ domain.Context, topicID string, ballots []domain.StoredBallot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[topicID] = append(m.batches[topicID], ballots...)
	return nil
}

func (m *memArchive) get(topicID string) []domain.StoredBallot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.StoredBallot(nil), m.batches[topicID]...)
}

func newTestAggregator(t *testing.T) (*Aggregator, *memArchive, *miniredis.Miniredis) {
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
	archive := newMemArchive()
	agg := New(store, archive, Config{QueueSize: 1000, LowMultiplier: 20}, slog.Default())
	return agg, archive, mr
}

func pairwiseBallot(topicID string, win, lose int32, ip string) domain.Ballot {
	return domain.Ballot{
		TopicType: domain.TopicPairwise.WireName(),
		Info: domain.BallotInfo{
			TopicID:   topicID,
			BallotID:  "b-" + ip,
			IP:        ip,
			UserAgent: "test",
			Timestamp: time.Now().Unix(),
		},
		Win:  win,
		Lose: lose,
	}
}

func TestSubmitAndFlushOnClose(t *testing.T) {
	agg, archive, mr := newTestAggregator(t)

	require.NoError(t, agg.Submit(pairwiseBallot("t1", 10, 20, "1.1.1.1")))
	require.NoError(t, agg.Submit(pairwiseBallot("t1", 10, 20, "2.2.2.2")))
	require.NoError(t, agg.Submit(pairwiseBallot("t1", 20, 10, "1.1.1.1")))
	agg.Close()

	count, err := mr.Get("t1:valid_ballots_count")
	require.NoError(t, err)
	assert.Equal(t, "3", count)
	assert.Equal(t, "200", mr.HGet("t1:op_stats", "10:win"))
	assert.Equal(t, "100", mr.HGet("t1:op_stats", "10:lose"))
	assert.Equal(t, "3", mr.HGet("t1:op_counter", "10:20"))

	stored := archive.get("t1")
	require.Len(t, stored, 3)
	for _, sb := range stored {
		assert.Equal(t, int32(100), sb.Multiplier)
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	agg, _, _ := newTestAggregator(t)
	agg.Close()
	err := agg.Submit(pairwiseBallot("t1", 10, 20, "1.1.1.1"))
	assert.ErrorIs(t, err, domain.ErrQueueFull)
}

func TestNonPairwiseArchivedWithoutScoring(t *testing.T) {
	agg, archive, mr := newTestAggregator(t)

	b := domain.Ballot{
		TopicType: domain.TopicPlurality.WireName(),
		Info: domain.BallotInfo{
			TopicID:  "t2",
			BallotID: "b1",
			IP:       "1.1.1.1",
		},
		Candidates: []int32{1, 2, 3},
		Selected:   2,
	}
	require.NoError(t, agg.Submit(b))
	agg.Close()

	stored := archive.get("t2")
	require.Len(t, stored, 1)
	assert.Equal(t, int32(1), stored[0].Multiplier)
	// no scoring state for archive-only topic types
	assert.False(t, mr.Exists("t2:valid_ballots_count"))
}

func TestBuffersThreshold(t *testing.T) {
	var bufs buffers
	for i := 0; i < batchThreshold-1; i++ {
		bufs.add(pairwiseBallot("t1", 10, 20, "1.1.1.1"))
	}
	assert.False(t, bufs.needProcess())
	bufs.add(pairwiseBallot("t1", 10, 20, "1.1.1.1"))
	assert.True(t, bufs.needProcess())

	taken := bufs.takeAll()
	assert.Equal(t, batchThreshold, taken.total())
	assert.Zero(t, bufs.total())
}

func TestIPMultipliersDistinct(t *testing.T) {
	agg, _, _ := newTestAggregator(t)
	defer agg.Close()

	ballots := []domain.Ballot{
		pairwiseBallot("t1", 10, 20, "1.1.1.1"),
		pairwiseBallot("t1", 20, 10, "1.1.1.1"),
		pairwiseBallot("t1", 10, 20, "2.2.2.2"),
	}
	multipliers, err := agg.ipMultipliers(context.Background(), ballots)
	require.NoError(t, err)
	require.Len(t, multipliers, 2)
	assert.Equal(t, int32(100), multipliers["1.1.1.1"])
	assert.Equal(t, int32(100), multipliers["2.2.2.2"])
}
