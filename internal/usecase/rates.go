package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ark-vote/internal/adapter/kv/redisstore"
	"github.com/fairyhunter13/ark-vote/internal/domain"
	"github.com/fairyhunter13/ark-vote/internal/topiccache"
)

const rateSampleInterval = time.Second

// RateSampler periodically snapshots every active pairwise topic's
// win/lose tallies into the operator_rates time series.
type RateSampler struct {
	Topics *topiccache.Service
	Store  *redisstore.Store
	Rates  domain.OperatorRateRepository
	Log    *slog.Logger
}

// NewRateSampler constructs a RateSampler.
func NewRateSampler(topics *topiccache.Service, store *redisstore.Store, rates domain.OperatorRateRepository, lg *slog.Logger) *RateSampler {
	return &RateSampler{Topics: topics, Store: store, Rates: rates, Log: lg}
}

// Run samples once a second until ctx ends. Failures are logged and
// the next tick tries again.
func (s *RateSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(rateSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sampleOnce(ctx); err != nil {
				s.Log.Error("operator rate sampling failed", slog.Any("error", err))
			}
		}
	}
}

func (s *RateSampler) sampleOnce(ctx context.Context) error {
	now := time.Now().UTC()
	for _, topicID := range s.Topics.ActiveTopicIDs() {
		topic, err := s.Topics.Get(ctx, topicID)
		if err != nil || topic.Type != domain.TopicPairwise || !topic.ActiveNow() {
			continue
		}
		pool, err := s.Topics.CandidatePool(ctx, topicID)
		if err != nil || len(pool) == 0 {
			continue
		}
		tallies, _, err := s.Store.FinalOrderStats(ctx, topicID, pool)
		if err != nil {
			return err
		}
		rates := buildRates(topicID, pool, tallies, now)
		if len(rates) == 0 {
			continue
		}
		if err := s.Rates.InsertBatch(ctx, rates); err != nil {
			return err
		}
	}
	return nil
}

func buildRates(topicID string, pool []int32, tallies map[int32]redisstore.WinLose, ts time.Time) []domain.OperatorRate {
	rates := make([]domain.OperatorRate, 0, len(pool))
	for _, id := range pool {
		wl := tallies[id]
		var rate float64
		if total := wl.Win + wl.Lose; total > 0 {
			rate = float64(wl.Win) * 100.0 / float64(total)
		}
		rates = append(rates, domain.OperatorRate{
			TS:         ts,
			TopicID:    topicID,
			OperatorID: id,
			Win:        wl.Win,
			Lose:       wl.Lose,
			Rate:       rate,
		})
	}
	return rates
}
