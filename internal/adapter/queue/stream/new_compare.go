package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ark-vote/internal/adapter/kv/redisstore"
	"github.com/fairyhunter13/ark-vote/internal/domain"
	"github.com/fairyhunter13/ark-vote/internal/usecase"
)

// NewCompareHandler serves compare requests: messages carrying a
// ballot_id reclaim the stale challenge the edge republished, messages
// carrying a count pre-mint that many fresh challenges for load
// generators.
type NewCompareHandler struct {
	ballots usecase.BallotService
	store   *redisstore.Store
	lg      *slog.Logger
}

// NewNewCompareHandler constructs a NewCompareHandler.
func NewNewCompareHandler(ballots usecase.BallotService, store *redisstore.Store, lg *slog.Logger) *NewCompareHandler {
	return &NewCompareHandler{ballots: ballots, store: store, lg: lg}
}

// Subject implements BatchHandler.
func (h *NewCompareHandler) Subject() string { return SubjectNewCompare }

// HandleBatch implements BatchHandler. Requests for unknown or inactive
// topics are dropped; store failures retry.
func (h *NewCompareHandler) HandleBatch(ctx context.Context, recs []*kgo.Record) []error {
	errs := make([]error, len(recs))

	var staleKeys []string
	var staleIdxs []int
	for i, rec := range recs {
		var msg usecase.NewCompareMessage
		if err := json.Unmarshal(rec.Value, &msg); err != nil {
			h.lg.Warn("dropping undecodable compare request", slog.Any("error", err))
			continue
		}
		if msg.BallotID != "" {
			staleKeys = append(staleKeys, redisstore.BallotKey(msg.TopicID, msg.BallotID))
			staleIdxs = append(staleIdxs, i)
		}
		count := msg.Count
		if count <= 0 {
			if msg.BallotID != "" {
				continue
			}
			count = 1
		}
		for n := 0; n < count; n++ {
			if _, err := h.ballots.Create(ctx, msg.TopicID); err != nil {
				if errors.Is(err, domain.ErrTopicNotFound) ||
					errors.Is(err, domain.ErrTopicNotActive) ||
					errors.Is(err, domain.ErrUnsupportedTopicType) ||
					errors.Is(err, domain.ErrInsufficientOperators) {
					h.lg.Warn("dropping compare request",
						slog.String("topic_id", msg.TopicID),
						slog.Any("error", err))
					break
				}
				errs[i] = fmt.Errorf("op=stream.NewCompare mint: %w", err)
				break
			}
		}
	}

	if len(staleKeys) > 0 {
		if err := h.store.DelMultiple(ctx, staleKeys); err != nil {
			for _, idx := range staleIdxs {
				errs[idx] = fmt.Errorf("op=stream.NewCompare reclaim: %w", err)
			}
		}
	}
	return errs
}
