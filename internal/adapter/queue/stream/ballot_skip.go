package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ark-vote/internal/adapter/kv/redisstore"
	"github.com/fairyhunter13/ark-vote/internal/usecase"
)

// SkipHandler deletes the challenge keys of skipped ballots in batches.
type SkipHandler struct {
	store *redisstore.Store
	lg    *slog.Logger
}

// NewSkipHandler constructs a SkipHandler.
func NewSkipHandler(store *redisstore.Store, lg *slog.Logger) *SkipHandler {
	return &SkipHandler{store: store, lg: lg}
}

// Subject implements BatchHandler.
func (h *SkipHandler) Subject() string { return SubjectBallotSkip }

// HandleBatch implements BatchHandler.
func (h *SkipHandler) HandleBatch(ctx context.Context, recs []*kgo.Record) []error {
	return deleteChallengeKeys(ctx, h.store, h.lg, recs, "op=stream.Skip")
}

func deleteChallengeKeys(ctx context.Context, store *redisstore.Store, lg *slog.Logger, recs []*kgo.Record, op string) []error {
	errs := make([]error, len(recs))

	var keys []string
	var idxs []int
	for i, rec := range recs {
		var msg usecase.SkipMessage
		if err := json.Unmarshal(rec.Value, &msg); err != nil {
			lg.Warn("dropping undecodable message", slog.Any("error", err))
			continue
		}
		if msg.TopicID == "" || msg.BallotID == "" {
			continue
		}
		keys = append(keys, redisstore.BallotKey(msg.TopicID, msg.BallotID))
		idxs = append(idxs, i)
	}
	if len(keys) == 0 {
		return errs
	}
	if err := store.DelMultiple(ctx, keys); err != nil {
		for _, idx := range idxs {
			errs[idx] = fmt.Errorf("%s: %w", op, err)
		}
	}
	return errs
}
