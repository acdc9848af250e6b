package stream

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ark-vote/internal/domain"
)

// DLQHandler archives dead letter messages to Mongo for inspection.
// Failures are logged but never retried: the dead letter subject is the
// end of the line.
type DLQHandler struct {
	repo domain.DeadLetterRepository
	lg   *slog.Logger
}

// NewDLQHandler constructs a DLQHandler.
func NewDLQHandler(repo domain.DeadLetterRepository, lg *slog.Logger) *DLQHandler {
	return &DLQHandler{repo: repo, lg: lg}
}

// Subject implements BatchHandler.
func (h *DLQHandler) Subject() string { return SubjectDLQ }

// HandleBatch implements BatchHandler.
func (h *DLQHandler) HandleBatch(ctx context.Context, recs []*kgo.Record) []error {
	for _, rec := range recs {
		var msg domain.DeadLetterMessage
		if err := json.Unmarshal(rec.Value, &msg); err != nil {
			h.lg.Error("undecodable dead letter message", slog.Any("error", err))
			continue
		}
		if err := h.repo.Insert(ctx, msg); err != nil {
			h.lg.Error("dead letter archive failed",
				slog.String("subject", msg.Subject),
				slog.Any("error", err))
		}
	}
	return make([]error, len(recs))
}
