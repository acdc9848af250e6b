package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ark-vote/internal/domain"
	"github.com/fairyhunter13/ark-vote/internal/observability"
)

// Retry ladder headers.
const (
	HeaderRetryCount     = "X-Retry-Count"
	HeaderFirstErrorTime = "X-First-error-Timestamp"
	HeaderLastError      = "X-Last-error"
)

const (
	maxRetries = 5
	retryDelay = 10 * time.Second
)

// RecordPublisher is the slice of Producer the retry ladder needs.
type RecordPublisher interface {
	PublishRecord(ctx domain.Context, rec *kgo.Record) error
}

// RetryManager reroutes failed records: bounded retries on the original
// subject, then the dead letter subject.
type RetryManager struct {
	pub RecordPublisher
	lg  *slog.Logger
}

// NewRetryManager constructs a RetryManager.
func NewRetryManager(pub RecordPublisher, lg *slog.Logger) *RetryManager {
	return &RetryManager{pub: pub, lg: lg}
}

func headerValue(rec *kgo.Record, key string) string {
	for _, h := range rec.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func retryCount(rec *kgo.Record) int {
	n, err := strconv.Atoi(headerValue(rec, HeaderRetryCount))
	if err != nil {
		return 0
	}
	return n
}

// NextRecord builds the record a failed message becomes: either a retry
// on its own subject with bumped ladder headers, or a dead letter
// wrapper. The second return reports the dead letter case.
func NextRecord(rec *kgo.Record, handleErr error, now time.Time) (*kgo.Record, bool, error) {
	count := retryCount(rec)
	firstTS, err := strconv.ParseInt(headerValue(rec, HeaderFirstErrorTime), 10, 64)
	if err != nil {
		firstTS = now.UnixMilli()
	}

	if count >= maxRetries {
		msg := domain.DeadLetterMessage{
			OriginalPayload:     base64.StdEncoding.EncodeToString(rec.Value),
			ErrorMessage:        handleErr.Error(),
			RetryCount:          count,
			FirstErrorTimestamp: firstTS,
			LastErrorTimestamp:  now.UnixMilli(),
			Subject:             rec.Topic,
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return nil, false, fmt.Errorf("op=stream.NextRecord marshal: %w", err)
		}
		return &kgo.Record{Topic: SubjectDLQ, Value: payload}, true, nil
	}

	return &kgo.Record{
		Topic: rec.Topic,
		Key:   rec.Key,
		Value: rec.Value,
		Headers: []kgo.RecordHeader{
			{Key: HeaderRetryCount, Value: []byte(strconv.Itoa(count + 1))},
			{Key: HeaderFirstErrorTime, Value: []byte(strconv.FormatInt(firstTS, 10))},
			{Key: HeaderLastError, Value: []byte(handleErr.Error())},
		},
	}, false, nil
}

// Reroute republishes a failed record per the ladder. Retries are
// delayed off the poll loop so a poison message cannot stall the
// consumer.
func (m *RetryManager) Reroute(ctx context.Context, rec *kgo.Record, handleErr error) {
	next, isDLQ, err := NextRecord(rec, handleErr, time.Now())
	if err != nil {
		m.lg.Error("retry reroute failed", slog.String("subject", rec.Topic), slog.Any("error", err))
		return
	}
	if isDLQ {
		observability.ConsumerDLQTotal.WithLabelValues(rec.Topic).Inc()
		m.lg.Warn("message exhausted retries, sending to dead letter subject",
			slog.String("subject", rec.Topic),
			slog.Int("retry_count", retryCount(rec)),
			slog.String("error", handleErr.Error()))
		if err := m.pub.PublishRecord(ctx, next); err != nil {
			m.lg.Error("dead letter publish failed", slog.String("subject", rec.Topic), slog.Any("error", err))
		}
		return
	}

	time.AfterFunc(retryDelay, func() {
		publishCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.pub.PublishRecord(publishCtx, next); err != nil {
			m.lg.Error("retry publish failed", slog.String("subject", rec.Topic), slog.Any("error", err))
		}
	})
}
