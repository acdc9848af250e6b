package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ark-vote/internal/domain"
	"github.com/fairyhunter13/ark-vote/internal/observability"
)

const (
	maxBatchRecords = 100
	fetchErrorSleep = 5 * time.Second
)

// BatchHandler processes one fetched batch from a single subject. The
// returned slice aligns with recs; a nil entry means handled, anything
// else sends the record through the retry ladder. Handlers own the
// decision to swallow malformed payloads instead of failing them.
type BatchHandler interface {
	Subject() string
	HandleBatch(ctx context.Context, recs []*kgo.Record) []error
}

// Consumer owns one subject: a dedicated client and poll loop per
// handler, so a slow batch on one subject never stalls another.
type Consumer struct {
	client  *kgo.Client
	subject string
	handler BatchHandler
	retry   *RetryManager
	lg      *slog.Logger
}

// NewConsumer constructs a Consumer for the handler's subject with its
// own consumer group, named after the subject.
func NewConsumer(brokers []string, handler BatchHandler, retry *RetryManager, lg *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=stream.NewConsumer: no seed brokers provided")
	}
	if handler == nil {
		return nil, fmt.Errorf("op=stream.NewConsumer: no handler registered")
	}

	subject := handler.Subject()
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(subject+"-consumer"),
		kgo.ConsumeTopics(subject),
		kgo.DisableAutoCommit(),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxBytes(10*1024*1024),
	)
	if err != nil {
		return nil, fmt.Errorf("op=stream.NewConsumer %s: %w", subject, err)
	}
	return &Consumer{client: client, subject: subject, handler: handler, retry: retry, lg: lg}, nil
}

// Subject reports which subject this consumer drains.
func (c *Consumer) Subject() string { return c.subject }

// Run polls until ctx ends. Records that fail their handler are handed
// to the retry ladder and committed anyway; the ladder owns redelivery.
func (c *Consumer) Run(ctx context.Context) {
	for {
		fetches := c.client.PollRecords(ctx, maxBatchRecords)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				c.lg.Error("fetch failed", slog.String("subject", fe.Topic), slog.Any("error", fe.Err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchErrorSleep):
			}
			continue
		}

		var recs []*kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			recs = append(recs, rec)
		})
		if len(recs) > 0 {
			c.dispatch(ctx, recs)
		}

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.lg.Error("offset commit failed", slog.Any("error", err))
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, recs []*kgo.Record) {
	results := c.handler.HandleBatch(ctx, recs)
	for i, rec := range recs {
		var handleErr error
		if i < len(results) {
			handleErr = results[i]
		}
		if handleErr == nil {
			observability.ConsumerMessagesTotal.WithLabelValues(c.subject, "ok").Inc()
			continue
		}
		observability.ConsumerMessagesTotal.WithLabelValues(c.subject, "error").Inc()
		if !domain.NeedsDLQ(handleErr) {
			c.lg.Warn("dropping unretryable record",
				slog.String("subject", c.subject), slog.Any("error", handleErr))
			continue
		}
		c.retry.Reroute(ctx, rec, handleErr)
	}
}

// Close shuts the underlying client down.
func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
