package stream

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ark-vote/internal/domain"
)

// Producer wraps a Kafka producer and implements domain.Publisher.
type Producer struct {
	client *kgo.Client
}

// NewProducer constructs a Producer.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=stream.NewProducer: no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
		kgo.DialTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=stream.NewProducer: %w", err)
	}
	return &Producer{client: client}, nil
}

// Publish produces one payload to the subject and waits for the ack.
func (p *Producer) Publish(ctx domain.Context, subject string, payload []byte) error {
	rec := &kgo.Record{Topic: subject, Value: payload}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		slog.Error("produce failed", slog.String("subject", subject), slog.Any("error", err))
		return fmt.Errorf("op=stream.Publish subject=%s: %w", subject, err)
	}
	return nil
}

// PublishRecord produces a prepared record, headers included.
func (p *Producer) PublishRecord(ctx domain.Context, rec *kgo.Record) error {
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=stream.PublishRecord subject=%s: %w", rec.Topic, err)
	}
	return nil
}

// Close closes the producer.
func (p *Producer) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
