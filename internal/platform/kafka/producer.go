package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"webkart/pkg/platform/outbox"
)

// Header keys set on every relayed record.
const (
	HeaderEntryID   = "outbox-id"
	HeaderEventType = "event-type"
	HeaderAggregate = "aggregate-type"
)

// syncProducer is the part of *kgo.Client the Producer needs.
type syncProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Producer publishes outbox entries. Records are keyed by aggregate id so
// events of one session or report stay ordered within a partition.
type Producer struct {
	client syncProducer
}

func NewProducer(client *kgo.Client) *Producer {
	return &Producer{client: client}
}

// Publish implements outbox.Publisher.
func (p *Producer) Publish(ctx context.Context, entry outbox.Entry) error {
	rec := &kgo.Record{
		Topic:     entry.Topic,
		Key:       []byte(entry.AggregateID),
		Value:     entry.Payload,
		Timestamp: entry.CreatedAt,
		Headers: []kgo.RecordHeader{
			{Key: HeaderEntryID, Value: []byte(entry.ID.String())},
			{Key: HeaderEventType, Value: []byte(entry.EventType)},
			{Key: HeaderAggregate, Value: []byte(entry.AggregateType)},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce %s to %s: %w", entry.EventType, entry.Topic, err)
	}
	return nil
}
