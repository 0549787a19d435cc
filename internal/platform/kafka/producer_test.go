package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"webkart/internal/platform/config"
	"webkart/pkg/platform/outbox"
)

type recordingProducer struct {
	records []*kgo.Record
	err     error
}

func (r *recordingProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	r.records = append(r.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, rec := range rs {
		results = append(results, kgo.ProduceResult{Record: rec, Err: r.err})
	}
	return results
}

func TestProducer_Publish(t *testing.T) {
	entryID := uuid.New()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	entry := outbox.Entry{
		ID:            entryID,
		AggregateType: "report",
		AggregateID:   "rep-1",
		EventType:     "report.submitted",
		Topic:         "webkart.reports",
		Payload:       []byte(`{"reason":"spam"}`),
		CreatedAt:     created,
	}

	t.Run("maps entry onto record", func(t *testing.T) {
		fake := &recordingProducer{}
		p := &Producer{client: fake}

		require.NoError(t, p.Publish(context.Background(), entry))
		require.Len(t, fake.records, 1)

		rec := fake.records[0]
		assert.Equal(t, "webkart.reports", rec.Topic)
		assert.Equal(t, []byte("rep-1"), rec.Key)
		assert.Equal(t, entry.Payload, rec.Value)
		assert.Equal(t, created, rec.Timestamp)
		assert.Contains(t, rec.Headers, kgo.RecordHeader{Key: HeaderEntryID, Value: []byte(entryID.String())})
		assert.Contains(t, rec.Headers, kgo.RecordHeader{Key: HeaderEventType, Value: []byte("report.submitted")})
	})

	t.Run("broker failure is returned", func(t *testing.T) {
		fake := &recordingProducer{err: errors.New("not leader")}
		p := &Producer{client: fake}

		err := p.Publish(context.Background(), entry)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not leader")
	})
}

func TestNewClient_RequiresBrokers(t *testing.T) {
	_, err := NewClient(config.Kafka{ClientID: "webkart"})
	assert.Error(t, err)
}
