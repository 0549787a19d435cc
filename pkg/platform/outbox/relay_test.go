package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu      sync.Mutex
	failOn  string
	entries []Entry
}

func (p *fakePublisher) Publish(_ context.Context, e Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.EventType == p.failOn {
		return errors.New("broker unavailable")
	}
	p.entries = append(p.entries, e)
	return nil
}

func TestRelay_FlushPublishesInOrder(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	for _, ev := range []string{"first", "second", "third"} {
		require.NoError(t, store.Append(ctx, Entry{Topic: "webkart.reports", EventType: ev}))
	}

	pub := &fakePublisher{}
	metrics := NewMetrics(prometheus.NewRegistry())
	relay := NewRelay(store, pub, WithMetrics(metrics))

	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, pub.entries, 3)
	assert.Equal(t, "first", pub.entries[0].EventType)
	assert.Equal(t, "third", pub.entries[2].EventType)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.Published.WithLabelValues("webkart.reports")))

	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "published entries are not relayed twice")
}

func TestRelay_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	for _, ev := range []string{"ok", "poison", "later"} {
		require.NoError(t, store.Append(ctx, Entry{Topic: "webkart.reports", EventType: ev}))
	}

	pub := &fakePublisher{failOn: "poison"}
	relay := NewRelay(store, pub, WithBatchSize(10))

	n, err := relay.Flush(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, n)

	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "poison", pending[0].EventType)
	assert.Equal(t, "later", pending[1].EventType)

	pub.failOn = ""
	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewInMemoryStore()
	require.NoError(t, store.Append(ctx, Entry{Topic: "t", EventType: "e"}))
	pub := &fakePublisher{}

	done := make(chan struct{})
	go func() {
		NewRelay(store, pub).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		pending, _ := store.Pending(context.Background(), 1)
		return len(pending) == 0
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
