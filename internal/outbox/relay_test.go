package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dejobratic/checkout/internal/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu        sync.Mutex
	records   []Record
	published map[string]bool
	lastError map[string]string
}

func newMemoryStore(records ...Record) *memoryStore {
	return &memoryStore{records: records, published: map[string]bool{}, lastError: map[string]string{}}
}

func (s *memoryStore) Relay(ctx context.Context, limit int, publish func(context.Context, Record) error) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Stats
	for i := range s.records {
		if stats.Published+stats.Failed == limit {
			break
		}
		rec := &s.records[i]
		if s.published[rec.ID] {
			continue
		}
		rec.Attempts++
		if err := publish(ctx, *rec); err != nil {
			s.lastError[rec.ID] = err.Error()
			stats.Failed++
			return stats, nil
		}
		s.published[rec.ID] = true
		delete(s.lastError, rec.ID)
		stats.Published++
	}
	return stats, nil
}

func (s *memoryStore) Pending(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records) - len(s.published)), nil
}

type flakyPublisher struct {
	mu       sync.Mutex
	failures map[string]int
	sent     []kafka.Message
}

func (p *flakyPublisher) Publish(_ context.Context, msg kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures[msg.Key] > 0 {
		p.failures[msg.Key]--
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func record(id, topic, key string, at time.Time) Record {
	return Record{ID: id, Topic: topic, Key: key, Payload: []byte(`{"order_id":"` + key + `"}`), OccurredAt: at}
}

func fastConfig() Config {
	return Config{
		PollInterval:    10 * time.Millisecond,
		BatchSize:       10,
		MaxRetryElapsed: 50 * time.Millisecond,
		InitialBackoff:  time.Millisecond,
	}
}

func TestRelayRunOnce(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	t.Run("publishes in order and updates metrics", func(t *testing.T) {
		store := newMemoryStore(
			record("e1", "order.placed", "ORD-1", t0),
			record("e2", "payment.succeeded", "ORD-1", t0.Add(time.Second)),
		)
		publisher := &flakyPublisher{}
		reg := prometheus.NewRegistry()
		metrics, err := NewMetrics(reg)
		require.NoError(t, err)

		relay := NewRelay(store, publisher, metrics, nil, fastConfig())

		stats, err := relay.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Published: 2}, stats)

		require.Len(t, publisher.sent, 2)
		assert.Equal(t, "order.placed", publisher.sent[0].Topic)
		assert.Equal(t, "payment.succeeded", publisher.sent[1].Topic)
		assert.Equal(t, "ORD-1", publisher.sent[0].Key)
		assert.Equal(t, t0, publisher.sent[0].Time)

		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.published.WithLabelValues("order.placed")))
		assert.Equal(t, float64(0), testutil.ToFloat64(metrics.backlog))
	})

	t.Run("retries transient failures", func(t *testing.T) {
		store := newMemoryStore(record("e1", "order.placed", "ORD-1", t0))
		publisher := &flakyPublisher{failures: map[string]int{"ORD-1": 2}}

		stats, err := NewRelay(store, publisher, nil, nil, fastConfig()).RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Published: 1}, stats)
		assert.Len(t, publisher.sent, 1)
	})

	t.Run("gives up and keeps later events queued", func(t *testing.T) {
		store := newMemoryStore(
			record("e1", "order.placed", "ORD-1", t0),
			record("e2", "order.placed", "ORD-2", t0.Add(time.Second)),
		)
		publisher := &flakyPublisher{failures: map[string]int{"ORD-1": 1000}}
		reg := prometheus.NewRegistry()
		metrics, err := NewMetrics(reg)
		require.NoError(t, err)

		stats, err := NewRelay(store, publisher, metrics, nil, fastConfig()).RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Failed: 1}, stats)
		assert.Empty(t, publisher.sent)
		assert.Contains(t, store.lastError["e1"], "broker unavailable")
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.failed.WithLabelValues("order.placed")))
		assert.Equal(t, float64(2), testutil.ToFloat64(metrics.backlog))

		publisher.failures["ORD-1"] = 0
		stats, err = NewRelay(store, publisher, metrics, nil, fastConfig()).RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Published: 2}, stats)
	})
}

func TestRelayRun(t *testing.T) {
	store := newMemoryStore(record("e1", "order.cancelled", "ORD-9", time.Now()))
	publisher := &flakyPublisher{}
	relay := NewRelay(store, publisher, nil, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := relay.Start(ctx)

	require.Eventually(t, func() bool {
		pending, _ := store.Pending(context.Background())
		return pending == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancellation")
	}
}

type blockingPublisher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingPublisher) Publish(context.Context, kafka.Message) error {
	p.once.Do(func() { close(p.started) })
	<-p.release
	return nil
}

func (p *blockingPublisher) Close() error { return nil }

func TestRelayStartWaitsForPassInFlight(t *testing.T) {
	store := newMemoryStore(record("e1", "order.placed", "ORD-1", time.Now()))
	publisher := &blockingPublisher{started: make(chan struct{}), release: make(chan struct{})}
	relay := NewRelay(store, publisher, nil, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := relay.Start(ctx)

	<-publisher.started
	cancel()

	select {
	case <-done:
		t.Fatal("relay reported stopped while a publish was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(publisher.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after the pass finished")
	}
}

func TestNewMetricsRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	require.Error(t, err)
}
