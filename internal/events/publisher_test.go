package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/resilience"
)

type fakeWriter struct {
	mu     sync.Mutex
	events []kafka.Event
	fail   int
}

func (f *fakeWriter) Publish(_ context.Context, event kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("broker unavailable")
	}
	f.events = append(f.events, event)
	return nil
}

func fastPublisher(w Writer) *Publisher {
	p := NewPublisher(w, "replica-1", nil)
	p.retry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return p
}

func TestPublishCarriesBuildRecord(t *testing.T) {
	w := &fakeWriter{}
	p := fastPublisher(w)
	rec := indexer.BuildRecord{
		Generation: 7,
		Origin:     indexer.OriginSnapshot,
		Source:     "data/index.zsx",
		Stats:      index.Stats{Docs: 2, Terms: 3, TermDocPairs: 5},
		Duration:   250 * time.Millisecond,
	}
	if err := p.IndexReplaced(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if len(w.events) != 1 {
		t.Fatalf("events = %d", len(w.events))
	}
	got := w.events[0].Value.(IndexRebuilt)
	if w.events[0].Key != "replica-1" || got.Generation != 7 || got.Origin != "snapshot" ||
		got.TermDocPairs != 5 || got.DurationMs != 250 {
		t.Fatalf("event = %+v", got)
	}
}

func TestPublishRetriesTransientFailure(t *testing.T) {
	w := &fakeWriter{fail: 2}
	if err := fastPublisher(w).IndexReplaced(context.Background(), indexer.BuildRecord{Generation: 1}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(w.events) != 1 {
		t.Fatalf("events = %d", len(w.events))
	}
}

func TestPublishBreakerOpens(t *testing.T) {
	w := &fakeWriter{fail: 1000}
	p := fastPublisher(w)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := p.IndexReplaced(ctx, indexer.BuildRecord{Generation: uint64(i)}); err == nil {
			t.Fatal("expected failure")
		}
	}
	err := p.IndexReplaced(ctx, indexer.BuildRecord{Generation: 9})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
}

func TestBreakerStateExported(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	p := NewPublisher(&fakeWriter{fail: 1000}, "replica-1", m)
	p.retry = resilience.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond}
	gauge := m.CircuitBreakerState.WithLabelValues(breakerName)
	if v := testutil.ToFloat64(gauge); v != 0 {
		t.Fatalf("initial state = %v", v)
	}
	for i := 0; i < 3; i++ {
		p.IndexReplaced(context.Background(), indexer.BuildRecord{})
	}
	if v := testutil.ToFloat64(gauge); v != float64(resilience.StateOpen) {
		t.Fatalf("state = %v, want open", v)
	}
}
