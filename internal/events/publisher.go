// Package events announces new index generations on Kafka.
package events

import (
	"context"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/resilience"
)

// IndexRebuilt is the value published for every generation that starts
// serving.
type IndexRebuilt struct {
	Host          string    `json:"host"`
	Generation    uint64    `json:"generation"`
	Origin        string    `json:"origin"`
	Source        string    `json:"source"`
	Docs          int       `json:"docs"`
	Terms         int       `json:"terms"`
	TermDocPairs  int       `json:"term_doc_pairs"`
	SnapshotBytes int       `json:"snapshot_bytes"`
	SnapshotError string    `json:"snapshot_error,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

const breakerName = "kafka-index-rebuilt"

// Writer is satisfied by *kafka.Producer.
type Writer interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher implements indexer.Notifier. A circuit breaker stops a Kafka
// outage from adding retry latency to every rebuild.
type Publisher struct {
	writer  Writer
	host    string
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	timeout time.Duration
}

// NewPublisher wraps w. When m is non-nil the breaker state is exported as
// circuit_breaker_state{name="kafka-index-rebuilt"}.
func NewPublisher(w Writer, host string, m *metrics.Metrics) *Publisher {
	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	}
	if m != nil {
		m.CircuitBreakerState.WithLabelValues(breakerName).Set(float64(resilience.StateClosed))
		cbCfg.OnStateChange = func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &Publisher{
		writer:  w,
		host:    host,
		breaker: resilience.NewCircuitBreaker(breakerName, cbCfg),
		retry:   resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond},
		timeout: 5 * time.Second,
	}
}

func (p *Publisher) IndexReplaced(ctx context.Context, rec indexer.BuildRecord) error {
	event := kafka.Event{
		Key: p.host,
		Value: IndexRebuilt{
			Host:          p.host,
			Generation:    rec.Generation,
			Origin:        string(rec.Origin),
			Source:        rec.Source,
			Docs:          rec.Stats.Docs,
			Terms:         rec.Stats.Terms,
			TermDocPairs:  rec.Stats.TermDocPairs,
			SnapshotBytes: rec.SnapshotBytes,
			SnapshotError: rec.SnapshotError,
			DurationMs:    rec.Duration.Milliseconds(),
			Timestamp:     time.Now().UTC(),
		},
	}
	return p.breaker.Execute(func() error {
		return resilience.Retry(ctx, "publish-index-rebuilt-"+strconv.FormatUint(rec.Generation, 10), p.retry, func() error {
			return resilience.WithTimeout(ctx, p.timeout, "publish", func(ctx context.Context) error {
				return p.writer.Publish(ctx, event)
			})
		})
	})
}
