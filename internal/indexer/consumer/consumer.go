// Package consumer reads rebuild requests from Kafka and drives the
// indexer engine, so operators can reload every replica from one message.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/kafka"
)

// RebuildRequest is the message value on the rebuild-requests topic. Every
// field is optional; an empty object rebuilds every replica.
type RebuildRequest struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
	// Host, when set, limits the request to one replica.
	Host string `json:"host"`
}

// Rebuilder is the part of indexer.Engine the consumer calls.
type Rebuilder interface {
	Rebuild(ctx context.Context) (indexer.BuildRecord, error)
}

// RebuildConsumer wraps a Kafka consumer to drive index rebuilds.
type RebuildConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates a RebuildConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *RebuildConsumer {
	return &RebuildConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "rebuild-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (rc *RebuildConsumer) Start(ctx context.Context) error {
	rc.logger.Info("rebuild consumer starting")
	return rc.consumer.Start(ctx)
}

// Close leaves the consumer group so partitions are reassigned promptly.
func (rc *RebuildConsumer) Close() error {
	rc.logger.Info("rebuild consumer closing")
	return rc.consumer.Close()
}

// HandleMessage returns a Kafka MessageHandler that rebuilds the index for
// each request addressed to host. Undecodable messages are logged and
// committed. A failed rebuild is returned and logged by the consumer; it is
// not retried, and the live generation keeps serving.
func HandleMessage(engine Rebuilder, host string) kafka.MessageHandler {
	logger := slog.Default().With("component", "rebuild-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		req, err := kafka.DecodeJSON[RebuildRequest](value)
		if err != nil {
			logger.Error("failed to decode rebuild request",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if req.Host != "" && req.Host != host {
			logger.Debug("rebuild request for another replica", "target", req.Host)
			return nil
		}
		logger.Info("rebuild requested",
			"reason", req.Reason,
			"requested_by", req.RequestedBy,
		)
		rec, err := engine.Rebuild(ctx)
		if err != nil {
			return fmt.Errorf("rebuild requested by %q: %w", req.RequestedBy, err)
		}
		logger.Info("rebuild request served",
			"generation", rec.Generation,
			"docs", rec.Stats.Docs,
		)
		return nil
	}
}
