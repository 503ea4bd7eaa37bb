// Package outbox publishes committed outbox rows to the broker.
package outbox

import (
	"context"
	"fmt"
	"time"

	"ledger-saga/internal/broker"
	"ledger-saga/internal/store"
	"ledger-saga/internal/util"

	"go.uber.org/zap"
)

// Config controls the polling loop
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// Relay polls the outbox table and publishes unpublished rows. A row is
// marked published in the same transaction that claimed it, and only after
// the broker accepted it; a failed publish rolls the whole batch back so
// every row is retried on a later cycle.
type Relay struct {
	uow       store.UnitOfWork
	publisher broker.Publisher
	cfg       Config
	logger    *zap.Logger
}

// NewRelay creates a new outbox relay
func NewRelay(uow store.UnitOfWork, publisher broker.Publisher, cfg Config) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Relay{
		uow:       uow,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.GetLogger().With(zap.String("component", "outbox_relay")),
	}
}

// Run polls until ctx is done. A cycle already in progress is finished
// before Run returns.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("Starting outbox relay",
		zap.Duration("poll_interval", r.cfg.PollInterval),
		zap.Int("batch_size", r.cfg.BatchSize))

	for {
		wait := r.cfg.PollInterval
		if _, err := r.PublishPending(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error("Outbox cycle failed", zap.Error(err))
			wait = 2 * r.cfg.PollInterval
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return nil
		case <-time.After(wait):
		}
	}
}

// PublishPending runs one claim-publish-mark cycle and returns the number of
// rows published
func (r *Relay) PublishPending(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		util.OutboxCycleLatency.Observe(time.Since(start).Seconds())
	}()

	var published []string
	err := r.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		published = published[:0]

		messages, err := tx.Outbox().ClaimUnpublished(ctx, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to claim outbox rows: %w", err)
		}

		for _, m := range messages {
			err := r.publisher.Publish(ctx, broker.Message{
				ID:    m.ID.String(),
				Topic: m.Topic,
				Body:  m.Payload,
			})
			if err != nil {
				return fmt.Errorf("failed to publish outbox message %s: %w", m.ID, err)
			}

			if err := tx.Outbox().MarkPublished(ctx, m.ID); err != nil {
				return fmt.Errorf("failed to mark outbox message %s: %w", m.ID, err)
			}
			published = append(published, m.Topic)
		}
		return nil
	})
	if err != nil {
		util.OutboxCycleFailuresTotal.Inc()
		return 0, err
	}

	for _, topic := range published {
		util.OutboxPublishedTotal.WithLabelValues(topic).Inc()
	}
	if len(published) > 0 {
		r.logger.Info("Published outbox messages", zap.Int("count", len(published)))
	}

	return len(published), nil
}
