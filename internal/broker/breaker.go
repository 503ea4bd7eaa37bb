package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-saga/internal/util"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig configures a circuit breaker around a Publisher
type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// BreakerPublisher fails fast while the wrapped publisher keeps failing
type BreakerPublisher struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerPublisher wraps next in a circuit breaker
func NewBreakerPublisher(next Publisher, cfg BreakerConfig) *BreakerPublisher {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	logger := util.GetLogger()
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &BreakerPublisher{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Publish forwards msg unless the breaker is open
func (b *BreakerPublisher) Publish(ctx context.Context, msg Message) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Publish(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("publisher %s unavailable: %w", b.cb.Name(), err)
	}
	return err
}

// State returns the breaker state
func (b *BreakerPublisher) State() gobreaker.State {
	return b.cb.State()
}

// Close closes the wrapped publisher
func (b *BreakerPublisher) Close() error {
	return b.next.Close()
}
