package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-saga/internal/broker"
	"ledger-saga/internal/models"
	"ledger-saga/internal/retry"
	"ledger-saga/internal/service"
	"ledger-saga/internal/store"
	"ledger-saga/internal/util"

	"go.uber.org/zap"
)

// Config controls handler retries
type Config struct {
	Queue         string
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Processor applies one delivery and reports whether it changed anything.
// It returns false for deliveries already applied.
type Processor func(ctx context.Context, d broker.Delivery) (bool, error)

// Worker consumes a queue and settles every delivery: ack after the effect
// commits, requeue once on a transient database failure, dead-letter
// everything else.
type Worker struct {
	subscriber broker.Subscriber
	process    Processor
	policy     retry.Policy
	queue      string
	logger     *zap.Logger
}

// New creates a worker around an arbitrary processor
func New(subscriber broker.Subscriber, process Processor, cfg Config) *Worker {
	return &Worker{
		subscriber: subscriber,
		process:    process,
		policy: retry.Policy{
			MaxAttempts: cfg.RetryAttempts,
			Backoff:     cfg.RetryBackoff,
			Retryable:   store.IsTransient,
		},
		queue:  cfg.Queue,
		logger: util.GetLogger().With(zap.String("queue", cfg.Queue)),
	}
}

// Start consumes until ctx is done
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker")
	return w.subscriber.Consume(ctx, w.Handle)
}

// Stop closes the subscription
func (w *Worker) Stop() error {
	w.logger.Info("Stopping worker")
	return w.subscriber.Close()
}

// Handle processes and settles one delivery. The effect runs to completion
// even if ctx is cancelled meanwhile.
func (w *Worker) Handle(ctx context.Context, d broker.Delivery) {
	ctx = context.WithoutCancel(ctx)
	logger := w.logger.With(
		zap.String("message_id", d.MessageID()),
		zap.String("topic", d.Topic()),
		zap.Bool("redelivered", d.Redelivered()))

	applied, err := w.run(ctx, d)

	var (
		outcome   string
		settleErr error
	)
	switch {
	case err == nil:
		outcome = util.OutcomeAck
		if !applied {
			outcome = util.OutcomeDuplicate
		}
		settleErr = d.Ack()
	case errors.Is(err, models.ErrMalformedMessage):
		outcome = util.OutcomeDeadLetter
		logger.Warn("Rejecting malformed message", zap.Error(err))
		settleErr = d.Reject()
	case store.IsTransient(err) && !d.Redelivered():
		outcome = util.OutcomeRequeue
		logger.Error("Transient failure, requeueing", zap.Error(err))
		settleErr = d.Requeue()
	default:
		outcome = util.OutcomeDeadLetter
		logger.Error("Failed to process message, dead-lettering", zap.Error(err))
		settleErr = d.Reject()
	}

	util.MessagesConsumedTotal.WithLabelValues(w.queue, outcome).Inc()
	if settleErr != nil {
		logger.Error("Failed to settle message", zap.String("outcome", outcome), zap.Error(settleErr))
	}
}

func (w *Worker) run(ctx context.Context, d broker.Delivery) (applied bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	err = w.policy.Do(ctx, func(ctx context.Context) error {
		var perr error
		applied, perr = w.process(ctx, d)
		return perr
	})
	return applied, err
}

// PaymentWorker consumes order.created and debits accounts
type PaymentWorker struct {
	*Worker
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(subscriber broker.Subscriber, paymentService *service.PaymentService, cfg Config) *PaymentWorker {
	process := func(ctx context.Context, d broker.Delivery) (bool, error) {
		req, err := DecodePaymentRequest(d)
		if err != nil {
			return false, err
		}
		return paymentService.ProcessPaymentRequest(ctx, req)
	}
	return &PaymentWorker{Worker: New(subscriber, process, cfg)}
}

// OrderWorker consumes payment.processed and settles orders
type OrderWorker struct {
	*Worker
}

// NewOrderWorker creates a new order worker
func NewOrderWorker(subscriber broker.Subscriber, orderService *service.OrderService, cfg Config) *OrderWorker {
	process := func(ctx context.Context, d broker.Delivery) (bool, error) {
		update, err := DecodeOrderStatusUpdate(d)
		if err != nil {
			return false, err
		}
		return orderService.UpdateOrderStatus(ctx, update)
	}
	return &OrderWorker{Worker: New(subscriber, process, cfg)}
}
