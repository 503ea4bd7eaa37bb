package app

import (
	"context"
	"fmt"

	"ledger-saga/config"
	"ledger-saga/internal/api"
	"ledger-saga/internal/models"
	"ledger-saga/internal/outbox"
	"ledger-saga/internal/redisclient"
	"ledger-saga/internal/service"
	"ledger-saga/internal/store"
	"ledger-saga/internal/util"
	"ledger-saga/internal/worker"

	"go.uber.org/zap"
)

var (
	OrdersBinding   = Binding{Queue: "order_status_updates_queue", RoutingKey: models.TopicPaymentProcessed}
	PaymentsBinding = Binding{Queue: "payment_requests_queue", RoutingKey: models.TopicOrderCreated}
)

// RunOrders runs the orders service: its HTTP API, the outbox relay
// publishing order.created and the worker applying payment.processed
func RunOrders(ctx context.Context, cfg *config.Config) error {
	cleanup, err := setup(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	logger := util.GetLogger()
	logger.Info("Starting orders service")

	db, err := openStore(ctx, cfg, store.OrdersSchema)
	if err != nil {
		return err
	}
	defer db.Close()

	ready := []api.Pinger{db}
	var idempotency api.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer rc.Close()
		logger.Info("Redis connected")
		idempotency = rc
		ready = append(ready, rc)
	}

	publisher := NewPublisher(cfg)
	defer publisher.Close()

	orderService := service.NewOrderService(db)
	orderWorker := worker.NewOrderWorker(NewSubscriber(cfg, OrdersBinding), orderService, workerConfig(cfg, OrdersBinding))
	defer orderWorker.Stop()

	relay := outbox.NewRelay(db, publisher, relayConfig(cfg))
	router := api.NewRouter(api.NewOrderHandler(orderService, idempotency, cfg.Redis.IdempotencyTTL), ready...)

	err = Run(ctx, relay.Run, orderWorker.Start, HTTPServer(newServer(cfg, router), cfg.Server.ShutdownTimeout))
	logger.Info("Orders service exited", zap.Error(err))
	return err
}

// RunPayments runs the payments service: its HTTP API, the worker debiting
// accounts on order.created and the outbox relay publishing payment.processed
func RunPayments(ctx context.Context, cfg *config.Config) error {
	cleanup, err := setup(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	logger := util.GetLogger()
	logger.Info("Starting payments service")

	db, err := openStore(ctx, cfg, store.PaymentsSchema)
	if err != nil {
		return err
	}
	defer db.Close()

	publisher := NewPublisher(cfg)
	defer publisher.Close()

	paymentService := service.NewPaymentService(db)
	paymentWorker := worker.NewPaymentWorker(NewSubscriber(cfg, PaymentsBinding), paymentService, workerConfig(cfg, PaymentsBinding))
	defer paymentWorker.Stop()

	relay := outbox.NewRelay(db, publisher, relayConfig(cfg))
	router := api.NewRouter(api.NewPaymentHandler(paymentService), db)

	err = Run(ctx, relay.Run, paymentWorker.Start, HTTPServer(newServer(cfg, router), cfg.Server.ShutdownTimeout))
	logger.Info("Payments service exited", zap.Error(err))
	return err
}

func openStore(ctx context.Context, cfg *config.Config, schema store.Schema) (*store.Store, error) {
	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.EnsureSchema(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	util.GetLogger().Info("Database connected")
	return db, nil
}

func relayConfig(cfg *config.Config) outbox.Config {
	return outbox.Config{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
	}
}

func workerConfig(cfg *config.Config, b Binding) worker.Config {
	return worker.Config{
		Queue:         b.Queue,
		RetryAttempts: cfg.Handler.RetryAttempts,
		RetryBackoff:  cfg.Handler.RetryBackoff,
	}
}
