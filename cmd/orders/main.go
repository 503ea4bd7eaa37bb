package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"ledger-saga/config"
	"ledger-saga/internal/app"
)

func main() {
	cfg, err := config.Load(config.Orders)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunOrders(ctx, cfg); err != nil {
		log.Fatalf("orders service failed: %v", err)
	}
}
