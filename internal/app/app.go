// Package app wires a service binary together and runs its background tasks
// until the process is asked to stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ledger-saga/config"
	"ledger-saga/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is a long-running part of a service. It returns nil once ctx is done.
type Task func(ctx context.Context) error

// Run starts every task and waits for all of them. The first task to fail
// cancels the others and its error is returned.
func Run(ctx context.Context, tasks ...Task) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			err := task(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// HTTPServer serves srv until ctx is done and then drains in-flight requests
// for at most shutdownTimeout
func HTTPServer(srv *http.Server, shutdownTimeout time.Duration) Task {
	return func(ctx context.Context) error {
		logger := util.GetLogger()
		errCh := make(chan error, 1)

		go func() {
			logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("failed to start server: %w", err)
				return
			}
			errCh <- nil
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return <-errCh
	}
}

func newServer(cfg *config.Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// setup initialises the process-wide logger, tracer and gin mode. The
// returned func flushes them.
func setup(cfg *config.Config) (func(), error) {
	if err := util.InitLogger(cfg.Server.Env, cfg.ServiceName); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	cleanup := func() { util.SyncLogger() }
	if cfg.Observ.JaegerEndpoint == "" {
		return cleanup, nil
	}

	tp, err := util.InitTracer(cfg.ServiceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			util.GetLogger().Error("Error shutting down tracer", zap.Error(err))
		}
		util.SyncLogger()
	}, nil
}
