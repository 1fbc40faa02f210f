package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/cli"
	"fintrack/internal/config"
	apphttp "fintrack/internal/http"
	applog "fintrack/internal/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentWorker)

	// Work items only reach a separate process through the broker.
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for recurring-worker")
		os.Exit(1)
	}

	logger.Info("Starting recurring-worker",
		applog.FieldBackend, cfg.DataBackend,
		"queue", cfg.AMQPQueue,
		"concurrency", cfg.WorkerConcurrency)

	if err := run(cfg, logger); err != nil {
		logger.Error("recurring-worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("recurring-worker shutdown complete")
}

func run(cfg *config.Config, logger *applog.Logger) error {
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	res := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	}()

	pool, limiter := cli.NewWorkerPool(cfg, res)
	defer limiter.Stop()

	srv := apphttp.NewServer(":"+cfg.AdminPort, apphttp.Deps{Store: res.Store, Pool: pool.Stats}, apphttp.DefaultConfig())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error {
		logger.Info("Admin server listening", applog.FieldAddr, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
