package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/cache"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	apphttp "fintrack/internal/http"
	applog "fintrack/internal/log"
	"fintrack/internal/scheduler"
	"fintrack/internal/services"
	"fintrack/internal/worker"
)

const (
	shutdownTimeout = 30 * time.Second
	userCacheSize   = 1024
	userCacheTTL    = 5 * time.Minute
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentScheduler)
	logger.Info("Starting fintrack-scheduler", applog.FieldBackend, cfg.DataBackend)

	if err := run(cfg, logger); err != nil {
		logger.Error("fintrack-scheduler stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("fintrack-scheduler stopped gracefully")
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

	users := cache.NewUserStore(res.Store, userCacheSize, userCacheTTL)
	mailer := cli.NewMailer(logger.WithComponent(applog.ComponentNotify), cfg)
	deps := jobDeps{
		dispatcher: services.NewRecurringDispatcher(res.Store, res.Queue),
		monitor:    services.NewBudgetMonitor(users, mailer).WithThreshold(cfg.BudgetAlertThreshold),
		reporter:   cli.NewMonthlyReporter(ctx, logger.WithComponent(applog.ComponentInsights), cfg, users, mailer),
	}

	loc, _ := cfg.Location()
	sched := scheduler.New(scheduler.Config{MaxAttempts: cfg.JobMaxAttempts, Location: loc})
	if err := registerJobs(sched, cfg, deps); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	// Without a broker the dispatched work items are consumed here.
	var pool *worker.Pool
	if !res.RemoteQueue {
		p, limiter := cli.NewWorkerPool(cfg, res)
		defer limiter.Stop()
		pool = p
	}

	httpDeps := apphttp.Deps{Store: res.Store, Jobs: sched}
	if pool != nil {
		httpDeps.Pool = pool.Stats
	}
	srv := apphttp.NewServer(":"+cfg.AdminPort, httpDeps, apphttp.DefaultConfig())

	g, gctx := errgroup.WithContext(ctx)

	if pool != nil {
		g.Go(func() error { return pool.Run(gctx) })
	}

	g.Go(func() error {
		logger.Info("Admin server listening", applog.FieldAddr, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	if err := sched.Start(gctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logger.Info("Shutting down fintrack-scheduler")
		return errors.Join(sched.Stop(shutdownCtx), srv.Shutdown(shutdownCtx))
	})

	return g.Wait()
}
