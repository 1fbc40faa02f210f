// Package cli provides common CLI initialization utilities shared by
// cmd/fintrack-scheduler and cmd/recurring-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"fintrack/internal/backend"
	"fintrack/internal/config"
	"fintrack/internal/insights"
	applog "fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/notify"
	"fintrack/internal/services"
	gsheet "fintrack/internal/sheets/google"
	"fintrack/internal/worker"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from config and sets it as the
// default slog logger.
func SetupLogger(cfg *config.Config, component string) *applog.Logger {
	level, err := cfg.SlogLevel()
	logger := applog.New(applog.Config{
		Level:     level,
		Format:    cfg.LogFormat,
		Component: component,
		Output:    os.Stdout,
	})
	applog.SetDefault(logger)
	if err != nil {
		logger.Warn("Unknown log level, using info", "level", cfg.LogLevel)
	}
	return logger
}

// LoadAndValidateConfig loads .env and the environment, sets up logging
// and validates. Exits the process on validation failure.
func LoadAndValidateConfig(component string) (*config.Config, *applog.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg, component)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// InitBackend opens the ledger store and work queue.
// Exits the process on failure.
func InitBackend(ctx context.Context, logger *applog.Logger, cfg *config.Config) *backend.BackendResult {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentStorage).Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, applog.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}
	return res
}

// NewMailer returns a mailer over SMTP, or over the log when SMTP is not
// configured.
func NewMailer(logger *applog.Logger, cfg *config.Config) *notify.Mailer {
	smtp := notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}
	if !smtp.Enabled() {
		logger.Warn("SMTP not configured, notifications will only be logged")
		return notify.NewMailer(notify.LogSender{})
	}
	logger.Info("SMTP notifications enabled", "host", smtp.Host, "port", smtp.Port)
	return notify.NewMailer(notify.NewSMTPSender(smtp))
}

// NewInsightGenerator returns the Gemini generator, or the static fallback
// list when no API key is set or the client cannot be created.
func NewInsightGenerator(ctx context.Context, logger *applog.Logger, cfg *config.Config) insights.Generator {
	if cfg.GeminiAPIKey == "" {
		logger.Info("GEMINI_API_KEY not set, reports use fallback insights")
		return insights.Static{}
	}
	gen, err := insights.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Warn("Failed to initialize Gemini client, using fallback insights", applog.FieldError, err)
		return insights.Static{}
	}
	return gen
}

// NewMonthlyReporter wires the report job: insights, mail and, when a
// spreadsheet is configured, the Sheets archive.
func NewMonthlyReporter(ctx context.Context, logger *applog.Logger, cfg *config.Config, store services.ReportStore, mailer *notify.Mailer) *services.MonthlyReporter {
	reporter := services.NewMonthlyReporter(store, NewInsightGenerator(ctx, logger, cfg), mailer).
		WithInsightTimeout(cfg.InsightTimeout)

	if cfg.GoogleSpreadsheetID == "" {
		return reporter
	}
	archive, err := gsheet.New(ctx, cfg.GoogleSpreadsheetID, cfg.ReportSheetName)
	if err != nil {
		logger.Warn("Report archive disabled", applog.FieldError, err)
		return reporter
	}
	logger.Info("Archiving monthly reports to Google Sheets")
	return reporter.WithArchiver(archive)
}

// NewWorkerPool builds the throttled pool that runs recurring work items
// against store. The returned limiter must be stopped on shutdown.
func NewWorkerPool(cfg *config.Config, res *backend.BackendResult) (*worker.Pool, *ratelimit.Limiter) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Limit:  cfg.ThrottleLimit,
		Window: cfg.ThrottleWindow,
	})
	pool := worker.NewPool(res.Queue, services.NewRecurringProcessor(res.Store), limiter, worker.Config{
		Concurrency: cfg.WorkerConcurrency,
		MaxRetries:  cfg.MaxRetries,
	})
	return pool, limiter
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *applog.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received")
	}()
	return ctx, stop
}
