package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Admin HTTP server
	AdminPort string

	// Backend selection
	DataBackend  string
	SQLiteDBPath string
	PostgresURL  string

	// AMQP; an empty URL keeps the work queue in process
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Schedules (standard 5-field cron)
	RecurringSchedule string
	BudgetSchedule    string
	ReportSchedule    string
	ScheduleTimezone  string
	JobMaxAttempts    int

	// Worker
	ThrottleLimit     int
	ThrottleWindow    time.Duration
	WorkerConcurrency int
	MaxRetries        int

	// Budgets
	BudgetAlertThreshold decimal.Decimal

	// SMTP; notifications are logged when SMTPHost is empty
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Insights
	GeminiAPIKey   string
	GeminiModel    string
	InsightTimeout time.Duration

	// Report archive; disabled when GoogleSpreadsheetID is empty
	GoogleSpreadsheetID string
	ReportSheetName     string

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		AdminPort: getEnv("ADMIN_PORT", "8081"),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/fintrack.db"),
		PostgresURL:  getEnv("POSTGRES_URL", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "fintrack"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "process_recurring"),

		RecurringSchedule: getEnv("RECURRING_SCHEDULE", "0 0 * * *"),
		BudgetSchedule:    getEnv("BUDGET_SCHEDULE", "0 */6 * * *"),
		ReportSchedule:    getEnv("REPORT_SCHEDULE", "0 0 1 * *"),
		ScheduleTimezone:  getEnv("SCHEDULE_TIMEZONE", "Local"),
		JobMaxAttempts:    getEnvInt("JOB_MAX_ATTEMPTS", 3),

		ThrottleLimit:     getEnvInt("THROTTLE_LIMIT", 10),
		ThrottleWindow:    getEnvDuration("THROTTLE_WINDOW", time.Minute),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		MaxRetries:        getEnvInt("MAX_RETRIES", 5),

		BudgetAlertThreshold: getEnvDecimal("BUDGET_ALERT_THRESHOLD", decimal.NewFromInt(80)),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),

		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", ""),
		InsightTimeout: getEnvDuration("INSIGHT_TIMEOUT", 30*time.Second),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		ReportSheetName:     getEnv("REPORT_SHEET_NAME", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.AdminPort); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.AdminPort))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	switch c.DataBackend {
	case "memory":
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case "postgres":
		if c.PostgresURL == "" {
			errors = append(errors, "POSTGRES_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.PostgresURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid Postgres URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid Postgres URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [memory sqlite postgres]", c.DataBackend))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate schedules
	for key, spec := range map[string]string{
		"RECURRING_SCHEDULE": c.RecurringSchedule,
		"BUDGET_SCHEDULE":    c.BudgetSchedule,
		"REPORT_SCHEDULE":    c.ReportSchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': %v", key, spec, err))
		}
	}
	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid schedule timezone '%s': %v", c.ScheduleTimezone, err))
	}
	if c.JobMaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid job max attempts %d: must be at least 1", c.JobMaxAttempts))
	}

	// Validate worker configuration
	if c.ThrottleLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid throttle limit %d: must be at least 1", c.ThrottleLimit))
	}
	if c.ThrottleWindow < time.Second {
		errors = append(errors, fmt.Sprintf("invalid throttle window %v: must be at least 1 second", c.ThrottleWindow))
	} else if c.ThrottleWindow > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid throttle window %v: must be at most 24 hours", c.ThrottleWindow))
	}
	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 256 {
		errors = append(errors, fmt.Sprintf("invalid worker concurrency %d: must be between 1 and 256", c.WorkerConcurrency))
	}
	if c.MaxRetries < 1 {
		errors = append(errors, fmt.Sprintf("invalid max retries %d: must be at least 1", c.MaxRetries))
	}

	// Validate budgets
	if !c.BudgetAlertThreshold.IsPositive() || c.BudgetAlertThreshold.GreaterThan(decimal.NewFromInt(100)) {
		errors = append(errors, fmt.Sprintf("invalid budget alert threshold %s: must be in (0, 100]", c.BudgetAlertThreshold))
	}

	// Validate SMTP if configured
	if c.SMTPHost != "" {
		if c.SMTPFrom == "" {
			errors = append(errors, "SMTP_FROM is required when SMTP_HOST is set")
		}
		if c.SMTPPort < 1 || c.SMTPPort > 65535 {
			errors = append(errors, fmt.Sprintf("invalid SMTP port %d: must be between 1 and 65535", c.SMTPPort))
		}
	}

	if c.InsightTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid insight timeout %v: must be positive", c.InsightTimeout))
	}

	if _, err := c.SlogLevel(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': %v", c.LogLevel, err))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Location resolves ScheduleTimezone; "Local" and "" mean the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.ScheduleTimezone == "" || c.ScheduleTimezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.ScheduleTimezone)
}

// SlogLevel parses LogLevel (debug, info, warn, error).
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
