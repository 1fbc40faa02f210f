package main

import (
	"context"
	"flag"
	"os"
	"time"

	"fintrack/internal/cli"
	applog "fintrack/internal/log"
	"fintrack/internal/seed"
)

func main() {
	path := flag.String("file", "seed.json", "fixture with users, accounts, budgets and recurring templates")
	flag.Parse()

	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentStorage)
	if cfg.DataBackend == "memory" {
		logger.Error("Seeding the memory backend has no lasting effect; use sqlite or postgres")
		os.Exit(1)
	}

	f, err := os.Open(*path)
	if err != nil {
		logger.Error("Failed to open fixture", applog.FieldError, err, "path", *path)
		os.Exit(1)
	}
	fixture, err := seed.Decode(f)
	f.Close()
	if err != nil {
		logger.Error("Invalid fixture", applog.FieldError, err, "path", *path)
		os.Exit(1)
	}

	// Seeding writes the ledger only; no broker needed.
	cfg.AMQPURL = ""

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res := cli.InitBackend(ctx, logger, cfg)
	defer res.Cleanup()

	result, err := seed.Apply(ctx, res.Store, fixture)
	if err != nil {
		logger.Error("Seeding failed", applog.FieldError, err)
		res.Cleanup()
		os.Exit(1)
	}
	logger.Info("Fixture loaded",
		"users", result.Users,
		"accounts", result.Accounts,
		"budgets", result.Budgets,
		"templates", result.Templates)
}
