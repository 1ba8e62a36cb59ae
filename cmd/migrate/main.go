package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"example.com/vedabloom/internal/config"
	"example.com/vedabloom/internal/logging"
	"example.com/vedabloom/internal/store/postgres"
)

func main() {
	timeout := flag.Duration("timeout", time.Minute, "maximum time to spend migrating")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] up|down\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	direction := "up"
	if flag.NArg() > 0 {
		direction = flag.Arg(0)
	}
	if direction != "up" && direction != "down" {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.PostgresURL == "" {
		logger.Fatal("POSTGRES_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	switch direction {
	case "up":
		version, err := postgres.Migrate(ctx, pool)
		if err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		logger.Info("database migrated", zap.Int64("version", version))
	case "down":
		if err := postgres.Rollback(ctx, pool); err != nil {
			logger.Fatal("migrate down", zap.Error(err))
		}
		logger.Info("rolled back one migration")
	}
}
