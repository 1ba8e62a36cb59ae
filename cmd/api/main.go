package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"example.com/vedabloom/internal/api"
	"example.com/vedabloom/internal/auth"
	"example.com/vedabloom/internal/config"
	"example.com/vedabloom/internal/content"
	"example.com/vedabloom/internal/domain"
	"example.com/vedabloom/internal/history"
	"example.com/vedabloom/internal/logging"
	"example.com/vedabloom/internal/outbox"
	"example.com/vedabloom/internal/prediction"
	"example.com/vedabloom/internal/report"
	"example.com/vedabloom/internal/store/memory"
	"example.com/vedabloom/internal/store/postgres"
	httptransport "example.com/vedabloom/internal/transport/http"
)

const shutdownTimeout = 15 * time.Second

type stores interface {
	domain.ProfileStore
	domain.ProfileFeed
	domain.LogStore
}

func main() {
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
	if err := run(cfg, logger); err != nil {
		logger.Error("vedabloom api stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		store      stores
		dispatcher *outbox.Dispatcher
	)
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		version, err := postgres.Migrate(ctx, pool)
		if err != nil {
			return err
		}
		logger.Info("database migrated", zap.Int64("version", version))

		store = postgres.NewStore(pool,
			postgres.WithLogger(logger.Named("store")),
			postgres.WithOutbox(cfg.OutboxEnabled))

		if cfg.OutboxEnabled {
			producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, outbox.WithProducerLogger(logger.Named("kafka")))
			defer producer.Close()
			dispatcher = outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
				outbox.WithLogger(logger.Named("outbox")))
			go dispatcher.Start(ctx)
		}
	default:
		logger.Warn("using in-memory store; data is lost on restart")
		store = memory.NewStore()
	}

	var source content.Source
	if cfg.ContentURL != "" {
		source = content.NewHTTPSource(cfg.ContentURL, content.WithSourceLogger(logger.Named("content")))
	} else {
		source, err = content.DefaultSource()
		if err != nil {
			return err
		}
	}
	cached, err := content.NewCachedSource(source, cfg.ContentRefreshSchedule, content.WithCacheLogger(logger.Named("content")))
	if err != nil {
		return err
	}
	cached.Start(ctx)
	defer cached.Stop()

	authCfg := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	handler := api.NewHandler(api.Dependencies{
		Profiles:      store,
		Logs:          store,
		ProfileFeed:   store,
		Predictor:     prediction.NewClient(cfg.PredictionURL, cfg.PredictionTimeout),
		Content:       content.NewService(cached, store, content.WithDefaultAge(cfg.ContentDefaultAge), content.WithLogger(logger.Named("content"))),
		History:       history.NewAggregator(store, store, history.WithLogger(logger.Named("history"))),
		Renderer:      report.NewPDFRenderer(history.Title),
		Auth:          authCfg,
		Location:      loc,
		AllowedOrigin: cfg.CORSOrigin,
		Logger:        logger.Named("api"),
	})
	router := httprouter.New()
	handler.RegisterRoutes(router)

	authMiddleware := auth.NewMiddleware(authCfg)
	serverCfg := httptransport.DefaultServerConfig(cfg.HTTPAddress)
	serverCfg.Logger = logger
	server := httptransport.NewServer(serverCfg,
		api.WithRequestLogging(logger.Named("http"), api.WithCORS(cfg.CORSOrigin, authMiddleware.Wrap(router))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("vedabloom api listening", zap.String("address", cfg.HTTPAddress), zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-shutdownCh:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	handler.Close()

	if dispatcher != nil {
		dispatcher.Wait()
	}
	return nil
}
