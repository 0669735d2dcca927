package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zapflow/internal/cache"
	"zapflow/internal/channel"
	"zapflow/internal/channel/dm"
	"zapflow/internal/channel/evo"
	"zapflow/internal/channel/meta"
	"zapflow/internal/config"
	"zapflow/internal/engine"
	"zapflow/internal/httpserver"
	"zapflow/internal/logging"
	"zapflow/internal/metrics"
	"zapflow/internal/repo"
	"zapflow/internal/wa"
	"zapflow/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting zapflow", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	store, err := repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	senders := map[string]channel.Sender{
		repo.ProviderEvo:  evo.New(cfg.ProviderTimeout, logger, metricRegistry),
		repo.ProviderMeta: meta.New(cfg.ProviderTimeout, logger, metricRegistry),
		repo.ProviderDM:   dm.New(cfg.ProviderTimeout, logger, metricRegistry),
	}

	var waClient *wa.Client
	if cfg.WhatsAppConnectionID != "" {
		waClient, err = wa.New(ctx, wa.Config{
			StorePath:    cfg.WhatsAppStorePath,
			LogLevel:     cfg.WhatsAppLogLevel,
			ConnectionID: cfg.WhatsAppConnectionID,
		}, logger)
		if err != nil {
			return fmt.Errorf("init whatsapp client: %w", err)
		}
		defer waClient.Close()
		senders[repo.ProviderWA] = waClient
	}

	eng := engine.New(store, redisClient, senders, metricRegistry, logger, engine.Config{
		AIGatewayBaseURL: cfg.AIGatewayBaseURL,
		AIGatewayAPIKey:  cfg.AIGatewayAPIKey,
		AIDefaultModel:   cfg.AIDefaultModel,
		AITimeout:        cfg.AITimeout,
	})

	if waClient != nil {
		waClient.SetProcessor(eng)
		waClient.SetStatusSink(store)
		go func() {
			if err := waClient.Start(ctx); err != nil {
				logger.Error("whatsapp client stopped", "error", err)
				stop()
			}
		}()
	}

	go eng.RunSweeper(ctx, cfg.SweepInterval)

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, eng, store, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
