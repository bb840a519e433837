// Package main запускает HTTP-сервер движка расчётов грузовой биржи.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/freight-settlement/internal/config"
	"github.com/mmeshcher/freight-settlement/internal/handler"
	"github.com/mmeshcher/freight-settlement/internal/metrics"
	"github.com/mmeshcher/freight-settlement/internal/middleware"
	"github.com/mmeshcher/freight-settlement/internal/notify"
	"github.com/mmeshcher/freight-settlement/internal/payout"
	"github.com/mmeshcher/freight-settlement/internal/pricing"
	"github.com/mmeshcher/freight-settlement/internal/repository"
	"github.com/mmeshcher/freight-settlement/internal/service"
)

type store interface {
	service.Repository
	notify.Repository
}

func openStore(dsn string) (store, error) {
	if dsn == "" {
		return repository.NewMemoryRepository(), nil
	}
	repo, err := repository.NewPostgresRepository(dsn)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openStore(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	if cfg.DatabaseURI == "" {
		sugar.Warn("DATABASE_URI is empty, using in-memory storage")
	}

	m := metrics.New()

	opts := service.Options{
		Logger:  logger,
		Metrics: m,
	}
	if cfg.PricingServiceAddress != "" {
		opts.Pricer = pricing.NewClient(cfg.PricingServiceAddress)
	}
	if cfg.PayoutProviderAddress != "" {
		opts.Payout = payout.NewClient(cfg.PayoutProviderAddress, cfg.PayoutClientID, cfg.PayoutClientSecret,
			payout.NewTokenCache(cfg.PayoutTokenTTL))
	}

	svc := service.NewService(repo, opts)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, m.Handler())

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Доставка событий кошелька
	if cfg.NotifierURL != "" {
		dispatcher := notify.NewDispatcher(repo, cfg.NotifierURL, cfg.OutboxPollInterval, logger.Named("notify"), m)
		g.Go(func() error {
			return dispatcher.Run(ctx)
		})
	}

	g.Go(func() error {
		sugar.Infow("starting settlement server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
