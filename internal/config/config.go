// Package config содержит логику чтения конфигурации движка расчётов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации движка расчётов.
type Config struct {
	RunAddress            string        `env:"RUN_ADDRESS"`
	DatabaseURI           string        `env:"DATABASE_URI"`
	PricingServiceAddress string        `env:"PRICING_SERVICE_ADDRESS"`
	NotifierURL           string        `env:"NOTIFIER_URL"`
	PayoutProviderAddress string        `env:"PAYOUT_PROVIDER_ADDRESS"`
	PayoutClientID        string        `env:"PAYOUT_CLIENT_ID"`
	PayoutClientSecret    string        `env:"PAYOUT_CLIENT_SECRET"`
	PayoutTokenTTL        time.Duration `env:"PAYOUT_TOKEN_TTL" envDefault:"50m"`
	JWTSecret             string        `env:"JWT_SECRET"`
	OutboxPollInterval    time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
}

// Parse считывает конфигурацию из .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// .env не обязателен
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPricingAddress := cfg.PricingServiceAddress
	envNotifierURL := cfg.NotifierURL
	envPayoutAddress := cfg.PayoutProviderAddress
	envJWTSecret := cfg.JWTSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory storage when empty")
	flag.StringVar(&cfg.PricingServiceAddress, "p", "", "pricing service address")
	flag.StringVar(&cfg.NotifierURL, "n", "", "wallet notification endpoint")
	flag.StringVar(&cfg.PayoutProviderAddress, "w", "", "payout provider address")
	flag.StringVar(&cfg.JWTSecret, "s", "", "JWT signing secret")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPricingAddress != "" {
		cfg.PricingServiceAddress = envPricingAddress
	}
	if envNotifierURL != "" {
		cfg.NotifierURL = envNotifierURL
	}
	if envPayoutAddress != "" {
		cfg.PayoutProviderAddress = envPayoutAddress
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
