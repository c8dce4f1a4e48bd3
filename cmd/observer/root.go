package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ExchangeObserver/internal/config"
	"ExchangeObserver/internal/monitor"
	"ExchangeObserver/internal/recorder"
	"ExchangeObserver/internal/store"
)

var (
	cfgPath   = "configs/config.yaml"
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:          "observer",
	Short:        "Treasury observer: repays margin debt from main and custody balances",
	SilenceUsage: true,
}

func init() {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "config file (env CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text|json (overrides config)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*log.Logger, error) {
	logger := log.New()
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// openStore connects the configuration database and migrates it.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, func(), error) {
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("database handle: %w", err)
	}
	st := store.New(db)
	if err := st.AutoMigrate(ctx); err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { _ = sqlDB.Close() }, nil
}

// openMonitor returns the configured debt monitor backend.
// The sqlite backend shares the ledger database.
func openMonitor(ctx context.Context, cfg *config.Config, ledger *recorder.SQLiteLedger) (recorder.DebtMonitor, func(), error) {
	if cfg.Monitor.Backend != "redis" {
		return ledger, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Monitor.RedisAddr,
		Password: cfg.Monitor.RedisPassword,
		DB:       cfg.Monitor.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Monitor.RedisAddr, err)
	}
	return monitor.NewRedisMonitor(client, cfg.Monitor.RedisKey), func() { _ = client.Close() }, nil
}
