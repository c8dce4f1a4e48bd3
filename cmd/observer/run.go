package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"ExchangeObserver/internal/api"
	"ExchangeObserver/internal/collector"
	"ExchangeObserver/internal/events"
	"ExchangeObserver/internal/fund"
	"ExchangeObserver/internal/gateway"
	"ExchangeObserver/internal/metrics"
	"ExchangeObserver/internal/notifier"
	"ExchangeObserver/internal/recorder"
	"ExchangeObserver/internal/scheduler"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the repayment and equity jobs, the admin API and chat commands",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runService()
	},
}

func runService() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	logger.WithField("venue", cfg.Venue).Info("ExchangeObserver starting")

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	st, closeStore, err := openStore(sigCtx, cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer closeStore()

	ledger, err := recorder.NewSQLiteLedger(cfg.Ledger.SQLitePath, logger)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	defer ledger.Close()

	mon, closeMonitor, err := openMonitor(sigCtx, cfg, ledger)
	if err != nil {
		return fmt.Errorf("init monitor: %w", err)
	}
	defer closeMonitor()
	logger.WithField("backend", cfg.Monitor.Backend).Info("debt monitor ready")

	fetcher := collector.NewConnectorFetcher(cfg.Connector.BaseURL, cfg.Connector.APIKey, cfg.Venue, cfg.Proxy, cfg.Connector.Timeout)
	col := collector.NewCollector(fetcher)
	logger.WithField("source", fetcher.Name()).Info("balance source ready")

	var gw gateway.Gateway
	if cfg.Gateway.DryRun {
		logger.Warn("gateway dry-run enabled, no funds will move")
		gw = gateway.NewDryRunGateway(logger)
	} else {
		gw = gateway.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Proxy, cfg.Gateway.Timeout)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Venue)
		logger.WithField("topic", cfg.Kafka.Topic).Info("publishing transfer events")
	}
	defer publisher.Close()

	helper := fund.NewHelper(st, ledger, mon, col, logger.WithField("component", "helper"))
	helper.Events = publisher
	helper.Metrics = m

	var tn *notifier.TelegramNotifier
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, cfg.Telegram.MaxRetries, logger.WithField("component", "telegram"))
		helper.Alerter = tn
	}

	engine := fund.NewRepaymentEngine(col, st, gw, helper, cfg.Venue, logger.WithField("job", "repayment"))
	equity := fund.NewEquityMonitor(col, st, helper, logger.WithField("job", "equity"))

	// Jobs get their own context so a shutdown lets in-flight ticks finish.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	sched := scheduler.NewScheduler(jobCtx, engine, equity, ledger, mon, logger.WithField("component", "scheduler"))
	sched.Metrics = m
	if tn != nil {
		sched.Notifier = tn
		sched.MaxRetries = cfg.Telegram.MaxRetries
	}
	if err := sched.RegisterAll(cfg.Schedule.RepaymentInterval, cfg.Schedule.EquityInterval); err != nil {
		return fmt.Errorf("register cron tasks: %w", err)
	}
	sched.Start()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(st, ledger, mon, reg, logger.WithField("component", "api")).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.WithField("addr", cfg.HTTP.Addr).Info("admin API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("admin API stopped")
		}
	}()

	if tn != nil {
		go tn.StartPolling(sigCtx, sched.HandleCommand)
		logger.Info("telegram polling started")
	}

	if cfg.Schedule.RunOnStart {
		logger.Info("run_on_start enabled, executing repayment cycle now")
		go sched.RunRepaymentNow()
	}

	logger.Info("ExchangeObserver is running. Press Ctrl+C to stop.")
	<-sigCtx.Done()

	logger.Info("shutdown signal received, waiting for running cycles")
	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("admin API shutdown")
	}
	cancelJobs()
	logger.Info("ExchangeObserver stopped")
	return nil
}
