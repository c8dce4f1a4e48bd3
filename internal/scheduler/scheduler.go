package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"ExchangeObserver/internal/fund"
	"ExchangeObserver/internal/metrics"
	"ExchangeObserver/internal/model"
	"ExchangeObserver/internal/notifier"
	"ExchangeObserver/internal/recorder"
)

const (
	jobRepayment = "repayment"
	jobEquity    = "equity"
)

// RepaymentJob runs one repayment cycle.
type RepaymentJob interface {
	Run(ctx context.Context) (fund.CycleResult, error)
}

// EquityJob runs one equity check.
type EquityJob interface {
	Run(ctx context.Context) (decimal.Decimal, error)
}

// Sender delivers operator messages.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Scheduler runs the repayment and equity jobs on independent timers.
// A tick is skipped while the previous tick of the same job is still running.
type Scheduler struct {
	Cron       *cron.Cron
	Repayment  RepaymentJob
	Equity     EquityJob
	Ledger     recorder.Ledger
	Monitor    recorder.DebtMonitor
	Notifier   Sender
	MaxRetries int
	Metrics    *metrics.Metrics
	Logger     log.FieldLogger
	Ctx        context.Context

	repaymentMu sync.Mutex
	equityMu    sync.Mutex
}

// NewScheduler creates a new Scheduler. Notifier and Metrics are optional.
func NewScheduler(ctx context.Context, repayment RepaymentJob, equity EquityJob, ledger recorder.Ledger, monitor recorder.DebtMonitor, logger log.FieldLogger) *Scheduler {
	cronLogger := cron.PrintfLogger(logger)
	return &Scheduler{
		Cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		Repayment: repayment,
		Equity:    equity,
		Ledger:    ledger,
		Monitor:   monitor,
		Logger:    logger,
		Ctx:       ctx,
	}
}

// RegisterAll registers both jobs at fixed intervals.
func (s *Scheduler) RegisterAll(repaymentEvery, equityEvery time.Duration) error {
	if _, err := s.Cron.AddFunc(every(repaymentEvery), func() { s.repaymentTask() }); err != nil {
		return fmt.Errorf("register repayment task: %w", err)
	}
	if _, err := s.Cron.AddFunc(every(equityEvery), func() { s.equityTask() }); err != nil {
		return fmt.Errorf("register equity task: %w", err)
	}
	return nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Logger.Info("scheduler started")
}

// Stop stops the timers and waits for running ticks to finish,
// including ones started through RunRepaymentNow or RunEquityNow.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.repaymentMu.Lock()
	s.repaymentMu.Unlock()
	s.equityMu.Lock()
	s.equityMu.Unlock()
	s.Logger.Info("scheduler stopped")
}

// RunRepaymentNow executes a repayment tick immediately (RUN_ON_START).
// It reports false when a tick was already running.
func (s *Scheduler) RunRepaymentNow() bool {
	return s.repaymentTask()
}

// RunEquityNow executes an equity tick immediately.
func (s *Scheduler) RunEquityNow() bool {
	return s.equityTask()
}

func (s *Scheduler) repaymentTask() bool {
	return s.singleFlight(&s.repaymentMu, jobRepayment, func(ctx context.Context) error {
		res, err := s.Repayment.Run(ctx)
		if err != nil {
			return err
		}
		s.Logger.WithFields(log.Fields{
			"positions":  res.Positions,
			"resolved":   res.Resolved,
			"unresolved": res.Unresolved,
			"failed":     res.Failed,
		}).Info("repayment cycle finished")
		return nil
	})
}

func (s *Scheduler) equityTask() bool {
	return s.singleFlight(&s.equityMu, jobEquity, func(ctx context.Context) error {
		total, err := s.Equity.Run(ctx)
		if err != nil {
			return err
		}
		s.Logger.WithField("total_usd", total.StringFixed(2)).Debug("equity check finished")
		return nil
	})
}

// singleFlight runs fn unless the same job is already running.
// Cycle errors are logged and reported; they never stop the schedule.
func (s *Scheduler) singleFlight(mu *sync.Mutex, job string, fn func(ctx context.Context) error) bool {
	if !mu.TryLock() {
		s.Logger.WithField("job", job).Warn("previous tick still running, skipping")
		return false
	}
	defer mu.Unlock()

	start := time.Now()
	err := fn(s.Ctx)
	s.Metrics.ObserveCycle(job, time.Since(start), err)
	if err != nil {
		s.Logger.WithError(err).WithField("job", job).Error("cycle failed")
		s.trySend(notifier.FormatCycleFailure(job, err))
	}
	return true
}

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	switch command {
	case "/monitor":
		entries, err := s.Monitor.List(ctx)
		if err != nil {
			return fmt.Sprintf("❌ load monitor: %v", err)
		}
		return notifier.FormatMonitorList(entries)
	case "/transfers":
		records, err := s.Ledger.ListTransfers(ctx, model.TransferFilter{Take: 10})
		if err != nil {
			return fmt.Sprintf("❌ load transfers: %v", err)
		}
		return notifier.FormatTransfers(records)
	case "/repay":
		if !s.RunRepaymentNow() {
			return "Repayment cycle already running"
		}
		return "Repayment cycle finished"
	default:
		return "Commands:\n• /monitor - unresolved debt\n• /transfers - last 10 transfers\n• /repay - run a repayment cycle now"
	}
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, s.MaxRetries); err != nil {
		s.Logger.WithError(err).Error("send notification")
	}
}
