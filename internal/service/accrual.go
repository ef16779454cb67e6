package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abkawan/bank-transfers/internal/models"
	"go.uber.org/zap"
)

// DefaultAccrualInterval is how often the scheduler fires when no interval is configured.
const DefaultAccrualInterval = time.Minute

type Accruer interface {
	Accrue(ctx context.Context, accountID int64) (*models.Account, error)
}

type AccountLister interface {
	ListAccountIDs(ctx context.Context) ([]int64, error)
}

// AccrualFailure records one account the batch could not accrue.
type AccrualFailure struct {
	AccountID int64
	Err       error
}

// AccrualReport summarises one batch.
type AccrualReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Accounts   int
	Accrued    int
	Failures   []AccrualFailure
}

// Err joins the failures, or returns nil when there are none.
func (r *AccrualReport) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("account %d: %w", f.AccountID, f.Err))
	}
	return errors.Join(errs...)
}

// AccrualScheduler runs accrual over every account on a fixed interval.
// A tick that arrives while a batch is still running is skipped.
type AccrualScheduler struct {
	ledger   Accruer
	accounts AccountLister
	interval time.Duration
	logger   *zap.SugaredLogger

	running sync.Mutex
	wg      sync.WaitGroup
}

func NewAccrualScheduler(ledger Accruer, accounts AccountLister, interval time.Duration, logger *zap.SugaredLogger) *AccrualScheduler {
	if interval <= 0 {
		interval = DefaultAccrualInterval
	}
	return &AccrualScheduler{
		ledger:   ledger,
		accounts: accounts,
		interval: interval,
		logger:   logger,
	}
}

// Start fires a batch every interval until ctx is done, then waits for the running batch.
func (s *AccrualScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infow("accrual scheduler started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.Wait()
			s.logger.Info("accrual scheduler stopped")
			return
		case <-ticker.C:
			s.Fire(ctx)
		}
	}
}

// Fire starts a batch in the background unless one is already running.
// It reports whether a batch was started.
func (s *AccrualScheduler) Fire(ctx context.Context) bool {
	if !s.running.TryLock() {
		s.logger.Warn("accrual batch still running, skipping tick")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Unlock()

		// a started batch runs to the end even when shutdown begins
		report, err := s.RunOnce(context.WithoutCancel(ctx))
		if err != nil {
			s.logger.Errorw("accrual batch failed", "error", err)
			return
		}
		if len(report.Failures) > 0 {
			s.logger.Warnw("accrual batch finished with failures",
				"accounts", report.Accounts,
				"accrued", report.Accrued,
				"failed", len(report.Failures),
				"error", report.Err(),
			)
			return
		}
		s.logger.Infow("accrual batch finished",
			"accounts", report.Accounts,
			"accrued", report.Accrued,
			"duration", report.FinishedAt.Sub(report.StartedAt).String(),
		)
	}()
	return true
}

// Wait blocks until the running batch, if any, has finished.
func (s *AccrualScheduler) Wait() {
	s.wg.Wait()
}

// RunOnce accrues every account that exists when it starts. A failing account is
// recorded in the report and the batch moves on. The error is only set when the
// account list itself cannot be read.
func (s *AccrualScheduler) RunOnce(ctx context.Context) (*AccrualReport, error) {
	report := &AccrualReport{StartedAt: time.Now()}

	ids, err := s.accounts.ListAccountIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	report.Accounts = len(ids)

	for _, id := range ids {
		if _, err := s.ledger.Accrue(ctx, id); err != nil {
			s.logger.Warnw("accrual failed", "account", id, "error", err)
			report.Failures = append(report.Failures, AccrualFailure{AccountID: id, Err: err})
			continue
		}
		report.Accrued++
	}

	report.FinishedAt = time.Now()
	return report, nil
}
