// Package scheduler drives redemption epoch closes on a cron cadence.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"capstack/core"
	"capstack/observability"
)

// Closer settles the current redemption epoch. *core.Pool satisfies it.
type Closer interface {
	CloseEpoch() (*core.CloseReport, error)
}

// Scheduler registers the epoch close job with a seconds-granular cron and
// runs it until stopped. A close that finds queued demand but an empty
// reserve is a deferral, not a failure: the epoch stays open and the next
// tick retries.
type Scheduler struct {
	cron   *cron.Cron
	pool   Closer
	logger *slog.Logger
}

// New builds a scheduler that closes epochs on the supplied cron spec. The
// spec uses the six-field form with a leading seconds column.
func New(pool Closer, spec string, logger *slog.Logger) (*Scheduler, error) {
	if pool == nil {
		return nil, errors.New("scheduler: pool required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		pool:   pool,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(spec, s.closeEpoch); err != nil {
		return nil, fmt.Errorf("scheduler: register epoch close: %w", err)
	}
	return s, nil
}

// Start begins ticking in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("epoch scheduler started")
}

// Stop halts the cron and waits for an in-flight close to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("epoch scheduler stopped")
}

// RunNow executes a close immediately, outside the cron cadence.
func (s *Scheduler) RunNow() {
	s.closeEpoch()
}

func (s *Scheduler) closeEpoch() {
	started := time.Now()
	report, err := s.pool.CloseEpoch()
	outcome := "closed"
	switch {
	case errors.Is(err, core.ErrNoLiquidity):
		outcome = "deferred"
	case err != nil:
		outcome = "failed"
	}
	observability.Ledger().ObserveEpochClose(time.Since(started), outcome)
	switch {
	case errors.Is(err, core.ErrNoLiquidity):
		s.logger.Info("epoch close deferred", slog.String("reason", "reserve empty"))
	case err != nil:
		s.logger.Error("epoch close failed", slog.Any("error", err))
	default:
		s.logger.Info("epoch closed",
			slog.Uint64("epoch", report.EpochID),
			slog.String("senior_shares", report.Outcome.Senior.SharesProcessed.String()),
			slog.String("senior_amount", report.Outcome.Senior.AmountProcessed.String()),
			slog.String("junior_shares", report.Outcome.Junior.SharesProcessed.String()),
			slog.String("junior_amount", report.Outcome.Junior.AmountProcessed.String()),
			slog.String("unmet_demand", report.Outcome.UnmetDemand.String()),
		)
	}
}
