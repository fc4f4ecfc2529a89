// Package expiry periodically completes READY steps whose deadline passed.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep once a minute.
const DefaultSchedule = "@every 1m"

var ErrAlreadyStarted = errors.New("sweeper already started")

// Expirer completes overdue steps and reports how many it expired.
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

type Sweeper struct {
	expirer  Expirer
	schedule string
	logger   *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// New checks schedule, a standard five-field cron expression or an
// @every/@hourly style descriptor.
func New(expirer Expirer, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule '%s': %w", schedule, err)
	}

	return &Sweeper{
		expirer:  expirer,
		schedule: schedule,
		logger:   logger.With("module", "expiry_sweeper"),
	}, nil
}

// Start registers the sweep job and returns immediately. A sweep that is still
// running when the next tick fires is skipped.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	logger := cronLogger{logger: s.logger}

	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))

	entryID, err := c.AddFunc(s.schedule, func() {
		_, _ = s.Sweep(ctx)
	})
	if err != nil {
		cancel()

		return fmt.Errorf("failed to add sweep job: %w", err)
	}

	c.Start()

	s.cron = c
	s.cancel = cancel

	s.logger.InfoContext(ctx, "Expiry sweeper started", "schedule", s.schedule, "entry_id", entryID)

	return nil
}

// Stop halts the schedule and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}

	cancel()
	<-c.Stop().Done()

	s.logger.Info("Expiry sweeper stopped")
}

// Sweep runs one expiry pass.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := s.expirer.ExpireOverdue(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Expiry sweep finished with errors", "expired", expired, "error", err)

		return expired, err
	}

	if expired > 0 {
		s.logger.InfoContext(ctx, "Expired overdue steps", "expired", expired)
	} else {
		s.logger.DebugContext(ctx, "No overdue steps")
	}

	return expired, nil
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
