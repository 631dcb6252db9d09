package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultRetention is how long finished task records are kept.
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultSweepSchedule runs the retention sweep once a day.
	DefaultSweepSchedule = "@daily"

	sweepStopTimeout = 30 * time.Second
)

// Sweeper runs CleanupOlderThan on a cron schedule.
type Sweeper struct {
	manager   *Manager
	schedule  string
	retention time.Duration
	cron      *cron.Cron
	mu        sync.Mutex
	running   bool
	logger    *slog.Logger
}

// NewSweeper creates a Sweeper. Empty schedule and zero retention select
// the defaults. The schedule is validated here.
func NewSweeper(manager *Manager, schedule string, retention time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if retention == 0 {
		retention = DefaultRetention
	}
	if retention < 0 {
		return nil, fmt.Errorf("retention cannot be negative: %s", retention)
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		manager:   manager,
		schedule:  schedule,
		retention: retention,
		cron:      cron.New(),
		logger:    logger.With("component", "task-sweeper"),
	}, nil
}

// Start schedules the sweep. Calling Start twice is an error.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.Error("task retention sweep failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("task retention sweep scheduled", "schedule", s.schedule, "retention", s.retention)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	s.running = false

	select {
	case <-ctx.Done():
	case <-time.After(sweepStopTimeout):
		s.logger.Warn("task sweeper stop timed out")
	}
}

// RunOnce performs one sweep immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	return s.manager.CleanupOlderThan(ctx, s.retention)
}
