package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the sweeper on a fixed interval. A sweep that panics or
// fails is logged and retried on the next tick; the scheduler goroutine
// itself never dies.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
	logger  *slog.Logger
	mu      sync.Mutex
	running bool
}

// NewScheduler wires a sweeper to a cron entry firing every interval.
func NewScheduler(interval time.Duration, sweeper *Sweeper, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{sweeper: sweeper, logger: logger}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), s.execute); err != nil {
		return nil, fmt.Errorf("schedule cleanup: %w", err)
	}
	s.cron = c
	return s, nil
}

// Start begins scheduling sweeps.
func (s *Scheduler) Start() {
	s.logger.Info("cleanup scheduler started")
	s.cron.Start()
}

// Stop halts scheduling and waits for an in-flight sweep, honoring ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("cleanup scheduler stopping")
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("cleanup scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("cleanup scheduler stop timed out")
	}
}

// execute runs one sweep, skipping the tick if the previous sweep is still
// going.
func (s *Scheduler) execute() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("sweep already running, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if _, err := s.sweeper.Sweep(context.Background()); err != nil {
		s.logger.Error("cleanup sweep failed", "error", err)
	}
}
