package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
)

// Refresher runs the refresh-all sweep over subscribed podcasts
type Refresher interface {
	RefreshAll(ctx context.Context) (int, error)
}

// Sweeper runs the episode decay sweep
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Config holds scheduler configuration
type Config struct {
	RefreshInterval time.Duration
	SweepInterval   time.Duration
}

// Scheduler drives the periodic background work: refreshing all podcast
// feeds and running the lifecycle decay sweep. Both run once at start, the
// decay sweep deliberately first so a fresh session sees graced episodes
// already demoted.
type Scheduler struct {
	refresher       Refresher
	sweeper         Sweeper
	refreshInterval time.Duration
	sweepInterval   time.Duration
	wg              sync.WaitGroup
	cancel          context.CancelFunc
}

// NewScheduler creates a scheduler instance
func NewScheduler(refresher Refresher, sweeper Sweeper, cfg Config) *Scheduler {
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Hour
	}
	return &Scheduler{
		refresher:       refresher,
		sweeper:         sweeper,
		refreshInterval: cfg.RefreshInterval,
		sweepInterval:   cfg.SweepInterval,
	}
}

// Start begins the background workers
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.sweepWorker(ctx)

	s.wg.Add(1)
	go s.refreshWorker(ctx)

	lgr.Printf("[INFO] scheduler started, refresh every %v, decay sweep every %v", s.refreshInterval, s.sweepInterval)
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	lgr.Printf("[INFO] stopping scheduler...")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	lgr.Printf("[INFO] scheduler stopped")
}

func (s *Scheduler) refreshWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	s.runRefresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runRefresh(ctx)
		}
	}
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	if _, err := s.refresher.RefreshAll(ctx); err != nil {
		lgr.Printf("[WARN] refresh-all completed with failures: %v", err)
	}
}

func (s *Scheduler) sweepWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.runSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		lgr.Printf("[ERROR] decay sweep failed: %v", err)
	}
}
