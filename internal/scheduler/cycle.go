package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kjannette/tulipbot/internal/settlement"
)

// CycleRunner is the settlement engine as seen by the scheduler.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*settlement.CycleReport, error)
}

type CycleSchedulerConfig struct {
	Interval time.Duration // e.g. 60*time.Second
	Timeout  time.Duration // per-cycle deadline
	OnReport func(r *settlement.CycleReport)
}

// CycleScheduler fires the settlement engine on a fixed interval, plus once
// immediately on Start. Overlapping triggers are skipped by the engine.
type CycleScheduler struct {
	engine CycleRunner
	cfg    CycleSchedulerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewCycleScheduler(engine CycleRunner, cfg CycleSchedulerConfig) *CycleScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &CycleScheduler{engine: engine, cfg: cfg}
}

func (s *CycleScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		slog.Warn("already running", "component", "scheduler")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOnce()

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s.runOnce()
			}
		}
	}()

	slog.Info("started", "component", "scheduler", "interval", s.cfg.Interval)
}

// Stop halts the ticker and waits for an in-flight cycle to finish.
func (s *CycleScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("stopped", "component", "scheduler")
}

func (s *CycleScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow triggers a cycle outside the normal schedule.
func (s *CycleScheduler) RunNow(ctx context.Context) (*settlement.CycleReport, error) {
	slog.Info("manual cycle triggered", "component", "scheduler")
	return s.engine.RunCycle(ctx)
}

func (s *CycleScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	report, err := s.engine.RunCycle(ctx)
	switch {
	case errors.Is(err, settlement.ErrCycleInProgress):
		slog.Info("previous cycle still running, skipping", "component", "scheduler")
		return
	case err != nil:
		slog.Error("cycle failed", "component", "scheduler", "err", err)
	}
	if report != nil && s.cfg.OnReport != nil {
		s.cfg.OnReport(report)
	}
}
