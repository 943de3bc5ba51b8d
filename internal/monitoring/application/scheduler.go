package application

import (
	"context"
	"errors"
	"log"
	"time"
)

// TickRunner runs one monitoring tick.
type TickRunner interface {
	RunTick(ctx context.Context) (TickReport, error)
}

// Scheduler drives the pipeline on a fixed interval and accepts manual
// triggers. Ticks never overlap; a trigger arriving while a tick is running
// is queued, and further triggers coalesce into the queued one.
type Scheduler struct {
	runner   TickRunner
	interval time.Duration
	logger   *log.Logger
	trigger  chan struct{}
}

// NewScheduler constructs a scheduler.
func NewScheduler(runner TickRunner, interval time.Duration, logger *log.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler: nil runner")
	}
	if interval <= 0 {
		return nil, errors.New("scheduler: non-positive interval")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}, nil
}

// TriggerNow requests an immediate tick. It returns true when the request
// was queued and false when a trigger is already pending.
func (s *Scheduler) TriggerNow() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Start blocks until ctx is cancelled, running one tick per interval plus
// any manually triggered ones.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Printf("scheduler started interval=%s", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("scheduler stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.trigger:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.runner.RunTick(ctx); err != nil {
		s.logger.Printf("tick failed: %v", err)
	}
}
