// Package scheduler drives the synchronization core's five periodic
// background tasks: the high-priority and normal drain-plus-hydration
// cadences, the low-priority passive drain, the dead-letter reaper,
// and the stuck-sync watchdog.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/posyncd/pkg/log"
)

// Job is one periodic task. Errors are logged, never fatal — a failed
// cycle simply tries again at the next tick.
type Job func(ctx context.Context) error

// Jobs wires the five cadences to their callbacks. Any left nil is
// simply never scheduled.
type Jobs struct {
	HighPriority   Job // drain + pull-after-push hydration: every 5s
	Normal         Job // drain + hydration if queue was non-empty: every 15s
	LowPriority    Job // passive drain + processedIds trim: every 60s
	DLQReap        Job // dead-letter resurrection attempt: every 10min
	StuckSyncCheck Job // force-clear a wedged isSyncing flag: every 2min
}

const (
	highPriorityInterval = 5 * time.Second
	normalInterval       = 15 * time.Second
	lowPriorityInterval  = 60 * time.Second
	dlqReapInterval      = 10 * time.Minute
	stuckSyncInterval    = 2 * time.Minute
)

// Scheduler runs each configured Job on its own ticker.
type Scheduler struct {
	jobs   Jobs
	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Scheduler over jobs.
func New(jobs Jobs) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		logger: log.WithComponent("scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Start launches one goroutine per configured job.
func (s *Scheduler) Start(ctx context.Context) {
	s.run(ctx, "high_priority", highPriorityInterval, s.jobs.HighPriority)
	s.run(ctx, "normal", normalInterval, s.jobs.Normal)
	s.run(ctx, "low_priority", lowPriorityInterval, s.jobs.LowPriority)
	s.run(ctx, "dlq_reap", dlqReapInterval, s.jobs.DLQReap)
	s.run(ctx, "stuck_sync_check", stuckSyncInterval, s.jobs.StuckSyncCheck)
}

// Stop halts every running job and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	select {
	case <-s.stopCh:
		s.mu.Unlock()
		return // already stopped
	default:
		close(s.stopCh)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, name string, interval time.Duration, job Job) {
	if job == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := job(ctx); err != nil {
					s.logger.Error().Err(err).Str("job", name).Msg("scheduled job failed")
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}
