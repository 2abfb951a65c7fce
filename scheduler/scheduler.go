package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/followups"
	"github.com/wapilot/wapilot/infrastructure/coordination"
	"github.com/wapilot/wapilot/reminders"
	"github.com/wapilot/wapilot/summaries"
)

const (
	tickInterval = 30 * time.Second

	leaseKey = "scheduler:lock"
	// The lease is never released; expiry rotates leadership, so a crashed
	// leader is replaced within six ticks.
	leaseTTL = 180 * time.Second
)

// Scheduler runs the periodic background cycle on exactly one instance at a
// time, elected through a store lease.
type Scheduler struct {
	store     coordination.Store
	reminders *reminders.Engine
	summaries *summaries.Engine
	followups *followups.Engine
}

func New(store coordination.Store, remindersEngine *reminders.Engine, summariesEngine *summaries.Engine, followupsEngine *followups.Engine) *Scheduler {
	return &Scheduler{
		store:     store,
		reminders: remindersEngine,
		summaries: summariesEngine,
		followups: followupsEngine,
	}
}

// Run ticks until the context is cancelled. The loop itself never dies: every
// cycle is wrapped in panic recovery.
func (s *Scheduler) Run(ctx context.Context) {
	logrus.Info("[SCHEDULER] Started")
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("[SCHEDULER] Stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("[SCHEDULER] Cycle panicked: %v", r)
		}
	}()

	acquired, err := s.store.AcquireLease(ctx, leaseKey, leaseTTL)
	if err != nil {
		// Coordination store down: better a duplicated cycle than none.
		logrus.WithError(err).Warn("[SCHEDULER] Lease check failed, running unconditionally")
	} else if !acquired {
		return
	}

	s.cycle(ctx)
}

// cycle runs the background stages in a fixed order. Each stage owns its own
// error handling; a failing stage never blocks the ones after it.
func (s *Scheduler) cycle(ctx context.Context) {
	start := time.Now()

	s.stage(ctx, "reminders", func(ctx context.Context) {
		s.reminders.ProcessPending(ctx)
	})
	s.stage(ctx, "summaries", func(ctx context.Context) {
		s.summaries.ProcessPending(ctx)
	})
	s.stage(ctx, "summary_retries", func(ctx context.Context) {
		s.summaries.RetryPending(ctx)
	})
	s.stage(ctx, "followup_timers", func(ctx context.Context) {
		s.followups.CheckTimers(ctx)
	})
	s.stage(ctx, "followups", func(ctx context.Context) {
		s.followups.ProcessPending(ctx)
	})

	if elapsed := time.Since(start); elapsed > tickInterval {
		logrus.Warnf("[SCHEDULER] Cycle took %s, longer than the tick interval", elapsed.Round(time.Millisecond))
	}
}

func (s *Scheduler) stage(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("[SCHEDULER] Stage %s panicked: %v", name, r)
		}
	}()
	fn(ctx)
}
