// Package engine drives dispatch cycles: one tick takes the run lock,
// dispatches due reminders, and records a cron run row as heartbeat.
package engine

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/caltrigger-io/caltrigger/internal/cron"
	"github.com/caltrigger-io/caltrigger/internal/dispatcher"
	"github.com/caltrigger-io/caltrigger/internal/domain"
)

type Dispatcher interface {
	DispatchDue(ctx context.Context, now time.Time) (dispatcher.Result, error)
}

type RunStore interface {
	InsertCronRun(ctx context.Context, run domain.CronRun) error
}

// Locker serializes runs across instances. TryAcquire must be non-blocking.
type Locker interface {
	TryAcquire(ctx context.Context) (bool, func(), error)
}

// MetricsSink records engine metrics. All methods must be non-blocking and
// fire-and-forget.
type MetricsSink interface {
	RunStarted()
	RunCompleted(duration time.Duration, due, sent, failed, skipped int, err error)
	RunSkippedLockHeld()
}

type Engine struct {
	dispatcher Dispatcher
	runs       RunStore
	lock       Locker      // optional, nil = no cross-instance serialization
	metrics    MetricsSink // optional, nil = disabled
	clock      func() time.Time
	dryRun     bool
}

func New(d Dispatcher, runs RunStore) *Engine {
	return &Engine{
		dispatcher: d,
		runs:       runs,
		clock:      time.Now,
	}
}

func (e *Engine) WithLock(lock Locker) *Engine {
	e.lock = lock
	return e
}

func (e *Engine) WithMetrics(sink MetricsSink) *Engine {
	e.metrics = sink
	return e
}

// WithClock overrides the time source, for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithDryRun marks run records as dry runs. The dispatcher itself must be
// configured for dry run separately; this only affects bookkeeping.
func (e *Engine) WithDryRun(dryRun bool) *Engine {
	e.dryRun = dryRun
	return e
}

// RunOnce executes one dispatch cycle. skipped reports that another instance
// holds the run lock, in which case nothing was dispatched or recorded. A
// dispatch error still produces a run record, marked unsuccessful.
func (e *Engine) RunOnce(ctx context.Context) (run domain.CronRun, skipped bool, err error) {
	if e.lock != nil {
		acquired, release, lockErr := e.lock.TryAcquire(ctx)
		if lockErr != nil {
			return domain.CronRun{}, false, lockErr
		}
		if !acquired {
			log.Println("engine: run lock held by another instance, skipping tick")
			if e.metrics != nil {
				e.metrics.RunSkippedLockHeld()
			}
			return domain.CronRun{}, true, nil
		}
		defer release()
	}

	started := e.clock()
	if e.metrics != nil {
		e.metrics.RunStarted()
	}

	result, dispatchErr := e.dispatcher.DispatchDue(ctx, started)
	finished := e.clock()

	run = domain.CronRun{
		ID:                uuid.New(),
		StartedAt:         started,
		FinishedAt:        finished,
		DurationMs:        finished.Sub(started).Milliseconds(),
		Success:           dispatchErr == nil,
		DryRun:            e.dryRun,
		TriggersProcessed: result.TriggersProcessed,
		RemindersDue:      result.Due,
		RemindersSent:     result.Sent,
		RemindersFailed:   result.Failed,
		RemindersSkipped:  result.Skipped,
	}
	if dispatchErr != nil {
		run.Message = dispatchErr.Error()
	}

	if insertErr := e.runs.InsertCronRun(ctx, run); insertErr != nil {
		log.Printf("engine: record run: %v", insertErr)
	}
	if e.metrics != nil {
		e.metrics.RunCompleted(finished.Sub(started), result.Due, result.Sent, result.Failed, result.Skipped, dispatchErr)
	}

	log.Printf("engine: run finished success=%t duration=%dms triggers=%d due=%d sent=%d failed=%d skipped=%d",
		run.Success, run.DurationMs, run.TriggersProcessed, run.RemindersDue,
		run.RemindersSent, run.RemindersFailed, run.RemindersSkipped)

	return run, false, dispatchErr
}

// Run ticks on the schedule until ctx is cancelled. Dispatch errors are
// logged and the loop continues; only cancellation stops it.
func (e *Engine) Run(ctx context.Context, sched cron.Schedule) {
	for {
		next := sched.Next(e.clock())
		wait := next.Sub(e.clock())
		if wait < 0 {
			wait = 0
		}
		log.Printf("engine: next run at %s", next.UTC().Format(time.RFC3339))

		select {
		case <-ctx.Done():
			log.Println("engine: stopped")
			return
		case <-time.After(wait):
		}

		if _, _, err := e.RunOnce(ctx); err != nil {
			log.Printf("engine: run failed: %v", err)
		}
	}
}
