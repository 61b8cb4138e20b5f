// Package heartbeat reports whether the dispatch engine is alive, based on
// the recency of its run records rather than on process introspection.
package heartbeat

import (
	"context"
	"log"
	"time"

	"github.com/caltrigger-io/caltrigger/internal/cron"
	"github.com/caltrigger-io/caltrigger/internal/domain"
)

// DefaultStaleness allows one hourly tick plus slack before the engine is
// considered down.
const DefaultStaleness = 65 * time.Minute

const nextRunCount = 3

type RunSource interface {
	LatestCronRun(ctx context.Context) (domain.CronRun, bool, error)
}

// Status is the heartbeat snapshot served to operators.
type Status struct {
	IsRunning bool
	LastRun   *domain.CronRun
	NextRuns  []time.Time
}

// Monitor derives engine liveness from the newest cron run record.
type Monitor struct {
	runs       RunSource
	parser     *cron.Parser
	expression string
	timezone   string
	staleness  time.Duration
}

func NewMonitor(runs RunSource, expression, timezone string) *Monitor {
	return &Monitor{
		runs:       runs,
		parser:     cron.NewParser(),
		expression: expression,
		timezone:   timezone,
		staleness:  DefaultStaleness,
	}
}

// WithStaleness overrides the window after which a silent engine counts as
// down.
func (m *Monitor) WithStaleness(d time.Duration) *Monitor {
	if d > 0 {
		m.staleness = d
	}
	return m
}

// Check reports liveness at the given instant. The engine counts as running
// when its newest run started within the staleness window. A store error is
// returned as-is; no runs at all is a healthy-but-idle result, not an error.
func (m *Monitor) Check(ctx context.Context, now time.Time) (Status, error) {
	var status Status

	run, found, err := m.runs.LatestCronRun(ctx)
	if err != nil {
		return Status{}, err
	}
	if found {
		status.LastRun = &run
		status.IsRunning = now.Sub(run.StartedAt) <= m.staleness
	}

	status.NextRuns = m.nextRuns(now)
	return status, nil
}

// nextRuns predicts upcoming fire times. The timezone-aware evaluation is
// tried first; if the expression or zone does not resolve that way, a naive
// evaluation without zone conversion is attempted before giving up.
func (m *Monitor) nextRuns(now time.Time) []time.Time {
	sched, err := m.parser.Parse(m.expression, m.timezone)
	if err == nil {
		return cron.NextN(sched, now, nextRunCount)
	}
	log.Printf("heartbeat: timezone-aware parse of %q in %q failed: %v", m.expression, m.timezone, err)

	sched, err = m.parser.ParseNaive(m.expression)
	if err == nil {
		return cron.NextN(sched, now, nextRunCount)
	}
	log.Printf("heartbeat: naive parse of %q failed: %v", m.expression, err)
	return nil
}
