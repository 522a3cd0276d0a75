// Package jobs runs the periodic housekeeping around the gathering workers:
// refreshing countdown text, retiring marches that have returned and pruning history.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"jordanella.com/gather-bot/internal/events"
	"jordanella.com/gather-bot/internal/gather"
	"jordanella.com/gather-bot/internal/logging"
	"jordanella.com/gather-bot/internal/march"
	"jordanella.com/gather-bot/internal/metrics"
)

// Schedule holds cron specs; any spec accepted by cron.ParseStandard works
type Schedule struct {
	StatusRefresh string
	Sweep         string
	Prune         string
}

// DefaultSchedule refreshes and sweeps every second and prunes hourly
func DefaultSchedule() Schedule {
	return Schedule{
		StatusRefresh: "@every 1s",
		Sweep:         "@every 1s",
		Prune:         "@hourly",
	}
}

// Pruner deletes history older than a retention window
type Pruner interface {
	Prune(retention time.Duration) (int64, error)
}

// Deps are the components the jobs act on; nil members disable their job
type Deps struct {
	Board     *gather.StatusBoard
	Tracker   *march.Tracker
	Bus       events.EventBus
	Metrics   *metrics.Metrics
	Pruner    Pruner
	Retention time.Duration
}

// Runner owns the cron scheduler
type Runner struct {
	cron *cron.Cron
	deps Deps
	log  *logging.Logger
}

// New registers every job whose dependencies are present
func New(schedule Schedule, deps Deps) (*Runner, error) {
	r := &Runner{
		cron: cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger))),
		deps: deps,
		log:  logging.NewLogger("jobs"),
	}

	type job struct {
		name    string
		spec    string
		enabled bool
		fn      func()
	}
	for _, j := range []job{
		{"status_refresh", schedule.StatusRefresh, deps.Board != nil, r.RefreshStatus},
		{"sweep", schedule.Sweep, deps.Tracker != nil, func() { r.SweepMarches() }},
		{"prune", schedule.Prune, deps.Pruner != nil && deps.Retention > 0, r.PruneHistory},
	} {
		if !j.enabled {
			continue
		}
		if _, err := r.cron.AddFunc(j.spec, j.fn); err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", j.name, j.spec, err)
		}
	}
	return r, nil
}

// WithLogger replaces the component logger
func (r *Runner) WithLogger(log *logging.Logger) *Runner {
	r.log = log
	return r
}

// Start runs the scheduler in its own goroutine
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts the scheduler and waits for running jobs or ctx
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshStatus recomputes countdown activity text
func (r *Runner) RefreshStatus() {
	r.deps.Board.Refresh()
}

// SweepMarches completes marches whose round trip has elapsed, including those
// of hibernating instances whose panels nobody is reading
func (r *Runner) SweepMarches() []march.Record {
	done := r.deps.Tracker.SweepCompleted()
	if len(done) == 0 {
		return nil
	}

	touched := make(map[int]bool)
	for _, rec := range done {
		touched[rec.InstanceID] = true
		r.deps.Metrics.MarchCompleted(rec.InstanceID, string(rec.Resource))
		if r.deps.Bus != nil {
			r.deps.Bus.Publish(events.NewMarchCompletedEvent(rec, "sweeper"))
		}
	}
	for id := range touched {
		r.deps.Metrics.SetActiveMarches(id, len(r.deps.Tracker.ActiveFor(id)))
	}

	r.log.DebugWithContext("Swept completed marches", map[string]interface{}{"count": len(done)})
	return done
}

// PruneHistory deletes history older than the retention window
func (r *Runner) PruneHistory() {
	deleted, err := r.deps.Pruner.Prune(r.deps.Retention)
	if err != nil {
		r.log.Error("Failed to prune history", err)
		return
	}
	if deleted > 0 {
		r.log.InfoWithContext("Pruned history", map[string]interface{}{
			"rows":      deleted,
			"retention": r.deps.Retention.String(),
		})
	}
}

// Entries returns the number of registered jobs
func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}
