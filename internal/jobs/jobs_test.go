package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/gather-bot/internal/events"
	"jordanella.com/gather-bot/internal/gather"
	"jordanella.com/gather-bot/internal/logging"
	"jordanella.com/gather-bot/internal/march"
)

type fakePruner struct {
	mu    sync.Mutex
	calls []time.Duration
	err   error
}

func (p *fakePruner) Prune(retention time.Duration) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, retention)
	return 3, p.err
}

func TestNewRejectsBadSpec(t *testing.T) {
	schedule := DefaultSchedule()
	schedule.Sweep = "whenever"

	_, err := New(schedule, Deps{Tracker: march.NewTracker()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep")
}

func TestNewSkipsJobsWithoutDeps(t *testing.T) {
	r, err := New(DefaultSchedule(), Deps{Board: gather.NewStatusBoard(nil)})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Entries())

	r, err = New(DefaultSchedule(), Deps{
		Board:   gather.NewStatusBoard(nil),
		Tracker: march.NewTracker(),
		Pruner:  &fakePruner{},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Entries(), "prune needs a retention window")
}

func TestSweepMarchesPublishesCompletions(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	tracker := march.NewTracker().WithClock(func() time.Time { return now })
	tracker.Register(march.NewRecord(1, 1, march.ResourceFood, now.Add(-3*time.Hour), 5*time.Minute, 2*time.Hour))
	tracker.Register(march.NewRecord(1, 2, march.ResourceWood, now.Add(-time.Hour), 5*time.Minute, 2*time.Hour))
	tracker.Register(march.NewRecord(2, 1, march.ResourceIron, now.Add(-4*time.Hour), 5*time.Minute, 2*time.Hour))

	bus := events.NewEventBus(8)
	var mu sync.Mutex
	var got []events.Event
	bus.Subscribe(events.EventTypeMarchCompleted, func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})

	r, err := New(DefaultSchedule(), Deps{Tracker: tracker, Bus: bus})
	require.NoError(t, err)
	r.WithLogger(logging.Nop())

	done := r.SweepMarches()
	bus.Stop()

	require.Len(t, done, 2)
	assert.Len(t, tracker.AllActive(), 1)
	assert.Len(t, tracker.AllCompleted(), 2)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, "sweeper", e.Source)
		rec, ok := e.Record()
		require.True(t, ok)
		assert.NotNil(t, rec.CompletedAt)
	}

	assert.Empty(t, r.SweepMarches())
}

func TestPruneHistory(t *testing.T) {
	pruner := &fakePruner{}
	r, err := New(DefaultSchedule(), Deps{Pruner: pruner, Retention: 48 * time.Hour})
	require.NoError(t, err)
	r.WithLogger(logging.Nop())

	r.PruneHistory()
	pruner.err = errors.New("disk full")
	r.PruneHistory()

	assert.Equal(t, []time.Duration{48 * time.Hour, 48 * time.Hour}, pruner.calls)
}

func TestRunnerRefreshesBoard(t *testing.T) {
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	board := gather.NewStatusBoard(clock)
	board.SetCountdown(1, gather.StateCoolingDown, "Next check in", now.Add(10*time.Second))

	r, err := New(DefaultSchedule(), Deps{Board: board})
	require.NoError(t, err)
	r.WithLogger(logging.Nop())
	r.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	}()

	mu.Lock()
	now = now.Add(4 * time.Second)
	mu.Unlock()

	require.Eventually(t, func() bool {
		return board.Activity(1) == "Next check in 00:00:06"
	}, 3*time.Second, 20*time.Millisecond)
}
