package gather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/gather-bot/internal/march"
	"jordanella.com/gather-bot/internal/screenstate"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDeployCount(t *testing.T) {
	tests := []struct {
		name      string
		idle      []int
		active    int
		maxQueues int
		want      int
	}{
		{"spread idle slots", []int{2, 4, 5}, 1, 6, 3},
		{"limited by max queues", []int{1, 2, 3}, 4, 6, 2},
		{"nothing idle", nil, 2, 6, 0},
		{"already at max", []int{5, 6}, 3, 3, 0},
		{"over max after lowering it", []int{6}, 5, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeployCount(screenstate.Counts{Idle: tt.idle, Active: tt.active}, tt.maxQueues)
			if got != tt.want {
				t.Errorf("DeployCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCycleDeploysIntoIdleSlotsInRotationOrder(t *testing.T) {
	clock := &fixedClock{now: t0}
	sleeper := &recordingSleeper{}
	settings := newMemSettings(1)
	settings.update(1, func(s *Settings) { s.CursorIndex = 1 })

	dev := newFakeDevice()
	deps := testDeps(newFakeFinder(allTemplates()...), newFakeReader(fullPanelText, "00:05:30"), sleeper.Sleep, clock)
	o := newTestOrchestrator(1, dev, settings, deps)

	deployed, err := o.cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, deployed)

	active := deps.Tracker.ActiveFor(1)
	require.Len(t, active, 3)

	wantSlots := []int{2, 4, 5}
	wantResources := []march.ResourceType{march.ResourceWood, march.ResourceStone, march.ResourceIron}
	for i, r := range active {
		assert.Equal(t, wantSlots[i], r.Slot)
		assert.Equal(t, wantResources[i], r.Resource)
		assert.Equal(t, 5*time.Minute+30*time.Second, r.MarchDuration)
		assert.Equal(t, t0, r.DeployedAt)
		assert.Equal(t, MaxResourceLevel, r.Level)
	}

	assert.Equal(t, []int{2, 3, 4}, settings.cursors)
	assert.Equal(t, 4, o.Rotation().Cursor())

	slots := deps.Board.Slots(1)
	assert.Equal(t, screenstate.SlotGathering, slots[0])
	assert.Equal(t, screenstate.SlotLocked, slots[5])
}

func TestCycleRespectsMaxQueues(t *testing.T) {
	clock := &fixedClock{now: t0}
	settings := newMemSettings(1)
	settings.update(1, func(s *Settings) { s.MaxQueues = 2 })

	deps := testDeps(newFakeFinder(allTemplates()...), newFakeReader(fullPanelText, "00:05:30"), (&recordingSleeper{}).Sleep, clock)
	o := newTestOrchestrator(1, newFakeDevice(), settings, deps)

	deployed, err := o.cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, deployed)
}

func TestCycleSkipsSlotWithOutboundMarch(t *testing.T) {
	clock := &fixedClock{now: t0}
	settings := newMemSettings(1)

	// slot 3 has no keyword while its march is still heading out
	panel := "March Queue 1\nGathering\nMarch Queue 2\nGathering\nMarch Queue 3\n" +
		"March Queue 4\nUnlock\nMarch Queue 5\nUnlock\nMarch Queue 6\nUnlock"
	deps := testDeps(newFakeFinder(allTemplates()...), newFakeReader(panel, "00:05:00"), (&recordingSleeper{}).Sleep, clock)
	outbound := deps.Tracker.Register(march.NewRecord(1, 3, march.ResourceIron, t0.Add(-time.Minute), 5*time.Minute, time.Hour))

	o := newTestOrchestrator(1, newFakeDevice(), settings, deps)
	deployed, err := o.cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, deployed)

	got, ok := deps.Tracker.Get(1, 3)
	require.True(t, ok)
	assert.Equal(t, outbound.ID, got.ID)
	assert.Equal(t, march.ResourceIron, got.Resource)
	assert.Empty(t, settings.cursors, "rotation must not advance")
}

func TestExcludeOutbound(t *testing.T) {
	active := []march.Record{
		march.NewRecord(1, 2, march.ResourceFood, t0.Add(-time.Minute), 5*time.Minute, time.Hour),
		march.NewRecord(1, 3, march.ResourceWood, t0.Add(-10*time.Minute), 5*time.Minute, time.Hour),
	}
	c := excludeOutbound(screenstate.Counts{Idle: []int{1, 2, 3}, Active: 1, Busy: 1}, active, t0)

	assert.Equal(t, []int{1, 3}, c.Idle)
	assert.Equal(t, 2, c.Active)
	assert.Equal(t, 2, c.Busy)
}

func TestStepFailureAbortsOnlyThatMarch(t *testing.T) {
	clock := &fixedClock{now: t0}
	settings := newMemSettings(1)
	settings.update(1, func(s *Settings) { s.CursorIndex = 1 })

	finder := newFakeFinder(allTemplates()...)
	finder.set(ResourceTemplate(march.ResourceStone), false)

	dev := newFakeDevice()
	deps := testDeps(finder, newFakeReader(fullPanelText, "00:05:30"), (&recordingSleeper{}).Sleep, clock)
	o := newTestOrchestrator(1, dev, settings, deps)

	deployed, err := o.cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, deployed)

	_, ok := deps.Tracker.Get(1, 4)
	assert.False(t, ok, "stone march should not be registered")
	iron, ok := deps.Tracker.Get(1, 5)
	require.True(t, ok)
	assert.Equal(t, march.ResourceIron, iron.Resource)

	// the resource was still assigned, the cursor never goes back
	assert.Equal(t, 4, o.Rotation().Cursor())

	reports := deps.Reporter.Recent(-1, 1)
	require.Len(t, reports, 1)
	assert.Equal(t, "macro", reports[0].Component)
}

func TestEmptyQueueOCRFailsCycle(t *testing.T) {
	clock := &fixedClock{now: t0}
	deps := testDeps(newFakeFinder(allTemplates()...), newFakeReader("", "00:05:30"), (&recordingSleeper{}).Sleep, clock)
	o := newTestOrchestrator(1, newFakeDevice(), newMemSettings(1), deps)

	deployed, err := o.cycle(context.Background())
	assert.Equal(t, 0, deployed)

	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ReasonQueueOCR, ce.Reason)
	assert.ErrorIs(t, err, ErrUnreadablePanel)
	assert.Empty(t, deps.Tracker.AllActive())
}

func TestQueuePanelUnreachableFailsCycle(t *testing.T) {
	clock := &fixedClock{now: t0}
	finder := newFakeFinder(allTemplates()...)
	finder.set(TmplQueuePanelHeader, false)

	dev := newFakeDevice()
	deps := testDeps(finder, newFakeReader(fullPanelText, "00:05:30"), (&recordingSleeper{}).Sleep, clock)
	o := newTestOrchestrator(1, dev, newMemSettings(1), deps)

	_, err := o.cycle(context.Background())
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ReasonQueuePanel, ce.Reason)
	assert.ErrorIs(t, err, ErrPanelNotOpen)
	assert.Equal(t, panelAttempts-1, dev.tapped(CoordQueuePanel))
}

func TestMarchTimeFallsBackToEstimate(t *testing.T) {
	for _, text := range []string{"", "abc", "99:00:00"} {
		t.Run(text, func(t *testing.T) {
			clock := &fixedClock{now: t0}
			deps := testDeps(newFakeFinder(allTemplates()...), newFakeReader(fullPanelText, text), (&recordingSleeper{}).Sleep, clock)
			settings := newMemSettings(1)
			settings.update(1, func(s *Settings) { s.MaxQueues = 2 })
			o := newTestOrchestrator(1, newFakeDevice(), settings, deps)

			_, err := o.cycle(context.Background())
			require.NoError(t, err)

			r, ok := deps.Tracker.Get(1, 2)
			require.True(t, ok)
			assert.Equal(t, deps.Timings.MarchEstimate, r.MarchDuration)
			assert.Equal(t, deps.Timings.GatherEstimate, r.GatherDuration)
		})
	}
}

func TestReconcileCompletesArrivedMarches(t *testing.T) {
	clock := &fixedClock{now: t0}
	deps := testDeps(newFakeFinder(), newFakeReader("", ""), (&recordingSleeper{}).Sleep, clock)
	o := newTestOrchestrator(1, newFakeDevice(), newMemSettings(1), deps)

	deps.Tracker.Register(march.NewRecord(1, 2, march.ResourceFood, t0.Add(-time.Hour), 5*time.Minute, 2*time.Hour))
	deps.Tracker.Register(march.NewRecord(1, 3, march.ResourceWood, t0.Add(-time.Minute), 5*time.Minute, 2*time.Hour))
	deps.Tracker.Register(march.NewRecord(1, 1, march.ResourceIron, t0.Add(-time.Hour), 5*time.Minute, 2*time.Hour))

	statuses := []screenstate.SlotStatus{
		screenstate.SlotGathering, screenstate.SlotIdle, screenstate.SlotIdle,
		screenstate.SlotUnavailable, screenstate.SlotUnavailable, screenstate.SlotUnavailable,
	}
	o.reconcile(statuses)

	_, ok := deps.Tracker.Get(1, 2)
	assert.False(t, ok, "slot 2 came home")
	_, ok = deps.Tracker.Get(1, 3)
	assert.True(t, ok, "slot 3 is still marching out")
	_, ok = deps.Tracker.Get(1, 1)
	assert.True(t, ok, "slot 1 is gathering")

	completed := deps.Tracker.AllCompleted()
	require.Len(t, completed, 1)
	assert.Equal(t, 2, completed[0].Slot)
}

func TestPreciseGatherTime(t *testing.T) {
	r := march.NewRecord(1, 1, march.ResourceFood, t0, 10*time.Minute, 2*time.Hour)

	got := PreciseGatherTime(r, t0.Add(40*time.Minute), time.Hour)
	assert.Equal(t, 90*time.Minute, got)

	// read before the march arrived counts only the remaining time
	got = PreciseGatherTime(r, t0.Add(5*time.Minute), time.Hour)
	assert.Equal(t, time.Hour, got)
}

func TestCollectDetailsUpdatesTracker(t *testing.T) {
	clock := &fixedClock{now: t0}
	dev := newFakeDevice()
	deps := testDeps(newFakeFinder(), newFakeReader("", "01:00:00"), (&recordingSleeper{}).Sleep, clock)
	o := newTestOrchestrator(1, dev, newMemSettings(1), deps)

	deps.Tracker.Register(march.NewRecord(1, 1, march.ResourceFood, t0.Add(-20*time.Minute), 5*time.Minute, 2*time.Hour))

	statuses := []screenstate.SlotStatus{
		screenstate.SlotGathering, screenstate.SlotIdle, screenstate.SlotIdle,
		screenstate.SlotUnavailable, screenstate.SlotUnavailable, screenstate.SlotUnavailable,
	}
	o.collectDetails(context.Background(), statuses)

	r, ok := deps.Tracker.Get(1, 1)
	require.True(t, ok)
	assert.True(t, r.DetailsCollected)
	assert.Equal(t, 75*time.Minute, r.GatherDuration)
	assert.Equal(t, 85*time.Minute, r.TotalDuration)
	assert.Equal(t, t0.Add(-20*time.Minute), r.DeployedAt)
	assert.Equal(t, 1, dev.tapped(CoordSlotRow[0]))
	assert.Equal(t, 1, dev.tapped(CoordDetailsClose))
}

func TestCheckHibernate(t *testing.T) {
	clock := &fixedClock{now: t0}
	deps := testDeps(newFakeFinder(), newFakeReader("", ""), (&recordingSleeper{}).Sleep, clock)
	deps.Hibernate = HibernatePolicy{Enabled: true, Threshold: 10 * time.Minute, WakeLead: 2 * time.Minute}
	o := newTestOrchestrator(1, newFakeDevice(), newMemSettings(1), deps)

	assert.NoError(t, o.checkHibernate(), "no tracked marches")

	r := deps.Tracker.Register(march.NewRecord(1, 1, march.ResourceFood, t0, 10*time.Minute, 40*time.Minute))
	err := o.checkHibernate()
	var hib *HibernateError
	require.ErrorAs(t, err, &hib)
	assert.Equal(t, r.CompletesAt().Add(-2*time.Minute), hib.WakeAt)

	clock.Advance(55 * time.Minute)
	assert.NoError(t, o.checkHibernate(), "return is too close")
}

func TestRunBacksOffAndStops(t *testing.T) {
	clock := &fixedClock{now: t0}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeper := &recordingSleeper{cancel: cancel, limit: 3}
	reader := newFakeReader("", "")
	reader.panics = 1

	deps := testDeps(newFakeFinder(allTemplates()...), reader, sleeper.Sleep, clock)
	o := newTestOrchestrator(1, newFakeDevice(), newMemSettings(1), deps)

	err := o.Run(ctx)
	require.NoError(t, err)

	// every cycle fails before any other wait, so these are the backoff steps
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}, sleeper.recorded())
	assert.Equal(t, StateStopped, deps.Board.Get(1).State)

	reports := deps.Reporter.Recent(-1, 1)
	require.Len(t, reports, 3)
	// newest first; the oldest one is the recovered panic
	assert.Equal(t, "Unexpected error", reports[2].Message)
	assert.Equal(t, "Could not read the march queues", reports[0].Message)
}

func TestRunReturnsHibernateError(t *testing.T) {
	clock := &fixedClock{now: t0}
	fullText := "March Queue 1\nGathering\nMarch Queue 2\nGathering\nMarch Queue 3\nGathering"

	deps := testDeps(newFakeFinder(allTemplates()...), newFakeReader(fullText, ""), (&recordingSleeper{}).Sleep, clock)
	deps.Hibernate = HibernatePolicy{Enabled: true, Threshold: 10 * time.Minute}
	deps.Tracker.Register(march.NewRecord(1, 1, march.ResourceFood, t0, 10*time.Minute, 2*time.Hour))

	o := newTestOrchestrator(1, newFakeDevice(), newMemSettings(1), deps)
	err := o.Run(context.Background())

	var hib *HibernateError
	require.True(t, errors.As(err, &hib))
	assert.Equal(t, t0.Add(140*time.Minute), hib.WakeAt)
}

func TestEnsureWorldView(t *testing.T) {
	clock := &fixedClock{now: t0}

	t.Run("fast path", func(t *testing.T) {
		dev := newFakeDevice()
		deps := testDeps(newFakeFinder(TmplWorldIndicator), newFakeReader("", ""), (&recordingSleeper{}).Sleep, clock)
		o := newTestOrchestrator(1, dev, newMemSettings(1), deps)

		require.NoError(t, o.macro.ensureWorldView(context.Background(), false))
		assert.Equal(t, 1, dev.captures)
		assert.Empty(t, dev.taps)
	})

	t.Run("bounded full loop", func(t *testing.T) {
		dev := newFakeDevice()
		deps := testDeps(newFakeFinder(), newFakeReader("", ""), (&recordingSleeper{}).Sleep, clock)
		o := newTestOrchestrator(1, dev, newMemSettings(1), deps)

		err := o.macro.ensureWorldView(context.Background(), false)
		assert.ErrorIs(t, err, ErrNotInWorldView)
		// the first full check reuses the fast check's frame
		assert.Equal(t, deps.Timings.WorldViewChecks, dev.captures)
		assert.Equal(t, deps.Timings.WorldViewChecks, dev.tapped(CoordWorldToggle))
	})
}

func TestDeviceReusesFrameUntilInput(t *testing.T) {
	dev := newFakeDevice()
	io := newDeviceIO(dev, newFakeFinder(TmplSearchButton), DefaultDeviceRetry(), (&recordingSleeper{}).Sleep, nil)
	ctx := context.Background()

	first, err := io.capture(ctx)
	require.NoError(t, err)
	res, err := io.locate(ctx, TmplSearchButton, 0.8)
	require.NoError(t, err)
	assert.True(t, res.IsFound())
	second, err := io.capture(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, dev.captures)

	require.NoError(t, io.tap(ctx, CoordSearch))
	_, err = io.capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.captures)

	require.NoError(t, io.swipe(ctx, CoordListSwipeFrom, CoordListSwipeTo, 200*time.Millisecond))
	_, err = io.capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dev.captures)
}

func TestDeviceRetriesTransientFailures(t *testing.T) {
	sleeper := &recordingSleeper{}
	dev := newFakeDevice()
	dev.tapErrors = 2

	io := newDeviceIO(dev, nil, DefaultDeviceRetry(), sleeper.Sleep, nil)
	require.NoError(t, io.tap(context.Background(), CoordSearch))
	assert.Equal(t, 1, dev.tapped(CoordSearch))
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeper.recorded())

	dev.tapErrors = 5
	err := io.tap(context.Background(), CoordSearch)
	assert.Error(t, err)
}
