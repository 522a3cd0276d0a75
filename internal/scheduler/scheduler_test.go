package scheduler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/gather-bot/internal/logging"
)

type startRecorder struct {
	mu      sync.Mutex
	started []int
}

func (r *startRecorder) start(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
}

func (r *startRecorder) calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.started...)
}

func newTestScheduler(max int) (*Scheduler, *startRecorder) {
	rec := &startRecorder{}
	return New(max, rec.start).WithLogger(logging.Nop()), rec
}

func queueIDs(s *Scheduler) []int {
	var ids []int
	for _, e := range s.Snapshot().Queue {
		ids = append(ids, e.InstanceID)
	}
	return ids
}

func TestRequestStartWithinLimit(t *testing.T) {
	s, rec := newTestScheduler(2)

	assert.True(t, s.RequestStart(1, PriorityNormal))
	assert.True(t, s.RequestStart(2, PriorityNormal))
	assert.False(t, s.RequestStart(3, PriorityNormal))
	// repeated requests are idempotent
	assert.True(t, s.RequestStart(1, PriorityNormal))
	assert.False(t, s.RequestStart(3, PriorityHigh))

	running, hibernating, queued := s.QueueStatus()
	assert.Equal(t, 2, running)
	assert.Equal(t, 0, hibernating)
	assert.Equal(t, 1, queued)
	assert.Empty(t, rec.calls())
}

func TestPriorityOrdering(t *testing.T) {
	s, _ := newTestScheduler(1)
	require.True(t, s.RequestStart(9, PriorityNormal))

	// submitted C(Low), B(Normal), A(High) while full
	s.RequestStart(3, PriorityLow)
	s.RequestStart(2, PriorityNormal)
	s.RequestStart(1, PriorityHigh)
	assert.Equal(t, []int{1, 2, 3}, queueIDs(s))

	// stable within a tier
	s.RequestStart(4, PriorityNormal)
	s.RequestStart(5, PriorityHigh)
	s.RequestStart(6, PriorityLow)
	assert.Equal(t, []int{1, 5, 2, 4, 3, 6}, queueIDs(s))
}

func TestStopPromotesExactlyOnce(t *testing.T) {
	s, rec := newTestScheduler(1)
	s.RequestStart(1, PriorityNormal)
	s.RequestStart(2, PriorityNormal)
	s.RequestStart(3, PriorityNormal)

	s.UpdateStatus(1, StatusStopped)
	assert.Equal(t, []int{2}, rec.calls())
	assert.True(t, s.IsRunning(2))

	// a second stop report for the same instance does nothing
	s.UpdateStatus(1, StatusStopped)
	assert.Equal(t, []int{2}, rec.calls())

	s.UpdateStatus(2, StatusHibernating)
	assert.Equal(t, []int{2, 3}, rec.calls())

	running, hibernating, queued := s.QueueStatus()
	assert.Equal(t, 1, running)
	assert.Equal(t, 1, hibernating)
	assert.Equal(t, 0, queued)
}

func TestLoweringMaxYieldsLowestPriority(t *testing.T) {
	s, rec := newTestScheduler(3)
	require.True(t, s.RequestStart(1, PriorityHigh))
	require.True(t, s.RequestStart(2, PriorityNormal))
	require.True(t, s.RequestStart(3, PriorityLow))

	s.SetMaxConcurrent(1)

	// nothing is stopped, the two lowest are requeued
	running, _, queued := s.QueueStatus()
	assert.Equal(t, 1, running)
	assert.Equal(t, 2, queued)
	assert.True(t, s.IsRunning(1))
	assert.Equal(t, []int{2, 3}, queueIDs(s))
	snap := s.Snapshot()
	assert.Len(t, snap.Yielding, 2)

	// yielding instances stop: no double decrement, no promotion
	s.UpdateStatus(3, StatusStopped)
	s.UpdateStatus(2, StatusStopped)
	running, _, queued = s.QueueStatus()
	assert.Equal(t, 1, running)
	assert.Equal(t, 2, queued)
	assert.Empty(t, rec.calls())
	assert.Empty(t, s.Snapshot().Yielding)

	// the real slot holder stopping promotes the queue front once
	s.UpdateStatus(1, StatusStopped)
	assert.Equal(t, []int{2}, rec.calls())
	running, _, queued = s.QueueStatus()
	assert.Equal(t, 1, running)
	assert.Equal(t, 1, queued)
}

func TestRaisingMaxResumesYieldingWithoutRestart(t *testing.T) {
	s, rec := newTestScheduler(2)
	s.RequestStart(1, PriorityNormal)
	s.RequestStart(2, PriorityNormal)
	s.RequestStart(3, PriorityLow)

	s.SetMaxConcurrent(1) // 2 yields, queue [2, 3]
	s.SetMaxConcurrent(3)

	assert.True(t, s.IsRunning(2))
	assert.True(t, s.IsRunning(3))
	// only 3 actually needed starting
	assert.Equal(t, []int{3}, rec.calls())
}

func TestRunningNeverExceedsMax(t *testing.T) {
	s, _ := newTestScheduler(2)
	for id := 1; id <= 6; id++ {
		s.RequestStart(id, Priority(id%3))
		running, _, _ := s.QueueStatus()
		assert.LessOrEqual(t, running, s.MaxConcurrent())
	}
	// an instance started outside the scheduler while full is counted as yielding
	s.UpdateStatus(42, StatusRunning)
	running, _, _ := s.QueueStatus()
	assert.Equal(t, 2, running)

	for id := 1; id <= 6; id++ {
		s.UpdateStatus(id, StatusStopped)
		running, _, _ := s.QueueStatus()
		assert.LessOrEqual(t, running, s.MaxConcurrent())
	}
}

func TestCancelRemovesFromQueue(t *testing.T) {
	s, rec := newTestScheduler(1)
	s.RequestStart(1, PriorityNormal)
	s.RequestStart(2, PriorityNormal)
	s.Cancel(2)

	s.UpdateStatus(1, StatusStopped)
	assert.Empty(t, rec.calls())
	running, _, queued := s.QueueStatus()
	assert.Equal(t, 0, running)
	assert.Equal(t, 0, queued)
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityHigh, ParsePriority(" HIGH "))
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityNormal, ParsePriority("whatever"))
	assert.Equal(t, "normal", PriorityNormal.String())
}
