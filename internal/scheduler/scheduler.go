package scheduler

import (
	"sort"
	"sync"

	"jordanella.com/gather-bot/internal/logging"
	"jordanella.com/gather-bot/internal/metrics"
)

// DefaultMaxConcurrent is the number of emulators allowed to run at once
const DefaultMaxConcurrent = 2

type runningEntry struct {
	Entry
	seq uint64 // admission order
}

// Scheduler gates how many instances run at once.
//
// An instance is in at most one of running or yielding. Yielding instances are
// still working but have been displaced by a lower limit; they are also in the
// queue and give up their place in running when they next stop.
type Scheduler struct {
	mu          sync.Mutex
	max         int
	running     map[int]runningEntry
	yielding    map[int]runningEntry
	hibernating map[int]bool
	queue       []Entry
	seq         uint64

	start   StartFunc
	log     *logging.Logger
	metrics *metrics.Metrics
}

// New creates a scheduler; start is called for every instance promoted from the queue
func New(maxConcurrent int, start StartFunc) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Scheduler{
		max:         maxConcurrent,
		running:     make(map[int]runningEntry),
		yielding:    make(map[int]runningEntry),
		hibernating: make(map[int]bool),
		start:       start,
		log:         logging.NewLogger("scheduler"),
	}
}

// WithLogger replaces the logger
func (s *Scheduler) WithLogger(l *logging.Logger) *Scheduler {
	s.log = l
	return s
}

// WithMetrics attaches metrics
func (s *Scheduler) WithMetrics(m *metrics.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// RequestStart admits an instance when a slot is free and returns true; the
// caller then starts it. Otherwise the instance is queued by priority and
// started later through the StartFunc.
func (s *Scheduler) RequestStart(instanceID int, priority Priority) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishLocked()

	if _, ok := s.running[instanceID]; ok {
		return true
	}
	if s.queuedLocked(instanceID) >= 0 {
		return false
	}

	if len(s.running) < s.max {
		s.admitLocked(Entry{InstanceID: instanceID, Priority: priority})
		return true
	}

	s.enqueueLocked(Entry{InstanceID: instanceID, Priority: priority})
	s.log.InfoWithContext("Instance queued", map[string]interface{}{
		"instance": instanceID,
		"priority": priority.String(),
		"position": s.queuedLocked(instanceID) + 1,
	})
	return false
}

// UpdateStatus records a status reported by an instance. Leaving Running
// frees its slot and promotes the front of the queue.
func (s *Scheduler) UpdateStatus(instanceID int, status Status) {
	var toStart []int

	s.mu.Lock()
	switch status {
	case StatusRunning:
		delete(s.hibernating, instanceID)
		_, isRunning := s.running[instanceID]
		_, isYielding := s.yielding[instanceID]
		if !isRunning && !isYielding {
			// started outside the scheduler
			entry := Entry{InstanceID: instanceID, Priority: PriorityNormal}
			if i := s.queuedLocked(instanceID); i >= 0 {
				entry = s.queue[i]
				s.removeQueuedLocked(instanceID)
			}
			if len(s.running) < s.max {
				s.admitLocked(entry)
			} else {
				s.seq++
				s.yielding[instanceID] = runningEntry{Entry: entry, seq: s.seq}
				s.enqueueLocked(entry)
			}
		}

	case StatusStopped, StatusHibernating:
		if status == StatusHibernating {
			s.hibernating[instanceID] = true
		} else {
			delete(s.hibernating, instanceID)
		}

		if _, ok := s.running[instanceID]; ok {
			delete(s.running, instanceID)
			toStart = s.promoteLocked()
		} else if _, ok := s.yielding[instanceID]; ok {
			// already excluded from the running count, stays queued
			delete(s.yielding, instanceID)
		}
	}
	s.publishLocked()
	s.mu.Unlock()

	s.startAll(toStart)
}

// Cancel forgets a queued or yielding instance (user stop). A running instance
// still has to report Stopped to free its slot.
func (s *Scheduler) Cancel(instanceID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeQueuedLocked(instanceID)
	delete(s.yielding, instanceID)
	delete(s.hibernating, instanceID)
	s.publishLocked()
}

// SetMaxConcurrent changes the limit. Lowering it never stops anything: the
// lowest-priority running instances become yielding. Raising it promotes from
// the queue; a yielding instance promoted this way keeps running without a restart.
func (s *Scheduler) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}

	var toStart []int
	s.mu.Lock()
	s.max = n

	if excess := len(s.running) - n; excess > 0 {
		victims := make([]runningEntry, 0, len(s.running))
		for _, e := range s.running {
			victims = append(victims, e)
		}
		// lowest priority first, newest first within a priority
		sort.Slice(victims, func(i, j int) bool {
			if victims[i].Priority != victims[j].Priority {
				return victims[i].Priority < victims[j].Priority
			}
			return victims[i].seq > victims[j].seq
		})
		for _, v := range victims[:excess] {
			delete(s.running, v.InstanceID)
			s.yielding[v.InstanceID] = v
			s.enqueueLocked(v.Entry)
			s.log.InfoWithContext("Instance yielding its slot", map[string]interface{}{
				"instance": v.InstanceID,
				"priority": v.Priority.String(),
			})
		}
	} else {
		toStart = s.promoteLocked()
	}
	s.publishLocked()
	s.mu.Unlock()

	s.startAll(toStart)
}

// MaxConcurrent returns the current limit
func (s *Scheduler) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max
}

// QueueStatus returns the number of running, hibernating and queued instances
func (s *Scheduler) QueueStatus() (running, hibernating, queued int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running), len(s.hibernating), len(s.queue)
}

// IsRunning reports whether an instance holds a slot
func (s *Scheduler) IsRunning(instanceID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[instanceID]
	return ok
}

// Snapshot copies the scheduler state
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		MaxConcurrent: s.max,
		Running:       sortedEntries(s.running),
		Yielding:      sortedEntries(s.yielding),
		Queue:         append([]Entry{}, s.queue...),
		Hibernating:   make([]int, 0, len(s.hibernating)),
	}
	for id := range s.hibernating {
		snap.Hibernating = append(snap.Hibernating, id)
	}
	sort.Ints(snap.Hibernating)
	return snap
}

func sortedEntries(m map[int]runningEntry) []Entry {
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e.Entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

func (s *Scheduler) admitLocked(e Entry) {
	s.seq++
	s.running[e.InstanceID] = runningEntry{Entry: e, seq: s.seq}
	delete(s.hibernating, e.InstanceID)
}

// promoteLocked fills free slots from the queue front. Yielding instances are
// still working, so they are re-admitted without a start.
func (s *Scheduler) promoteLocked() []int {
	var toStart []int
	for len(s.running) < s.max && len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]

		if y, ok := s.yielding[next.InstanceID]; ok {
			delete(s.yielding, next.InstanceID)
			s.running[next.InstanceID] = y
			continue
		}
		s.admitLocked(next)
		toStart = append(toStart, next.InstanceID)
	}
	return toStart
}

// enqueueLocked inserts by priority, stable within a tier
func (s *Scheduler) enqueueLocked(e Entry) {
	pos := len(s.queue)
	for i, q := range s.queue {
		if q.Priority < e.Priority {
			pos = i
			break
		}
	}
	s.queue = append(s.queue, Entry{})
	copy(s.queue[pos+1:], s.queue[pos:])
	s.queue[pos] = e
}

func (s *Scheduler) queuedLocked(instanceID int) int {
	for i, q := range s.queue {
		if q.InstanceID == instanceID {
			return i
		}
	}
	return -1
}

func (s *Scheduler) removeQueuedLocked(instanceID int) {
	if i := s.queuedLocked(instanceID); i >= 0 {
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
	}
}

func (s *Scheduler) publishLocked() {
	s.metrics.SetScheduler(len(s.running), len(s.hibernating), len(s.queue))
}

func (s *Scheduler) startAll(ids []int) {
	if s.start == nil {
		return
	}
	for _, id := range ids {
		s.log.InfoWithContext("Promoting queued instance", map[string]interface{}{"instance": id})
		s.start(id)
	}
}
