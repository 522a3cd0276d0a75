package march

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCompletedLimit bounds the completed history kept in memory
const DefaultCompletedLimit = 500

// Tracker is the authoritative registry of in-flight marches.
// It is shared between every instance worker and the status refresher, so all
// reads return copies.
type Tracker struct {
	mu             sync.RWMutex
	active         map[Key]Record
	completed      []Record
	completedLimit int
	now            func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		active:         make(map[Key]Record),
		completedLimit: DefaultCompletedLimit,
		now:            time.Now,
	}
}

// WithClock overrides the time source (tests)
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
	return t
}

// WithCompletedLimit sets how many completed records are retained
func (t *Tracker) WithCompletedLimit(limit int) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completedLimit = limit
	return t
}

// Register stores a record, replacing any active record for the same slot
func (t *Tracker) Register(r Record) Record {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.TotalDuration < r.MarchDuration {
		r.TotalDuration = roundTrip(r.MarchDuration, r.GatherDuration)
	}
	r.CompletedAt = nil

	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[r.Key()] = r
	return r
}

// UpdatePreciseGatherTime replaces the gather estimate with a measured value.
// DeployedAt is preserved; TotalDuration is recomputed. A record already past
// its total duration is Completed and is returned unchanged with false.
func (t *Tracker) UpdatePreciseGatherTime(instanceID, slot int, gather time.Duration) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := Key{InstanceID: instanceID, Slot: slot}
	r, ok := t.active[key]
	if !ok {
		return Record{}, false
	}
	if r.Phase(t.now()) == PhaseCompleted {
		return r, false
	}

	r.GatherDuration = gather
	r.TotalDuration = roundTrip(r.MarchDuration, gather)
	r.DetailsCollected = true
	t.active[key] = r
	return r, true
}

// MarkCompleted moves an active record to the completed set
func (t *Tracker) MarkCompleted(instanceID, slot int) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completeLocked(Key{InstanceID: instanceID, Slot: slot}, t.now())
}

func (t *Tracker) completeLocked(key Key, at time.Time) (Record, bool) {
	r, ok := t.active[key]
	if !ok {
		return Record{}, false
	}
	delete(t.active, key)

	completedAt := at
	r.CompletedAt = &completedAt
	t.completed = append(t.completed, r)
	if t.completedLimit > 0 && len(t.completed) > t.completedLimit {
		t.completed = append([]Record(nil), t.completed[len(t.completed)-t.completedLimit:]...)
	}
	return r, true
}

// Remove drops an active record without recording completion (cancellation)
func (t *Tracker) Remove(instanceID, slot int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := Key{InstanceID: instanceID, Slot: slot}
	if _, ok := t.active[key]; !ok {
		return false
	}
	delete(t.active, key)
	return true
}

// Get returns a copy of the active record for a slot
func (t *Tracker) Get(instanceID, slot int) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.active[Key{InstanceID: instanceID, Slot: slot}]
	return r, ok
}

// AllActive returns a snapshot of active records ordered by instance then slot
func (t *Tracker) AllActive() []Record {
	t.mu.RLock()
	records := make([]Record, 0, len(t.active))
	for _, r := range t.active {
		records = append(records, r)
	}
	t.mu.RUnlock()

	sortRecords(records)
	return records
}

// ActiveFor returns a snapshot of active records for one instance
func (t *Tracker) ActiveFor(instanceID int) []Record {
	t.mu.RLock()
	var records []Record
	for key, r := range t.active {
		if key.InstanceID == instanceID {
			records = append(records, r)
		}
	}
	t.mu.RUnlock()

	sortRecords(records)
	return records
}

// AllCompleted returns a snapshot of completed records, oldest first
func (t *Tracker) AllCompleted() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Record(nil), t.completed...)
}

// SweepCompleted moves every record whose elapsed time has reached its total
// into the completed set and returns the moved records.
func (t *Tracker) SweepCompleted() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var due []Key
	for key, r := range t.active {
		if r.Phase(now) == PhaseCompleted {
			due = append(due, key)
		}
	}

	moved := make([]Record, 0, len(due))
	for _, key := range due {
		r := t.active[key]
		if done, ok := t.completeLocked(key, r.CompletesAt()); ok {
			moved = append(moved, done)
		}
	}
	sortRecords(moved)
	return moved
}

// NextCompletion returns the earliest expected return among an instance's marches
func (t *Tracker) NextCompletion(instanceID int) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var next time.Time
	found := false
	for key, r := range t.active {
		if key.InstanceID != instanceID {
			continue
		}
		at := r.CompletesAt()
		if !found || at.Before(next) {
			next = at
			found = true
		}
	}
	return next, found
}

// Now returns the tracker's clock reading
func (t *Tracker) Now() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.now()
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].InstanceID != records[j].InstanceID {
			return records[i].InstanceID < records[j].InstanceID
		}
		return records[i].Slot < records[j].Slot
	})
}
