package gather

import (
	"sort"
	"sync"
	"time"

	"jordanella.com/gather-bot/internal/march"
	"jordanella.com/gather-bot/internal/screenstate"
)

// State is the phase of an instance's gathering loop
type State int

const (
	StateIdle State = iota
	StateQueued
	StateStarting
	StateSettingUpView
	StatePollingQueues
	StateDeciding
	StateDeployingMarches
	StateCoolingDown
	StateError
	StateHibernating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateQueued:
		return "Queued"
	case StateStarting:
		return "Starting"
	case StateSettingUpView:
		return "SettingUpView"
	case StatePollingQueues:
		return "PollingQueues"
	case StateDeciding:
		return "Deciding"
	case StateDeployingMarches:
		return "DeployingMarches"
	case StateCoolingDown:
		return "CoolingDown"
	case StateError:
		return "Error"
	case StateHibernating:
		return "Hibernating"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// MarshalText lets states serialize by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether the loop is working the device in this state
func (s State) Active() bool {
	switch s {
	case StateSettingUpView, StatePollingQueues, StateDeciding, StateDeployingMarches, StateCoolingDown, StateError:
		return true
	}
	return false
}

// InstanceStatus is a point-in-time view of one instance
type InstanceStatus struct {
	InstanceID int                      `json:"instance_id"`
	State      State                    `json:"state"`
	Activity   string                   `json:"activity"`
	Slots      []screenstate.SlotStatus `json:"slots,omitempty"`
	SlotsAt    time.Time                `json:"slots_at,omitempty"`
	UpdatedAt  time.Time                `json:"updated_at"`

	detail string
	until  time.Time
}

// StatusBoard holds the user-facing state of every instance. Each entry is
// written by its instance's own worker; readers get copies.
type StatusBoard struct {
	mu      sync.RWMutex
	entries map[int]*InstanceStatus
	now     func() time.Time
}

// NewStatusBoard creates an empty board
func NewStatusBoard(now func() time.Time) *StatusBoard {
	if now == nil {
		now = time.Now
	}
	return &StatusBoard{
		entries: make(map[int]*InstanceStatus),
		now:     now,
	}
}

func (b *StatusBoard) entryLocked(id int) *InstanceStatus {
	e, ok := b.entries[id]
	if !ok {
		e = &InstanceStatus{InstanceID: id, State: StateStopped, Activity: "Stopped"}
		b.entries[id] = e
	}
	return e
}

// Set records a new state with a plain activity text
func (b *StatusBoard) Set(id int, state State, detail string) {
	b.SetCountdown(id, state, detail, time.Time{})
}

// SetCountdown records a state whose activity ends with the time left until
func (b *StatusBoard) SetCountdown(id int, state State, detail string, until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	e := b.entryLocked(id)
	e.State = state
	e.detail = detail
	e.until = until
	e.UpdatedAt = now
	e.Activity = render(e.detail, e.until, now)
}

// SetSlots records the latest classification
func (b *StatusBoard) SetSlots(id int, slots []screenstate.SlotStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entryLocked(id)
	e.Slots = append([]screenstate.SlotStatus(nil), slots...)
	e.SlotsAt = b.now()
}

// Refresh re-renders every countdown. Called once per second.
func (b *StatusBoard) Refresh() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for _, e := range b.entries {
		if !e.until.IsZero() {
			e.Activity = render(e.detail, e.until, now)
		}
	}
}

// Get returns a copy of an instance's status
func (b *StatusBoard) Get(id int) InstanceStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[id]
	if !ok {
		return InstanceStatus{InstanceID: id, State: StateStopped, Activity: "Stopped"}
	}
	out := *e
	out.Slots = append([]screenstate.SlotStatus(nil), e.Slots...)
	return out
}

// Activity returns the user-facing status text
func (b *StatusBoard) Activity(id int) string {
	return b.Get(id).Activity
}

// Slots returns the last classification. Slots never read are Unavailable.
func (b *StatusBoard) Slots(id int) [screenstate.SlotCount]screenstate.SlotStatus {
	var out [screenstate.SlotCount]screenstate.SlotStatus
	for i := range out {
		out[i] = screenstate.SlotUnavailable
	}
	copy(out[:], b.Get(id).Slots)
	return out
}

// All returns every known instance ordered by id
func (b *StatusBoard) All() []InstanceStatus {
	b.mu.RLock()
	ids := make([]int, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	sort.Ints(ids)
	out := make([]InstanceStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.Get(id))
	}
	return out
}

func render(detail string, until, now time.Time) string {
	if until.IsZero() {
		return detail
	}
	left := until.Sub(now)
	if left < 0 {
		left = 0
	}
	return detail + " " + march.FormatDuration(left.Round(time.Second))
}
