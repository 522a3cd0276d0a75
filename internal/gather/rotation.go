package gather

import (
	"sync"

	"jordanella.com/gather-bot/internal/march"
)

// CursorStore persists the rotation cursor of an instance
type CursorStore interface {
	SetCursor(instanceID, cursor int) error
}

// Rotation hands out resource types round-robin from an ordered loop.
// The cursor only ever advances, across cycles and restarts.
type Rotation struct {
	mu         sync.Mutex
	instanceID int
	loop       []march.ResourceType
	cursor     int
	store      CursorStore
}

// NewRotation starts a rotation at a persisted cursor. An empty loop falls
// back to the default order.
func NewRotation(instanceID int, loop []march.ResourceType, cursor int, store CursorStore) *Rotation {
	if len(loop) == 0 {
		loop = march.DefaultResourceLoop
	}
	if cursor < 0 {
		cursor = 0
	}
	return &Rotation{
		instanceID: instanceID,
		loop:       append([]march.ResourceType(nil), loop...),
		cursor:     cursor,
		store:      store,
	}
}

// Next returns the resource at the cursor and advances it. A failed persist
// is returned alongside the resource; the in-memory cursor still advances.
func (r *Rotation) Next() (march.ResourceType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resource := r.loop[r.cursor%len(r.loop)]
	r.cursor++

	if r.store == nil {
		return resource, nil
	}
	return resource, r.store.SetCursor(r.instanceID, r.cursor)
}

// Peek returns the next n resources without advancing
func (r *Rotation) Peek(n int) []march.ResourceType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]march.ResourceType, n)
	for i := range out {
		out[i] = r.loop[(r.cursor+i)%len(r.loop)]
	}
	return out
}

// Cursor returns the current cursor
func (r *Rotation) Cursor() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}
