package gather

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnreadablePanel is returned when the queue panel OCR comes back empty
	ErrUnreadablePanel = errors.New("march queue panel unreadable")

	// ErrNotInWorldView is returned when the world indicator never shows up
	ErrNotInWorldView = errors.New("world view not reached")

	// ErrPanelNotOpen is returned when the queue panel header cannot be confirmed
	ErrPanelNotOpen = errors.New("march queue panel did not open")

	// ErrNoResourceNode is returned when no level from 8 down to 1 offers a gather button
	ErrNoResourceNode = errors.New("no resource node found at any level")

	// ErrAlreadyRunning is returned when gathering is started twice for one instance
	ErrAlreadyRunning = errors.New("gathering already running")
)

// StepError is a failed step of the deploy macro. It aborts one march attempt.
type StepError struct {
	Step     string
	Slot     int
	Resource string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("deploy %s to slot %d: step %s: %v", e.Resource, e.Slot, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// CycleError aborts a whole poll cycle. The loop backs off and starts over.
type CycleError struct {
	Reason string
	Err    error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle failed (%s): %v", e.Reason, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// HibernateError ends a run so the emulator can be stopped until WakeAt
type HibernateError struct {
	WakeAt time.Time
}

func (e *HibernateError) Error() string {
	return fmt.Sprintf("hibernating until %s", e.WakeAt.Format(time.RFC3339))
}

// cycleFailure normalizes any error out of a cycle into a CycleError
func cycleFailure(reason string, err error) *CycleError {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce
	}
	return &CycleError{Reason: reason, Err: err}
}
