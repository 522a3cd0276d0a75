package events

import (
	"time"

	"jordanella.com/gather-bot/internal/march"
)

// EventType represents different types of events in the system
type EventType string

const (
	// March events
	EventTypeMarchDeployed       EventType = "march.deployed"
	EventTypeMarchCompleted      EventType = "march.completed"
	EventTypeMarchDetailsUpdated EventType = "march.details_updated"

	// Gathering events
	EventTypeCycleFailed EventType = "gather.cycle_failed"
	EventTypeStepFailed  EventType = "gather.step_failed"

	// Instance events
	EventTypeInstanceStarted    EventType = "instance.started"
	EventTypeInstanceStopped    EventType = "instance.stopped"
	EventTypeInstanceHibernated EventType = "instance.hibernated"
	EventTypeInstanceQueued     EventType = "instance.queued"
	EventTypeInstanceStuck      EventType = "instance.stuck"
)

// Event represents a system event with metadata
type Event struct {
	Type       EventType              // Type of event
	Source     string                 // Component that emitted event (e.g., "orchestrator", "scheduler")
	InstanceID int                    // Emulator instance the event concerns
	Timestamp  time.Time              // When the event occurred
	Data       map[string]interface{} // Event-specific data
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	// Subscribe registers a handler for a specific event type
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID

	// Unsubscribe removes a subscription by ID
	Unsubscribe(id SubscriptionID)

	// Publish queues an event, blocking while the queue is full
	Publish(event Event)

	// Stop stops the event bus and drains remaining events
	Stop()
}

// Record returns the march record carried by a march event
func (e Event) Record() (march.Record, bool) {
	r, ok := e.Data["record"].(march.Record)
	return r, ok
}

// String returns a string field of Data, or ""
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Helper functions to create common events

// NewMarchDeployedEvent creates a march deployed event
func NewMarchDeployedEvent(r march.Record) Event {
	return Event{
		Type:       EventTypeMarchDeployed,
		Source:     "orchestrator",
		InstanceID: r.InstanceID,
		Timestamp:  r.DeployedAt,
		Data:       map[string]interface{}{"record": r},
	}
}

// NewMarchCompletedEvent creates a march completed event
func NewMarchCompletedEvent(r march.Record, source string) Event {
	at := time.Now()
	if r.CompletedAt != nil {
		at = *r.CompletedAt
	}
	return Event{
		Type:       EventTypeMarchCompleted,
		Source:     source,
		InstanceID: r.InstanceID,
		Timestamp:  at,
		Data:       map[string]interface{}{"record": r},
	}
}

// NewMarchDetailsEvent creates an event for a precise gather time update
func NewMarchDetailsEvent(r march.Record) Event {
	return Event{
		Type:       EventTypeMarchDetailsUpdated,
		Source:     "orchestrator",
		InstanceID: r.InstanceID,
		Data:       map[string]interface{}{"record": r},
	}
}

// NewCycleFailedEvent creates a cycle failed event
func NewCycleFailedEvent(instanceID int, reason string, err error) Event {
	return Event{
		Type:       EventTypeCycleFailed,
		Source:     "orchestrator",
		InstanceID: instanceID,
		Data: map[string]interface{}{
			"reason": reason,
			"error":  errString(err),
		},
	}
}

// NewStepFailedEvent creates a macro step failure event
func NewStepFailedEvent(instanceID, slot int, step string, err error) Event {
	return Event{
		Type:       EventTypeStepFailed,
		Source:     "orchestrator",
		InstanceID: instanceID,
		Data: map[string]interface{}{
			"slot":  slot,
			"step":  step,
			"error": errString(err),
		},
	}
}

// NewInstanceEvent creates an instance lifecycle event
func NewInstanceEvent(eventType EventType, instanceID int, detail string) Event {
	return Event{
		Type:       eventType,
		Source:     "service",
		InstanceID: instanceID,
		Data:       map[string]interface{}{"detail": detail},
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
