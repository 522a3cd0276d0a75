package events

import (
	"fmt"

	"jordanella.com/gather-bot/internal/logging"
)

// AllEventTypes lists every event the bus carries
var AllEventTypes = []EventType{
	EventTypeMarchDeployed,
	EventTypeMarchCompleted,
	EventTypeMarchDetailsUpdated,
	EventTypeCycleFailed,
	EventTypeStepFailed,
	EventTypeInstanceStarted,
	EventTypeInstanceStopped,
	EventTypeInstanceHibernated,
	EventTypeInstanceQueued,
	EventTypeInstanceStuck,
}

// EventLogger subscribes to the bus and writes every event to the log
type EventLogger struct {
	logger *logging.Logger
	bus    EventBus
	subs   []SubscriptionID
}

// NewEventLogger subscribes a logger to every event type
func NewEventLogger(bus EventBus, logger *logging.Logger) *EventLogger {
	el := &EventLogger{logger: logger, bus: bus}
	for _, eventType := range AllEventTypes {
		el.subs = append(el.subs, bus.Subscribe(eventType, el.handleEvent))
	}
	return el
}

func (el *EventLogger) handleEvent(event Event) {
	context := map[string]interface{}{
		"event_type": string(event.Type),
		"source":     event.Source,
		"instance":   event.InstanceID,
	}

	for k, v := range event.Data {
		context[k] = v
	}
	if r, ok := event.Record(); ok {
		delete(context, "record")
		context["slot"] = r.Slot
		context["resource"] = string(r.Resource)
		context["total"] = r.TotalDuration.String()
	}

	msg := fmt.Sprintf("Event: %s", event.Type)
	switch event.Type {
	case EventTypeCycleFailed, EventTypeStepFailed, EventTypeInstanceStuck:
		el.logger.WarnWithContext(msg, context)
	default:
		el.logger.InfoWithContext(msg, context)
	}
}

// Close removes the logger's subscriptions
func (el *EventLogger) Close() {
	for _, id := range el.subs {
		el.bus.Unsubscribe(id)
	}
	el.subs = nil
}
