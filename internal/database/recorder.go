package database

import (
	"fmt"

	"jordanella.com/gather-bot/internal/events"
	"jordanella.com/gather-bot/internal/logging"
)

// Recorder persists bus events into march_history and instance_activity
type Recorder struct {
	db   *DB
	bus  events.EventBus
	log  *logging.Logger
	subs []events.SubscriptionID
}

var activityKinds = map[events.EventType]string{
	events.EventTypeInstanceStarted:    ActivityStarted,
	events.EventTypeInstanceStopped:    ActivityStopped,
	events.EventTypeInstanceHibernated: ActivityHibernated,
	events.EventTypeInstanceQueued:     ActivityQueued,
	events.EventTypeInstanceStuck:      ActivityStuck,
	events.EventTypeCycleFailed:        ActivityCycleFail,
	events.EventTypeStepFailed:         ActivityStepFail,
}

// NewRecorder subscribes the recorder to march and instance events
func NewRecorder(db *DB, bus events.EventBus) *Recorder {
	r := &Recorder{db: db, bus: bus, log: logging.NewLogger("recorder")}

	for _, t := range []events.EventType{
		events.EventTypeMarchDeployed,
		events.EventTypeMarchCompleted,
		events.EventTypeMarchDetailsUpdated,
	} {
		r.subs = append(r.subs, bus.Subscribe(t, r.handleMarch))
	}
	for t := range activityKinds {
		r.subs = append(r.subs, bus.Subscribe(t, r.handleActivity))
	}
	return r
}

func (r *Recorder) handleMarch(event events.Event) {
	rec, ok := event.Record()
	if !ok {
		return
	}
	if err := r.db.SaveMarch(rec); err != nil {
		r.log.ErrorWithContext("Failed to record march", err, map[string]interface{}{
			"event":    string(event.Type),
			"instance": rec.InstanceID,
			"slot":     rec.Slot,
		})
	}
}

func (r *Recorder) handleActivity(event events.Event) {
	kind := activityKinds[event.Type]

	detail := event.String("detail")
	switch event.Type {
	case events.EventTypeCycleFailed:
		detail = event.String("reason")
	case events.EventTypeStepFailed:
		detail = fmt.Sprintf("slot %v: %s", event.Data["slot"], event.String("step"))
	}

	if _, err := r.db.LogActivity(event.InstanceID, kind, detail, event.String("error"), event.Timestamp); err != nil {
		r.log.ErrorWithContext("Failed to record activity", err, map[string]interface{}{
			"event":    string(event.Type),
			"instance": event.InstanceID,
		})
	}
}

// Close removes the recorder's subscriptions
func (r *Recorder) Close() {
	for _, id := range r.subs {
		r.bus.Unsubscribe(id)
	}
	r.subs = nil
}
