package database

import (
	"time"

	"jordanella.com/gather-bot/internal/march"
)

// MarchHistory is a persisted march
type MarchHistory struct {
	ID               string     `db:"id"                json:"id"`
	InstanceID       int        `db:"instance_id"       json:"instance_id"`
	Slot             int        `db:"slot"              json:"slot"`
	Resource         string     `db:"resource"          json:"resource"`
	Level            int        `db:"level"             json:"level,omitempty"`
	MarchMs          int64      `db:"march_ms"          json:"march_ms"`
	GatherMs         int64      `db:"gather_ms"         json:"gather_ms"`
	TotalMs          int64      `db:"total_ms"          json:"total_ms"`
	DetailsCollected bool       `db:"details_collected" json:"details_collected"`
	DeployedAt       time.Time  `db:"deployed_at"       json:"deployed_at"`
	CompletedAt      *time.Time `db:"completed_at"      json:"completed_at,omitempty"`
}

// historyFromRecord converts a tracker record into a row
func historyFromRecord(r march.Record) *MarchHistory {
	h := &MarchHistory{
		ID:               r.ID,
		InstanceID:       r.InstanceID,
		Slot:             r.Slot,
		Resource:         string(r.Resource),
		Level:            r.Level,
		MarchMs:          r.MarchDuration.Milliseconds(),
		GatherMs:         r.GatherDuration.Milliseconds(),
		TotalMs:          r.TotalDuration.Milliseconds(),
		DetailsCollected: r.DetailsCollected,
		DeployedAt:       r.DeployedAt.UTC(),
	}
	if r.CompletedAt != nil {
		at := r.CompletedAt.UTC()
		h.CompletedAt = &at
	}
	return h
}

// Activity kinds written by the recorder
const (
	ActivityStarted    = "started"
	ActivityStopped    = "stopped"
	ActivityHibernated = "hibernated"
	ActivityQueued     = "queued"
	ActivityStuck      = "stuck"
	ActivityCycleFail  = "cycle_failed"
	ActivityStepFail   = "step_failed"
)

// InstanceActivity is one lifecycle or failure entry for an instance
type InstanceActivity struct {
	ID           int64     `db:"id"            json:"id"`
	InstanceID   int       `db:"instance_id"   json:"instance_id"`
	Kind         string    `db:"kind"          json:"kind"`
	Detail       *string   `db:"detail"        json:"detail,omitempty"`
	ErrorMessage *string   `db:"error_message" json:"error,omitempty"`
	OccurredAt   time.Time `db:"occurred_at"   json:"occurred_at"`
}

// HistoryFilter narrows QueryHistory; zero values match everything
type HistoryFilter struct {
	InstanceID *int
	Resource   string
	Since      time.Time
	Limit      int
}
