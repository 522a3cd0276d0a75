package scheduler

import (
	"fmt"
	"strings"
)

// Priority orders queued instances
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// ParsePriority maps "high", "normal" and "low" to a Priority; anything else is Normal
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// MarshalText renders the priority by name in JSON
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Status is what an instance reports about itself
type Status int

const (
	StatusStopped Status = iota
	StatusRunning
	StatusHibernating
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusHibernating:
		return "hibernating"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StartFunc performs the actual start of a promoted instance
type StartFunc func(instanceID int)

// Entry is one instance known to the scheduler
type Entry struct {
	InstanceID int      `json:"instance_id"`
	Priority   Priority `json:"priority"`
}

// Snapshot is a point-in-time copy of scheduler state
type Snapshot struct {
	MaxConcurrent int     `json:"max_concurrent"`
	Running       []Entry `json:"running"`
	Yielding      []Entry `json:"yielding"` // still working but counted as queued
	Queue         []Entry `json:"queue"`
	Hibernating   []int   `json:"hibernating"`
}
