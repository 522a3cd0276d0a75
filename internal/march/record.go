package march

import (
	"fmt"
	"strings"
	"time"
)

// ResourceType identifies what a march gathers
type ResourceType string

const (
	ResourceFood  ResourceType = "Food"
	ResourceWood  ResourceType = "Wood"
	ResourceStone ResourceType = "Stone"
	ResourceIron  ResourceType = "Iron"
)

// DefaultResourceLoop is the rotation order used when none is configured
var DefaultResourceLoop = []ResourceType{ResourceFood, ResourceWood, ResourceStone, ResourceIron}

// ParseResourceType parses a resource name case-insensitively
func ParseResourceType(s string) (ResourceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "food":
		return ResourceFood, nil
	case "wood":
		return ResourceWood, nil
	case "stone":
		return ResourceStone, nil
	case "iron":
		return ResourceIron, nil
	default:
		return "", fmt.Errorf("unknown resource type %q", s)
	}
}

// Phase is the derived lifecycle phase of a march
type Phase int

const (
	PhaseMarching Phase = iota
	PhaseGathering
	PhaseReturning
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseMarching:
		return "Marching"
	case PhaseGathering:
		return "Gathering"
	case PhaseReturning:
		return "Returning"
	case PhaseCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// Key identifies a march by emulator instance and queue slot
type Key struct {
	InstanceID int
	Slot       int
}

func (k Key) String() string {
	return fmt.Sprintf("instance %d slot %d", k.InstanceID, k.Slot)
}

// Record is one in-flight gathering operation.
// MarchDuration is one-way; TotalDuration covers out, gather and back.
type Record struct {
	ID               string        `json:"id"`
	InstanceID       int           `json:"instance_id"`
	Slot             int           `json:"slot"`
	Resource         ResourceType  `json:"resource"`
	Level            int           `json:"level,omitempty"`
	DeployedAt       time.Time     `json:"deployed_at"`
	MarchDuration    time.Duration `json:"march_duration"`
	GatherDuration   time.Duration `json:"gather_duration"`
	TotalDuration    time.Duration `json:"total_duration"`
	DetailsCollected bool          `json:"details_collected"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// NewRecord builds a record with TotalDuration derived from the one-way march and gather times
func NewRecord(instanceID, slot int, resource ResourceType, deployedAt time.Time, marchDuration, gatherDuration time.Duration) Record {
	return Record{
		InstanceID:     instanceID,
		Slot:           slot,
		Resource:       resource,
		DeployedAt:     deployedAt,
		MarchDuration:  marchDuration,
		GatherDuration: gatherDuration,
		TotalDuration:  roundTrip(marchDuration, gatherDuration),
	}
}

func roundTrip(marchDuration, gatherDuration time.Duration) time.Duration {
	return 2*marchDuration + gatherDuration
}

// Key returns the identity of the record
func (r Record) Key() Key {
	return Key{InstanceID: r.InstanceID, Slot: r.Slot}
}

// Elapsed returns time since deployment, never negative
func (r Record) Elapsed(now time.Time) time.Duration {
	elapsed := now.Sub(r.DeployedAt)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Phase derives the lifecycle phase from elapsed time
func (r Record) Phase(now time.Time) Phase {
	if r.CompletedAt != nil {
		return PhaseCompleted
	}

	elapsed := r.Elapsed(now)
	switch {
	case elapsed >= r.TotalDuration:
		return PhaseCompleted
	case elapsed < r.MarchDuration:
		return PhaseMarching
	case elapsed < r.MarchDuration+r.GatherDuration:
		return PhaseGathering
	default:
		return PhaseReturning
	}
}

// TimeRemaining returns max(0, total - elapsed)
func (r Record) TimeRemaining(now time.Time) time.Duration {
	if r.CompletedAt != nil {
		return 0
	}
	remaining := r.TotalDuration - r.Elapsed(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ProgressPercent returns completion in [0,100]. Unknown totals report 100.
func (r Record) ProgressPercent(now time.Time) float64 {
	if r.CompletedAt != nil || r.TotalDuration <= 0 {
		return 100
	}
	if r.TimeRemaining(now) == 0 {
		return 100
	}

	pct := float64(r.Elapsed(now)) / float64(r.TotalDuration) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// CompletesAt returns the wall-clock time the march is expected back
func (r Record) CompletesAt() time.Time {
	return r.DeployedAt.Add(r.TotalDuration)
}
