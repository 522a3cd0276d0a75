package march

import (
	"testing"
	"time"
)

func TestRecordPhaseTransitions(t *testing.T) {
	deployed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRecord(1, 2, ResourceWood, deployed, 5*time.Minute, 30*time.Minute)

	if r.TotalDuration != 40*time.Minute {
		t.Fatalf("Expected total 40m, got %v", r.TotalDuration)
	}

	tests := []struct {
		name    string
		elapsed time.Duration
		want    Phase
	}{
		{"just deployed", 0, PhaseMarching},
		{"mid march", 4 * time.Minute, PhaseMarching},
		{"arrived", 5 * time.Minute, PhaseGathering},
		{"gathering", 20 * time.Minute, PhaseGathering},
		{"returning", 35 * time.Minute, PhaseReturning},
		{"back", 40 * time.Minute, PhaseCompleted},
		{"long after", 10 * time.Hour, PhaseCompleted},
		{"clock skew", -time.Minute, PhaseMarching},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Phase(deployed.Add(tt.elapsed))
			if got != tt.want {
				t.Errorf("Expected phase %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRecordPhaseNeverRegresses(t *testing.T) {
	deployed := time.Now()
	r := NewRecord(1, 1, ResourceFood, deployed, 3*time.Minute, 17*time.Minute)

	last := PhaseMarching
	for s := 0; s <= int((r.TotalDuration+5*time.Minute)/time.Second); s += 7 {
		p := r.Phase(deployed.Add(time.Duration(s) * time.Second))
		if p < last {
			t.Fatalf("Phase regressed from %v to %v at %ds", last, p, s)
		}
		last = p
	}
	if last != PhaseCompleted {
		t.Errorf("Expected Completed at end, got %v", last)
	}
}

func TestProgressProperties(t *testing.T) {
	deployed := time.Now()
	records := []Record{
		NewRecord(1, 1, ResourceFood, deployed, 2*time.Minute, 11*time.Minute),
		NewRecord(1, 2, ResourceIron, deployed, 0, 0),
		{InstanceID: 1, Slot: 3, DeployedAt: deployed, MarchDuration: time.Minute, TotalDuration: time.Minute},
	}

	for _, r := range records {
		prev := -1.0
		for s := -30; s <= int((r.TotalDuration+time.Minute)/time.Second); s += 3 {
			now := deployed.Add(time.Duration(s) * time.Second)
			p := r.ProgressPercent(now)
			if p < 0 || p > 100 {
				t.Fatalf("slot %d: progress %f out of range", r.Slot, p)
			}
			if p < prev {
				t.Fatalf("slot %d: progress decreased %f -> %f", r.Slot, prev, p)
			}
			prev = p

			if (p == 100) != (r.TimeRemaining(now) == 0) {
				t.Fatalf("slot %d: progress %f inconsistent with remaining %v", r.Slot, p, r.TimeRemaining(now))
			}
		}
	}
}

func TestZeroTotalIsComplete(t *testing.T) {
	r := Record{InstanceID: 3, Slot: 1, DeployedAt: time.Now()}
	if got := r.ProgressPercent(time.Now()); got != 100 {
		t.Errorf("Expected 100 for zero total, got %f", got)
	}
	if got := r.Phase(time.Now()); got != PhaseCompleted {
		t.Errorf("Expected Completed for zero total, got %v", got)
	}
}

func TestParseResourceType(t *testing.T) {
	for _, in := range []string{"food", " Wood", "STONE", "Iron "} {
		if _, err := ParseResourceType(in); err != nil {
			t.Errorf("ParseResourceType(%q) failed: %v", in, err)
		}
	}
	if _, err := ParseResourceType("gold"); err == nil {
		t.Error("Expected error for unknown resource")
	}
}
