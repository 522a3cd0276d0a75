package march

import (
	"errors"
	"fmt"
	"testing"
)

func TestFormatParseRoundTrip(t *testing.T) {
	for h := 0; h < 100; h += 7 {
		for m := 0; m < 60; m += 13 {
			for s := 0; s < 60; s += 11 {
				in := fmt.Sprintf("%02d:%02d:%02d", h, m, s)
				secs, err := ParseTimeToSeconds(in)
				if err != nil {
					t.Fatalf("ParseTimeToSeconds(%q) failed: %v", in, err)
				}
				if out := FormatTime(secs); out != in {
					t.Fatalf("Round trip mismatch: %q -> %d -> %q", in, secs, out)
				}
			}
		}
	}
}

func TestParseTimeToSeconds(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"02:30:00", 9000, false},
		{"2:30:00", 9000, false},
		{"00:02:32", 152, false},
		{"12:05", 725, false},
		{" 01:00:01 ", 3601, false},
		{"9o:02:32", 0, true},
		{"1:2:3", 0, true},
		{"00:60:00", 0, true},
		{"", 0, true},
		{"::", 0, true},
		{"1:02:03:04", 0, true},
		{"+1:00:00", 0, true},
		{"-1:00:00", 0, true},
		{"1:+2:03", 0, true},
		{"01: 02:03", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeToSeconds(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTime) {
					t.Errorf("Expected ErrInvalidTime, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestFormatTimeClampsNegative(t *testing.T) {
	if got := FormatTime(-5); got != "00:00:00" {
		t.Errorf("Expected 00:00:00, got %s", got)
	}
}
