package march

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTime is returned for strings that are not H:MM:SS, HH:MM:SS or MM:SS
var ErrInvalidTime = errors.New("invalid time string")

// FormatTime renders seconds as HH:MM:SS. Hours are zero-padded to two digits and
// grow beyond two when needed.
func FormatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatDuration is FormatTime for a time.Duration, truncated to whole seconds
func FormatDuration(d time.Duration) string {
	return FormatTime(int(d / time.Second))
}

// ParseTimeToSeconds parses HH:MM:SS, H:MM:SS or MM:SS into seconds
func ParseTimeToSeconds(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}

	values := make([]int, len(parts))
	for i, p := range parts {
		if !allDigits(p) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
		// minutes and seconds fields are two digits wide and below 60
		if i > 0 && (len(p) != 2 || v >= 60) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
		values[i] = v
	}

	if len(values) == 2 {
		if values[0] >= 60 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
		return values[0]*60 + values[1], nil
	}
	return values[0]*3600 + values[1]*60 + values[2], nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ParseDuration is ParseTimeToSeconds returning a time.Duration
func ParseDuration(s string) (time.Duration, error) {
	secs, err := ParseTimeToSeconds(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}
