package screenstate

import (
	"regexp"
	"strconv"
	"strings"
)

// SlotCount is the number of march queue slots on the panel
const SlotCount = 6

// lookaheadLines is how many lines after a "Queue N" label are searched for its status
const lookaheadLines = 3

// SlotStatus is the classification of one march queue slot
type SlotStatus int

const (
	SlotIdle SlotStatus = iota
	SlotGathering
	SlotReturning
	SlotLocked
	SlotUnavailable
)

func (s SlotStatus) String() string {
	switch s {
	case SlotIdle:
		return "Idle"
	case SlotGathering:
		return "Gathering"
	case SlotReturning:
		return "Returning"
	case SlotLocked:
		return "Locked"
	case SlotUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}

// MarshalText lets statuses serialize by name
func (s SlotStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsBusy reports whether the slot holds a march
func (s SlotStatus) IsBusy() bool {
	return s == SlotGathering || s == SlotReturning
}

var (
	queueLabel = regexp.MustCompile(`(?i)queue\s*([1-6])`)

	exactKeywords = map[string]SlotStatus{
		"idle":      SlotIdle,
		"gathering": SlotGathering,
		"returning": SlotReturning,
		"unlock":    SlotLocked,
		"locked":    SlotLocked,
	}

	// OCR of the stylized panel font garbles keywords; order matters, Locked is
	// checked first so a misread lock never looks like a free slot.
	fuzzyKeywords = []struct {
		pattern *regexp.Regexp
		status  SlotStatus
	}{
		{regexp.MustCompile(`(?i)unl|[a-z]?ock\b|wu\s*s\b|lock`), SlotLocked},
		{regexp.MustCompile(`(?i)gath|athe|ther(ing)?|gat[hn]`), SlotGathering},
		{regexp.MustCompile(`(?i)retu|turn|urn(ing)?`), SlotReturning},
		{regexp.MustCompile(`(?i)\bidl|[i1l]dle\b`), SlotIdle},
	}
)

// Classify converts OCR lines from the march queue panel into one status per slot.
// Slots without a recognized status fall back to position defaults: 1-3 Idle,
// 4-6 Unavailable. The function is pure.
func Classify(lines []string) []SlotStatus {
	detected := make(map[int]SlotStatus, SlotCount)

	for i := 0; i < len(lines); i++ {
		slot, rest, ok := parseQueueLabel(lines[i])
		if !ok {
			continue
		}
		if _, seen := detected[slot]; seen {
			continue
		}

		// Status may share the label's line
		if status, ok := matchStatus(rest); ok {
			detected[slot] = status
			continue
		}

		for j := i + 1; j < len(lines) && j <= i+lookaheadLines; j++ {
			// Stop at the next label so statuses attach to the nearest preceding slot
			if _, _, isLabel := parseQueueLabel(lines[j]); isLabel {
				break
			}
			if status, ok := matchStatus(lines[j]); ok {
				detected[slot] = status
				break
			}
		}
	}

	statuses := make([]SlotStatus, SlotCount)
	for slot := 1; slot <= SlotCount; slot++ {
		if status, ok := detected[slot]; ok {
			statuses[slot-1] = status
			continue
		}
		statuses[slot-1] = DefaultStatus(slot)
	}
	return statuses
}

// DefaultStatus is the position-based status used when OCR found nothing for a slot
func DefaultStatus(slot int) SlotStatus {
	if slot <= 3 {
		return SlotIdle
	}
	return SlotUnavailable
}

// SplitLines splits raw OCR text into trimmed, non-empty lines
func SplitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func parseQueueLabel(line string) (slot int, rest string, ok bool) {
	loc := queueLabel.FindStringSubmatchIndex(line)
	if loc == nil {
		return 0, "", false
	}
	n, err := strconv.Atoi(line[loc[2]:loc[3]])
	if err != nil {
		return 0, "", false
	}
	return n, line[loc[1]:], true
}

func matchStatus(text string) (SlotStatus, bool) {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	if cleaned == "" {
		return 0, false
	}

	for _, word := range strings.FieldsFunc(cleaned, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		if status, ok := exactKeywords[word]; ok {
			return status, true
		}
	}

	for _, fk := range fuzzyKeywords {
		if fk.pattern.MatchString(cleaned) {
			return fk.status, true
		}
	}
	return 0, false
}

// Counts summarizes a classification for the orchestrator's decision step
type Counts struct {
	Idle   []int // slot numbers, ascending
	Active int   // Gathering slots
	Busy   int   // Gathering + Returning
}

// Summarize collects idle slot numbers and active counts
func Summarize(statuses []SlotStatus) Counts {
	var c Counts
	for i, s := range statuses {
		switch s {
		case SlotIdle:
			c.Idle = append(c.Idle, i+1)
		case SlotGathering:
			c.Active++
			c.Busy++
		case SlotReturning:
			c.Busy++
		}
	}
	return c
}
