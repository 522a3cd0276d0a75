package ocr

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// ScoringConfig holds the tunable weights of the plausibility heuristics.
// Exact time patterns beat partial ones, and partial ones beat gibberish.
type ScoringConfig struct {
	TimeExact       int // HH:MM:SS
	TimeShortHour   int // H:MM:SS
	TimeMinutes     int // MM:SS
	TimeEmbedded    int // a d:dd fragment somewhere in the text
	TimeDigitsOnly  int // digits without separators
	TimeAnyDigit    int
	TimeCeiling     int // stop trying configs at or above this
	GeneralCeiling  int
	LongTokenWeight int // per letter for alphabetic tokens of 4+ letters
	ShortPenalty    int // per non-numeric token of 1-2 characters
	KeywordBonus    int
}

// DefaultScoringConfig returns the tuned defaults
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		TimeExact:       10,
		TimeShortHour:   9,
		TimeMinutes:     7,
		TimeEmbedded:    5,
		TimeDigitsOnly:  3,
		TimeAnyDigit:    1,
		TimeCeiling:     10,
		GeneralCeiling:  95,
		LongTokenWeight: 4,
		ShortPenalty:    8,
		KeywordBonus:    15,
	}
}

var (
	exactTimePattern     = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`)
	shortHourPattern     = regexp.MustCompile(`^\d:\d{2}:\d{2}$`)
	minutesPattern       = regexp.MustCompile(`^\d{1,2}:\d{2}$`)
	embeddedTimePattern  = regexp.MustCompile(`\d{1,2}:\d{2}`)
	digitsOnlyPattern    = regexp.MustCompile(`^\d+$`)
	extractedTimePattern = regexp.MustCompile(`\d{1,2}:\d{2}(?::\d{2})?`)
)

// ScoreTimeText rates how plausible text is as a countdown (0..TimeExact)
func (c ScoringConfig) ScoreTimeText(text string) int {
	t := strings.Join(strings.Fields(text), "")
	switch {
	case t == "":
		return 0
	case exactTimePattern.MatchString(t):
		if validClock(t) {
			return c.TimeExact
		}
		return c.TimeEmbedded
	case shortHourPattern.MatchString(t):
		if validClock(t) {
			return c.TimeShortHour
		}
		return c.TimeEmbedded
	case minutesPattern.MatchString(t):
		return c.TimeMinutes
	case embeddedTimePattern.MatchString(t):
		return c.TimeEmbedded
	case digitsOnlyPattern.MatchString(t):
		return c.TimeDigitsOnly
	case strings.IndexFunc(t, unicode.IsDigit) >= 0:
		return c.TimeAnyDigit
	default:
		return 0
	}
}

// validClock checks the minute and second fields are below 60
func validClock(t string) bool {
	parts := strings.Split(t, ":")
	for _, p := range parts[1:] {
		v, err := strconv.Atoi(p)
		if err != nil || v >= 60 {
			return false
		}
	}
	return true
}

// ScoreGeneralText rates free text (0..100): long alphabetic tokens are rewarded,
// short non-numeric fragments are penalised.
func (c ScoringConfig) ScoreGeneralText(text string, keywords []string) int {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return 0
	}

	score := 0
	lower := strings.ToLower(text)
	for _, tok := range tokens {
		letters, digits, other := classifyRunes(tok)
		switch {
		case letters >= 4 && other == 0 && digits == 0:
			score += letters * c.LongTokenWeight
		case letters == 3 && other == 0 && digits == 0:
			score += 6
		case digits > 0 && letters == 0 && other == 0:
			score += 2
		case len([]rune(tok)) <= 2:
			score -= c.ShortPenalty
		case other > letters:
			score -= c.ShortPenalty / 2
		default:
			score += letters
		}
	}

	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			score += c.KeywordBonus
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func classifyRunes(tok string) (letters, digits, other int) {
	for _, r := range tok {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		default:
			other++
		}
	}
	return letters, digits, other
}

// Score applies the profile's heuristic
func (c ScoringConfig) Score(p Profile, text string) int {
	if p.Kind == ScoreTime {
		return c.ScoreTimeText(text)
	}
	return c.ScoreGeneralText(text, p.Keywords)
}

// Ceiling returns the early-exit score for a profile
func (c ScoringConfig) Ceiling(p Profile) int {
	if p.Kind == ScoreTime {
		return c.TimeCeiling
	}
	return c.GeneralCeiling
}

// FindTime returns the first time-like fragment in text, or "" if none
func FindTime(text string) string {
	return extractedTimePattern.FindString(strings.Join(strings.Fields(text), ""))
}
