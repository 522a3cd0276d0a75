package ocr

import "testing"

func TestScoreTimeText(t *testing.T) {
	s := DefaultScoringConfig()
	tests := []struct {
		in   string
		want int
	}{
		{"02:30:00", 10},
		{" 02:30:00\n", 10},
		{"2:30:00", 9},
		{"12:05", 7},
		{"9o:02:32", 5},
		{"02:75:00", 5},
		{"023000", 3},
		{"o2x", 1},
		{"abc", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := s.ScoreTimeText(tt.in); got != tt.want {
				t.Errorf("ScoreTimeText(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestTimeScoreOrdering(t *testing.T) {
	s := DefaultScoringConfig()
	exact := s.ScoreTimeText("00:02:32")
	partial := s.ScoreTimeText("9o:02:32")
	gibberish := s.ScoreTimeText("xx")
	if !(exact > partial && partial > gibberish) {
		t.Errorf("Expected exact > partial > gibberish, got %d, %d, %d", exact, partial, gibberish)
	}
}

func TestScoreGeneralText(t *testing.T) {
	s := DefaultScoringConfig()
	keywords := QueuePanelProfile().Keywords

	panel := s.ScoreGeneralText("March Queue 1\nIdle\nMarch Queue 2\nGathering", keywords)
	if panel < s.GeneralCeiling {
		t.Errorf("Expected clean panel text to reach the ceiling, got %d", panel)
	}

	noise := s.ScoreGeneralText("a ~ | ,; x", keywords)
	if noise != 0 {
		t.Errorf("Expected noise to score 0, got %d", noise)
	}

	if s.ScoreGeneralText("Gathering", nil) <= s.ScoreGeneralText("Ga th er", nil) {
		t.Error("Expected one long token to beat fragments")
	}

	if got := s.ScoreGeneralText("", keywords); got != 0 {
		t.Errorf("Expected 0 for empty text, got %d", got)
	}
}

func TestFindTime(t *testing.T) {
	tests := map[string]string{
		"March 00:12:40": "00:12:40",
		"time: 5:03":     "5:03",
		"1:02:03 extra":  "1:02:03",
		"no digits":      "",
	}
	for in, want := range tests {
		if got := FindTime(in); got != want {
			t.Errorf("FindTime(%q) = %q, want %q", in, got, want)
		}
	}
}
