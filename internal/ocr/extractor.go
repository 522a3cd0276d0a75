package ocr

import (
	"context"
	"image"
	"os"
	"strings"
	"time"

	"jordanella.com/gather-bot/internal/logging"
	"jordanella.com/gather-bot/internal/metrics"
)

// Result is the winning recognition for one extraction
type Result struct {
	Text   string
	Score  int
	Config string
	Passes int
}

// Extractor runs every config of a profile and keeps the most plausible text
type Extractor struct {
	engine  Engine
	scoring ScoringConfig
	tempDir string
	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewExtractor creates an extractor around an engine
func NewExtractor(engine Engine) *Extractor {
	return &Extractor{
		engine:  engine,
		scoring: DefaultScoringConfig(),
		log:     logging.NewLogger("ocr"),
	}
}

// WithScoring replaces the scoring weights
func (e *Extractor) WithScoring(cfg ScoringConfig) *Extractor {
	e.scoring = cfg
	return e
}

// WithTempDir sets where preprocessed crops are written
func (e *Extractor) WithTempDir(dir string) *Extractor {
	e.tempDir = dir
	return e
}

// WithMetrics attaches metrics
func (e *Extractor) WithMetrics(m *metrics.Metrics) *Extractor {
	e.metrics = m
	return e
}

// WithLogger replaces the logger
func (e *Extractor) WithLogger(l *logging.Logger) *Extractor {
	e.log = l
	return e
}

// Extract returns the best text for region, or "" when nothing plausible was read.
// An empty result means "unknown" to callers, never an error.
func (e *Extractor) Extract(ctx context.Context, region image.Image, profile Profile) string {
	return e.ExtractDetailed(ctx, region, profile).Text
}

// ExtractDetailed is Extract with the winning score and config
func (e *Extractor) ExtractDetailed(ctx context.Context, region image.Image, profile Profile) Result {
	start := time.Now()
	result := e.extract(ctx, region, profile)
	e.metrics.ObserveOCR(profile.Name, result.Passes, time.Since(start), result.Text == "")
	return result
}

func (e *Extractor) extract(ctx context.Context, region image.Image, profile Profile) Result {
	if e.engine == nil || region == nil || region.Bounds().Empty() {
		return Result{}
	}

	path, err := writeTempPNG(e.tempDir, Prepare(region, profile.Preprocess))
	if err != nil {
		e.log.Error("Failed to stage image for OCR", err)
		return Result{}
	}
	defer os.Remove(path)

	ceiling := e.scoring.Ceiling(profile)
	best := Result{Score: -1}
	var lastErr error
	failures := 0

	for _, cfg := range profile.Configs {
		if ctx.Err() != nil {
			break
		}

		raw, err := e.engine.Recognize(ctx, path, Request{
			Config:    cfg,
			Whitelist: profile.Whitelist,
			Language:  profile.Language,
		})
		best.Passes++
		if err != nil {
			lastErr = err
			failures++
			continue
		}

		text := normalize(raw, profile.Kind)
		score := e.scoring.Score(profile, text)
		e.log.DebugWithContext("OCR pass", map[string]interface{}{
			"profile": profile.Name,
			"config":  cfg.Name,
			"text":    text,
			"score":   score,
		})

		// ties keep the earlier config
		if score > best.Score {
			best.Text, best.Score, best.Config = text, score, cfg.Name
		}
		if score >= ceiling {
			break
		}
	}

	if failures > 0 && failures == best.Passes {
		e.log.WarnWithContext("All OCR configs failed", map[string]interface{}{
			"profile": profile.Name,
			"engine":  e.engine.Name(),
			"error":   lastErr.Error(),
		})
	}

	if best.Score <= 0 {
		return Result{Passes: best.Passes}
	}
	return best
}

// normalize trims recognizer noise. Time text loses all whitespace; general text
// keeps line structure for the classifier.
func normalize(raw string, kind ScoreKind) string {
	if kind == ScoreTime {
		return strings.Join(strings.Fields(raw), "")
	}

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}
