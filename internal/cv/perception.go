package cv

import (
	"fmt"
	"image"
)

// PerceptionResult is the outcome of looking for something on screen: either
// Found at a screen point with a confidence, or NotFound. It is never an error.
type PerceptionResult struct {
	found      bool
	x, y       int
	confidence float64
}

// Found builds a positive result
func Found(x, y int, confidence float64) PerceptionResult {
	return PerceptionResult{found: true, x: x, y: y, confidence: confidence}
}

// NotFound builds a negative result. best is the highest confidence seen, kept
// for diagnostics only.
func NotFound(best float64) PerceptionResult {
	return PerceptionResult{confidence: best}
}

// IsFound reports whether the target was located
func (r PerceptionResult) IsFound() bool {
	return r.found
}

// Point returns the located screen point
func (r PerceptionResult) Point() (image.Point, bool) {
	return image.Point{X: r.x, Y: r.y}, r.found
}

// Confidence returns the match confidence in [0,1]
func (r PerceptionResult) Confidence() float64 {
	return r.confidence
}

// OrElse returns the located point, or fallback when not found
func (r PerceptionResult) OrElse(fallback image.Point) image.Point {
	if r.found {
		return image.Point{X: r.x, Y: r.y}
	}
	return fallback
}

func (r PerceptionResult) String() string {
	if !r.found {
		return fmt.Sprintf("NotFound(best=%.3f)", r.confidence)
	}
	return fmt.Sprintf("Found(%d,%d conf=%.3f)", r.x, r.y, r.confidence)
}
