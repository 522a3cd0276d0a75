//go:build gosseract

package ocr

import (
	"context"
	"fmt"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// GosseractEngine runs recognition in-process through libtesseract.
// Build with -tags gosseract; requires the tesseract and leptonica headers.
type GosseractEngine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewGosseractEngine creates an engine with a single reusable client
func NewGosseractEngine() *GosseractEngine {
	return &GosseractEngine{client: gosseract.NewClient()}
}

func (g *GosseractEngine) Name() string {
	return "gosseract"
}

// Recognize runs one pass. The engine mode is fixed when libtesseract initializes,
// so Config.OEM is not applied here.
func (g *GosseractEngine) Recognize(ctx context.Context, imagePath string, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// the client holds per-call state, one pass at a time
	g.mu.Lock()
	defer g.mu.Unlock()

	if req.Language != "" {
		if err := g.client.SetLanguage(req.Language); err != nil {
			return "", fmt.Errorf("set language: %w", err)
		}
	}
	if err := g.client.SetWhitelist(req.Whitelist); err != nil {
		return "", fmt.Errorf("set whitelist: %w", err)
	}
	if err := g.client.SetPageSegMode(gosseract.PageSegMode(req.Config.PSM)); err != nil {
		return "", fmt.Errorf("set page seg mode: %w", err)
	}
	if err := g.client.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}

	text, err := g.client.Text()
	if err != nil {
		return "", fmt.Errorf("gosseract %s failed: %w", req.Config.Name, err)
	}
	return text, nil
}

// Close releases the underlying client
func (g *GosseractEngine) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client.Close()
}

func nativeEngine() (Engine, bool) {
	return NewGosseractEngine(), true
}
