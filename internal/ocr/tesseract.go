package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
)

// TesseractCLI invokes the tesseract binary once per pass
type TesseractCLI struct {
	path string

	once      sync.Once
	available error
}

// NewTesseractCLI creates an engine for the given binary (defaults to "tesseract" on PATH)
func NewTesseractCLI(path string) *TesseractCLI {
	if path == "" {
		path = "tesseract"
	}
	return &TesseractCLI{path: path}
}

func (t *TesseractCLI) Name() string {
	return "tesseract-cli"
}

// Available reports whether the binary can be found
func (t *TesseractCLI) Available() error {
	t.once.Do(func() {
		if _, err := exec.LookPath(t.path); err != nil {
			t.available = fmt.Errorf("%w: %s: %v", ErrEngineUnavailable, t.path, err)
		}
	})
	return t.available
}

// Recognize runs: tesseract <image> stdout --psm N --oem M [-l lang] [-c whitelist]
func (t *TesseractCLI) Recognize(ctx context.Context, imagePath string, req Request) (string, error) {
	if err := t.Available(); err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, t.path, t.args(imagePath, req)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract %s failed: %w, stderr: %s", req.Config.Name, err, stderr.String())
	}
	return stdout.String(), nil
}

func (t *TesseractCLI) args(imagePath string, req Request) []string {
	args := []string{
		imagePath, "stdout",
		"--psm", strconv.Itoa(int(req.Config.PSM)),
		"--oem", strconv.Itoa(int(req.Config.OEM)),
	}
	if req.Language != "" {
		args = append(args, "-l", req.Language)
	}
	if req.Whitelist != "" {
		args = append(args, "-c", "tessedit_char_whitelist="+req.Whitelist)
	}
	return args
}
