package adb

import (
	"context"
	"fmt"
	"strings"
)

// Tap performs a tap at the specified screen coordinates
func (c *Controller) Tap(ctx context.Context, x, y int) error {
	_, err := c.Shell(ctx, fmt.Sprintf("input tap %d %d", x, y))
	return err
}

// Swipe performs a swipe gesture lasting durationMs
func (c *Controller) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	_, err := c.Shell(ctx, fmt.Sprintf("input swipe %d %d %d %d %d", x1, y1, x2, y2, durationMs))
	return err
}

// SendKey sends a key event (e.g., "KEYCODE_BACK", "KEYCODE_HOME")
func (c *Controller) SendKey(ctx context.Context, key string) error {
	_, err := c.Shell(ctx, fmt.Sprintf("input keyevent %s", key))
	return err
}

// Shell executes a shell command and returns trimmed output
func (c *Controller) Shell(ctx context.Context, command string) (string, error) {
	out, err := c.execDevice(ctx, "shell", command)
	if err != nil {
		return "", fmt.Errorf("shell command %q failed: %w", command, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ForceStop stops an application
func (c *Controller) ForceStop(ctx context.Context, packageName string) error {
	_, err := c.Shell(ctx, fmt.Sprintf("am force-stop %s", packageName))
	return err
}

// StartApp launches an application's default activity
func (c *Controller) StartApp(ctx context.Context, packageName string) error {
	_, err := c.Shell(ctx, fmt.Sprintf("monkey -p %s -c android.intent.category.LAUNCHER 1", packageName))
	return err
}

// IsAppRunning checks if an app is currently running
func (c *Controller) IsAppRunning(ctx context.Context, packageName string) (bool, error) {
	output, err := c.Shell(ctx, fmt.Sprintf("pidof %s", packageName))
	if err != nil {
		return false, nil // pidof exits non-zero when nothing matches
	}
	return output != "", nil
}

// WindowSize returns the current screen size
func (c *Controller) WindowSize(ctx context.Context) (width, height int, err error) {
	output, err := c.Shell(ctx, "wm size")
	if err != nil {
		return 0, 0, err
	}
	return parseWindowSize(output)
}

// parseWindowSize prefers an override size over the physical one
func parseWindowSize(output string) (int, int, error) {
	var w, h int
	found := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		var lw, lh int
		if _, err := fmt.Sscanf(line, "Override size: %dx%d", &lw, &lh); err == nil {
			return lw, lh, nil
		}
		if _, err := fmt.Sscanf(line, "Physical size: %dx%d", &lw, &lh); err == nil {
			w, h, found = lw, lh, true
		}
	}
	if !found {
		return 0, 0, fmt.Errorf("failed to parse window size: %s", output)
	}
	return w, h, nil
}
