package adb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Runner executes one adb invocation and returns its stdout
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// execRunner runs the real binary; stderr is folded into the error
func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%w, output: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Controller drives one emulator over adb
type Controller struct {
	path    string
	device  string // Device ID: "127.0.0.1:port"
	timeout time.Duration
	run     Runner

	mu        sync.Mutex
	connected bool
}

// NewController creates a new ADB controller for 127.0.0.1:port
func NewController(adbPath string, port int) *Controller {
	return &Controller{
		path:    adbPath,
		device:  fmt.Sprintf("127.0.0.1:%d", port),
		timeout: 15 * time.Second,
		run:     execRunner,
	}
}

// WithRunner replaces the process runner
func (c *Controller) WithRunner(r Runner) *Controller {
	c.run = r
	return c
}

// WithTimeout bounds every adb invocation
func (c *Controller) WithTimeout(d time.Duration) *Controller {
	c.timeout = d
	return c
}

// Device returns the adb serial
func (c *Controller) Device() string {
	return c.device
}

// Connect establishes connection to the ADB device
func (c *Controller) Connect(ctx context.Context) error {
	out, err := c.exec(ctx, "connect", c.device)
	if err != nil {
		return fmt.Errorf("failed to connect to device %s: %w", c.device, err)
	}

	text := string(out)
	if !strings.Contains(text, "connected") {
		return fmt.Errorf("unexpected connect output: %s", strings.TrimSpace(text))
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect releases the adb connection
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	if _, err := c.exec(ctx, "disconnect", c.device); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", c.device, err)
	}
	return nil
}

// IsConnected returns whether the controller is connected
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Ping checks that the device answers a trivial shell command
func (c *Controller) Ping(ctx context.Context) error {
	out, err := c.Shell(ctx, "echo ok")
	if err != nil {
		return err
	}
	if out != "ok" {
		return fmt.Errorf("unexpected ping reply: %q", out)
	}
	return nil
}

// exec runs adb with the configured timeout
func (c *Controller) exec(ctx context.Context, args ...string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.run(ctx, c.path, args...)
}

// device-scoped invocation
func (c *Controller) execDevice(ctx context.Context, args ...string) ([]byte, error) {
	return c.exec(ctx, append([]string{"-s", c.device}, args...)...)
}
