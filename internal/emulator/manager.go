package emulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jordanella.com/gather-bot/internal/adb"
)

// Manager handles emulator lifecycle and the adb controller of each instance
type Manager struct {
	mumu    *MuMuManager
	adbPath string

	bootTimeout  time.Duration
	pollInterval time.Duration

	mu          sync.Mutex
	ports       map[int]int
	controllers map[int]*adb.Controller
	newCtrl     func(adbPath string, port int) *adb.Controller
}

// NewManager creates a new emulator manager
func NewManager(mumu *MuMuManager, adbPath string) *Manager {
	return &Manager{
		mumu:         mumu,
		adbPath:      adbPath,
		bootTimeout:  3 * time.Minute,
		pollInterval: 3 * time.Second,
		ports:        make(map[int]int),
		controllers:  make(map[int]*adb.Controller),
		newCtrl:      adb.NewController,
	}
}

// WithBootTimeout sets how long Start waits for Android to come up
func (m *Manager) WithBootTimeout(timeout, poll time.Duration) *Manager {
	m.bootTimeout = timeout
	m.pollInterval = poll
	return m
}

// WithControllerFactory replaces how adb controllers are built
func (m *Manager) WithControllerFactory(f func(adbPath string, port int) *adb.Controller) *Manager {
	m.newCtrl = f
	return m
}

// Instances lists instances and remembers their adb ports
func (m *Manager) Instances(ctx context.Context) ([]MuMuInstance, error) {
	instances, err := m.mumu.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for _, inst := range instances {
		m.ports[inst.Index] = inst.ADBPort
	}
	m.mu.Unlock()
	return instances, nil
}

// Controller returns the adb controller for an instance, creating it on first use
func (m *Manager) Controller(index int) *adb.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctrl, ok := m.controllers[index]; ok {
		return ctrl
	}
	port, ok := m.ports[index]
	if !ok {
		port = DefaultADBPort(index)
	}
	ctrl := m.newCtrl(m.adbPath, port)
	m.controllers[index] = ctrl
	return ctrl
}

// IsRunning reports whether Android on the instance has booted
func (m *Manager) IsRunning(ctx context.Context, index int) bool {
	inst, err := m.mumu.Instance(ctx, index)
	return err == nil && inst.Running()
}

// Start boots the instance if needed, waits for Android, and connects adb
func (m *Manager) Start(ctx context.Context, index int) error {
	inst, err := m.mumu.Instance(ctx, index)
	if err != nil || !inst.Running() {
		if err := m.mumu.LaunchInstance(ctx, index); err != nil {
			return err
		}
		if inst, err = m.waitForBoot(ctx, index); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if inst.ADBPort != 0 && m.ports[index] != inst.ADBPort {
		m.ports[index] = inst.ADBPort
		delete(m.controllers, index)
	}
	m.mu.Unlock()

	if err := m.Controller(index).Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect ADB to instance %d: %w", index, err)
	}
	return nil
}

func (m *Manager) waitForBoot(ctx context.Context, index int) (MuMuInstance, error) {
	ctx, cancel := context.WithTimeout(ctx, m.bootTimeout)
	defer cancel()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		if inst, err := m.mumu.Instance(ctx, index); err == nil && inst.Running() {
			return inst, nil
		}
		select {
		case <-ctx.Done():
			return MuMuInstance{}, fmt.Errorf("instance %d did not boot: %w", index, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stop disconnects adb and shuts the instance down
func (m *Manager) Stop(ctx context.Context, index int) error {
	m.mu.Lock()
	ctrl, ok := m.controllers[index]
	m.mu.Unlock()
	if ok && ctrl.IsConnected() {
		// shutdown proceeds even when the disconnect fails
		_ = ctrl.Disconnect(ctx)
	}
	return m.mumu.ShutdownInstance(ctx, index)
}
