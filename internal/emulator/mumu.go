package emulator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"jordanella.com/gather-bot/internal/logging"
)

// MuMu Player constants
const (
	MuMuBasePort      = 16384
	MuMuPortIncrement = 32
	vmFolderPrefix    = "MuMuPlayerGlobal-12.0-"
)

// DefaultADBPort returns the conventional adb port for an instance index
func DefaultADBPort(index int) int {
	return MuMuBasePort + index*MuMuPortIncrement
}

// MuMuInstance is one emulator as reported by the manager CLI
type MuMuInstance struct {
	Index          int
	Name           string
	ProcessStarted bool
	AndroidStarted bool
	ADBHost        string
	ADBPort        int
	State          string
}

// Running reports whether Android has finished booting
func (i MuMuInstance) Running() bool {
	return i.ProcessStarted && i.AndroidStarted
}

// infoEntry mirrors one object of `MuMuManager info -v all`
type infoEntry struct {
	Index          string `json:"index"`
	Name           string `json:"name"`
	ProcessStarted bool   `json:"is_process_started"`
	AndroidStarted bool   `json:"is_android_started"`
	ADBHost        string `json:"adb_host_ip"`
	ADBPort        int    `json:"adb_port"`
	PlayerState    string `json:"player_state"`
}

// MuMuExtraConfig represents the extra_config.json structure
type MuMuExtraConfig struct {
	PlayerName string `json:"playerName"`
	Status     int    `json:"status"`
}

// CommandRunner executes the manager CLI
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w, output: %s", filepath.Base(name), strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// MuMuManager drives MuMu Player 12 through MuMuManager.exe
type MuMuManager struct {
	folderPath string
	cliPath    string
	run        CommandRunner
	log        *logging.Logger
}

// NewMuMuManager creates a manager for the installation at folderPath
func NewMuMuManager(folderPath string) *MuMuManager {
	return &MuMuManager{
		folderPath: folderPath,
		cliPath:    findManagerCLI(folderPath),
		run:        execCommand,
		log:        logging.NewLogger("emulator"),
	}
}

// WithRunner replaces the CLI runner
func (m *MuMuManager) WithRunner(r CommandRunner) *MuMuManager {
	m.run = r
	return m
}

// WithCLIPath overrides the detected MuMuManager path
func (m *MuMuManager) WithCLIPath(path string) *MuMuManager {
	m.cliPath = path
	return m
}

// WithLogger replaces the logger
func (m *MuMuManager) WithLogger(l *logging.Logger) *MuMuManager {
	m.log = l
	return m
}

func findManagerCLI(folderPath string) string {
	exe := "MuMuManager"
	if runtime.GOOS == "windows" {
		exe += ".exe"
	}
	for _, dir := range []string{"shell", "nx_main", ""} {
		path := filepath.Join(folderPath, dir, exe)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return exe
}

// ListInstances returns every configured instance ordered by index
func (m *MuMuManager) ListInstances(ctx context.Context) ([]MuMuInstance, error) {
	out, err := m.run(ctx, m.cliPath, "info", "-v", "all")
	if err != nil {
		return m.instancesFromConfigs(err)
	}

	instances, err := parseInfo(out)
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// instancesFromConfigs falls back to the vms folder when the CLI is unavailable
func (m *MuMuManager) instancesFromConfigs(cliErr error) ([]MuMuInstance, error) {
	configs, err := m.GetAllInstanceConfigs()
	if err != nil || len(configs) == 0 {
		return nil, fmt.Errorf("failed to list instances: %w", cliErr)
	}

	m.log.WarnWithContext("MuMuManager unavailable, listing instances from vms folder", map[string]interface{}{
		"error": cliErr.Error(),
	})

	instances := make([]MuMuInstance, 0, len(configs))
	for index, cfg := range configs {
		instances = append(instances, MuMuInstance{
			Index:   index,
			Name:    cfg.PlayerName,
			ADBHost: "127.0.0.1",
			ADBPort: DefaultADBPort(index),
		})
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Index < instances[j].Index })
	return instances, nil
}

// parseInfo accepts both the keyed multi-instance object and a single bare entry
func parseInfo(data []byte) ([]MuMuInstance, error) {
	var entries []infoEntry

	var keyed map[string]infoEntry
	if err := json.Unmarshal(data, &keyed); err == nil && !isSingleEntry(data) {
		for _, e := range keyed {
			entries = append(entries, e)
		}
	} else {
		var single infoEntry
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("failed to parse instance info: %w", err)
		}
		entries = append(entries, single)
	}

	instances := make([]MuMuInstance, 0, len(entries))
	for _, e := range entries {
		index, err := strconv.Atoi(e.Index)
		if err != nil {
			return nil, fmt.Errorf("invalid instance index %q", e.Index)
		}
		inst := MuMuInstance{
			Index:          index,
			Name:           e.Name,
			ProcessStarted: e.ProcessStarted,
			AndroidStarted: e.AndroidStarted,
			ADBHost:        e.ADBHost,
			ADBPort:        e.ADBPort,
			State:          e.PlayerState,
		}
		if inst.ADBPort == 0 {
			inst.ADBPort = DefaultADBPort(index)
		}
		if inst.ADBHost == "" {
			inst.ADBHost = "127.0.0.1"
		}
		instances = append(instances, inst)
	}

	sort.Slice(instances, func(i, j int) bool { return instances[i].Index < instances[j].Index })
	return instances, nil
}

func isSingleEntry(data []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	_, ok := probe["index"]
	return ok
}

// Instance returns a single instance by index
func (m *MuMuManager) Instance(ctx context.Context, index int) (MuMuInstance, error) {
	out, err := m.run(ctx, m.cliPath, "info", "-v", strconv.Itoa(index))
	if err != nil {
		return MuMuInstance{}, fmt.Errorf("failed to query instance %d: %w", index, err)
	}
	instances, err := parseInfo(out)
	if err != nil {
		return MuMuInstance{}, err
	}
	for _, inst := range instances {
		if inst.Index == index {
			return inst, nil
		}
	}
	return MuMuInstance{}, fmt.Errorf("instance %d not found", index)
}

// LaunchInstance boots an instance
func (m *MuMuManager) LaunchInstance(ctx context.Context, index int) error {
	m.log.InfoWithContext("Launching instance", map[string]interface{}{"instance": index})
	if _, err := m.run(ctx, m.cliPath, "control", "-v", strconv.Itoa(index), "launch"); err != nil {
		return fmt.Errorf("failed to launch MuMu instance %d: %w", index, err)
	}
	return nil
}

// ShutdownInstance powers an instance off
func (m *MuMuManager) ShutdownInstance(ctx context.Context, index int) error {
	m.log.InfoWithContext("Shutting down instance", map[string]interface{}{"instance": index})
	if _, err := m.run(ctx, m.cliPath, "control", "-v", strconv.Itoa(index), "shutdown"); err != nil {
		return fmt.Errorf("failed to shut down MuMu instance %d: %w", index, err)
	}
	return nil
}

// ReadInstanceConfig reads the extra_config.json for a specific instance
func (m *MuMuManager) ReadInstanceConfig(instanceIndex int) (*MuMuExtraConfig, error) {
	configPath := filepath.Join(m.folderPath, "vms", fmt.Sprintf("%s%d", vmFolderPrefix, instanceIndex), "configs", "extra_config.json")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config for instance %d: %w", instanceIndex, err)
	}

	var config MuMuExtraConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config for instance %d: %w", instanceIndex, err)
	}
	return &config, nil
}

// GetAllInstanceConfigs reads all available instance configurations from the vms folder
func (m *MuMuManager) GetAllInstanceConfigs() (map[int]*MuMuExtraConfig, error) {
	configs := make(map[int]*MuMuExtraConfig)

	vmsPath := filepath.Join(m.folderPath, "vms")
	entries, err := os.ReadDir(vmsPath)
	if err != nil {
		return configs, fmt.Errorf("failed to read vms folder: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), vmFolderPrefix) {
			continue
		}

		instanceIndex, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), vmFolderPrefix))
		if err != nil {
			continue // "base" and other non-instance folders
		}

		config, err := m.ReadInstanceConfig(instanceIndex)
		if err != nil {
			continue
		}
		configs[instanceIndex] = config
	}

	return configs, nil
}
