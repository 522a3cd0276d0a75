package adb

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// FindADB attempts to locate the ADB executable, preferring the one bundled
// with the emulator under folderPath
func FindADB(folderPath string) (string, error) {
	exe := "adb"
	if runtime.GOOS == "windows" {
		exe = "adb.exe"
	}

	var candidates []string
	if folderPath != "" {
		candidates = append(candidates,
			filepath.Join(folderPath, "shell", exe),
			filepath.Join(folderPath, "nx_main", exe),
			filepath.Join(folderPath, "adb", exe),
		)
	}

	if runtime.GOOS == "windows" {
		candidates = append(candidates,
			`C:\Program Files\Netease\MuMuPlayerGlobal-12.0\shell\adb.exe`,
			`C:\Program Files\Netease\MuMuPlayer-12.0\shell\adb.exe`,
			os.ExpandEnv(`${LOCALAPPDATA}\Android\Sdk\platform-tools\adb.exe`),
		)
	} else {
		home, _ := os.UserHomeDir()
		candidates = append(candidates,
			"/usr/bin/adb",
			"/usr/local/bin/adb",
			filepath.Join(home, "Android", "Sdk", "platform-tools", "adb"),
		)
	}

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	if path, err := exec.LookPath(exe); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("adb not found, please specify path in config")
}

// Devices lists serials reported by `adb devices` in the "device" state
func Devices(ctx context.Context, adbPath string) ([]string, error) {
	out, err := execRunner(ctx, adbPath, "devices")
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return parseDevices(string(out)), nil
}

func parseDevices(output string) []string {
	var serials []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[1] == "device" {
			serials = append(serials, fields[0])
		}
	}
	return serials
}
