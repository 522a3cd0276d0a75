package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/ini.v1"

	"jordanella.com/gather-bot/internal/gather"
	"jordanella.com/gather-bot/internal/march"
)

const (
	sectionPrefix = "Instance"

	// DefaultMaxQueues is the number of march queues a fully unlocked account has
	DefaultMaxQueues = 6
)

// InstanceSettings is the persisted per-instance configuration
type InstanceSettings struct {
	ID             int                  `json:"id"`
	ResourceLoop   []march.ResourceType `json:"resourceLoop"`
	CursorIndex    int                  `json:"cursorIndex"`
	MaxQueues      int                  `json:"maxQueues"`
	AutoGather     bool                 `json:"autoGather"`
	AutoStart      bool                 `json:"autoStart"`
	Priority       string               `json:"priority"`
	EnabledModules []string             `json:"enabledModules"`
	ModulePriority []string             `json:"modulePriority"`
}

// DefaultInstanceSettings returns settings for an instance with no section
func DefaultInstanceSettings(id int) InstanceSettings {
	return InstanceSettings{
		ID:             id,
		ResourceLoop:   append([]march.ResourceType(nil), march.DefaultResourceLoop...),
		MaxQueues:      DefaultMaxQueues,
		Priority:       "normal",
		EnabledModules: []string{"gather"},
		ModulePriority: []string{"gather"},
	}
}

// ModuleEnabled reports whether a named automation module is on
func (s InstanceSettings) ModuleEnabled(name string) bool {
	for _, m := range s.EnabledModules {
		if strings.EqualFold(m, name) {
			return true
		}
	}
	return false
}

// Store owns Settings.ini. Every write is persisted immediately.
type Store struct {
	path string

	mu   sync.RWMutex
	file *ini.File
}

// OpenStore loads path, starting empty when the file does not exist yet
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the file from disk
func (s *Store) Reload() error {
	var file *ini.File
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		file = ini.Empty()
	} else {
		file, err = ini.Load(s.path)
		if err != nil {
			return fmt.Errorf("failed to load settings file: %w", err)
		}
	}

	s.mu.Lock()
	s.file = file
	s.mu.Unlock()
	return nil
}

// IDs returns the instances that have a settings section, ascending
func (s *Store) IDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int
	for _, name := range s.file.SectionStrings() {
		if !strings.HasPrefix(name, sectionPrefix) {
			continue
		}
		if id, err := strconv.Atoi(strings.TrimPrefix(name, sectionPrefix)); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Get returns the settings of an instance, filling defaults for missing keys
func (s *Store) Get(id int) InstanceSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(id)
}

// All returns settings for every instance with a section
func (s *Store) All() []InstanceSettings {
	ids := s.IDs()
	out := make([]InstanceSettings, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Get(id))
	}
	return out
}

// Update applies fn to an instance's settings and saves the file
func (s *Store) Update(id int, fn func(*InstanceSettings)) (InstanceSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := s.readLocked(id)
	fn(&settings)
	settings.ID = id
	normalize(&settings)

	s.writeLocked(settings)
	if err := s.file.SaveTo(s.path); err != nil {
		return settings, fmt.Errorf("failed to save settings: %w", err)
	}
	return settings, nil
}

// SetCursor persists the resource rotation cursor of an instance
func (s *Store) SetCursor(id, cursor int) error {
	_, err := s.Update(id, func(is *InstanceSettings) {
		is.CursorIndex = cursor
	})
	return err
}

// GatherSettings returns the subset of an instance's settings the gathering loop reads
func (s *Store) GatherSettings(id int) gather.Settings {
	is := s.Get(id)
	return gather.Settings{
		ResourceLoop: is.ResourceLoop,
		CursorIndex:  is.CursorIndex,
		MaxQueues:    is.MaxQueues,
		AutoGather:   is.AutoGather,
		AutoStart:    is.AutoStart,
		Priority:     is.Priority,
	}
}

// Cursor returns the persisted rotation cursor
func (s *Store) Cursor(id int) int {
	return s.Get(id).CursorIndex
}

func sectionName(id int) string {
	return fmt.Sprintf("%s%d", sectionPrefix, id)
}

func (s *Store) readLocked(id int) InstanceSettings {
	settings := DefaultInstanceSettings(id)
	section, err := s.file.GetSection(sectionName(id))
	if err != nil {
		return settings
	}
	// GetKey and the non-Must accessors never mutate the file
	if key, err := section.GetKey("resourceLoop"); err == nil && key.String() != "" {
		settings.ResourceLoop = parseResourceLoop(key.Strings(","))
	}
	if key, err := section.GetKey("cursorIndex"); err == nil {
		if v, err := key.Int(); err == nil {
			settings.CursorIndex = v
		}
	}
	if key, err := section.GetKey("maxQueues"); err == nil {
		if v, err := key.Int(); err == nil {
			settings.MaxQueues = v
		}
	}
	if key, err := section.GetKey("autoGather"); err == nil {
		settings.AutoGather, _ = key.Bool()
	}
	if key, err := section.GetKey("autoStart"); err == nil {
		settings.AutoStart, _ = key.Bool()
	}
	if key, err := section.GetKey("priority"); err == nil {
		settings.Priority = key.String()
	}
	if key, err := section.GetKey("enabledModules"); err == nil && key.String() != "" {
		settings.EnabledModules = key.Strings(",")
	}
	if key, err := section.GetKey("modulePriority"); err == nil && key.String() != "" {
		settings.ModulePriority = key.Strings(",")
	}

	normalize(&settings)
	return settings
}

func (s *Store) writeLocked(settings InstanceSettings) {
	section := s.file.Section(sectionName(settings.ID))

	loop := make([]string, len(settings.ResourceLoop))
	for i, r := range settings.ResourceLoop {
		loop[i] = string(r)
	}
	section.Key("resourceLoop").SetValue(strings.Join(loop, ","))
	section.Key("cursorIndex").SetValue(strconv.Itoa(settings.CursorIndex))
	section.Key("maxQueues").SetValue(strconv.Itoa(settings.MaxQueues))
	section.Key("autoGather").SetValue(strconv.FormatBool(settings.AutoGather))
	section.Key("autoStart").SetValue(strconv.FormatBool(settings.AutoStart))
	section.Key("priority").SetValue(settings.Priority)
	section.Key("enabledModules").SetValue(strings.Join(settings.EnabledModules, ","))
	section.Key("modulePriority").SetValue(strings.Join(settings.ModulePriority, ","))
}

// parseResourceLoop keeps the recognised names in order
func parseResourceLoop(names []string) []march.ResourceType {
	var loop []march.ResourceType
	for _, name := range names {
		if r, err := march.ParseResourceType(name); err == nil {
			loop = append(loop, r)
		}
	}
	return loop
}

func normalize(s *InstanceSettings) {
	if len(s.ResourceLoop) == 0 {
		s.ResourceLoop = append([]march.ResourceType(nil), march.DefaultResourceLoop...)
	}
	if s.CursorIndex < 0 {
		s.CursorIndex = 0
	}
	if s.MaxQueues < 1 || s.MaxQueues > DefaultMaxQueues {
		s.MaxQueues = DefaultMaxQueues
	}
	switch strings.ToLower(s.Priority) {
	case "high", "low":
		s.Priority = strings.ToLower(s.Priority)
	default:
		s.Priority = "normal"
	}
}
