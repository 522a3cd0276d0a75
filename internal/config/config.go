package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"jordanella.com/gather-bot/internal/gather"
)

// Config holds the complete application configuration
type Config struct {
	Emulator  EmulatorConfig  `mapstructure:"emulator"  yaml:"emulator"`
	Templates TemplatesConfig `mapstructure:"templates" yaml:"templates"`
	OCR       OCRConfig       `mapstructure:"ocr"       yaml:"ocr"`
	Gather    GatherConfig    `mapstructure:"gather"    yaml:"gather"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Hibernate HibernateConfig `mapstructure:"hibernate" yaml:"hibernate"`
	Watchdog  WatchdogConfig  `mapstructure:"watchdog"  yaml:"watchdog"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
	Log       LogConfig       `mapstructure:"log"       yaml:"log"`
	Database  DatabaseConfig  `mapstructure:"database"  yaml:"database"`
	Settings  SettingsConfig  `mapstructure:"settings"  yaml:"settings"`
	Jobs      JobsConfig      `mapstructure:"jobs"      yaml:"jobs"`
}

// EmulatorConfig locates the emulator install and adb
type EmulatorConfig struct {
	FolderPath  string        `mapstructure:"folder_path"  yaml:"folder_path"`
	ADBPath     string        `mapstructure:"adb_path"     yaml:"adb_path"`
	ManagerPath string        `mapstructure:"manager_path" yaml:"manager_path"`
	BootTimeout time.Duration `mapstructure:"boot_timeout" yaml:"boot_timeout"`
	Instances   []int         `mapstructure:"instances"    yaml:"instances"` // empty = every instance the emulator reports
}

// TemplatesConfig points at the template YAML definitions
type TemplatesConfig struct {
	Dir    string `mapstructure:"dir"    yaml:"dir"`
	Stride int    `mapstructure:"stride" yaml:"stride"`
}

// OCRConfig selects the recognizer
type OCRConfig struct {
	Engine        string `mapstructure:"engine"         yaml:"engine"` // tesseract | gosseract
	TesseractPath string `mapstructure:"tesseract_path" yaml:"tesseract_path"`
	TempDir       string `mapstructure:"temp_dir"       yaml:"temp_dir"`
}

// GatherConfig tunes the orchestrator
type GatherConfig struct {
	Timings     gather.Timings     `mapstructure:"timings"      yaml:"timings"`
	DeviceRetry gather.RetryPolicy `mapstructure:"device_retry" yaml:"device_retry"`
}

// SchedulerConfig bounds concurrently running instances
type SchedulerConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

// HibernateConfig controls stopping idle emulators between marches
type HibernateConfig struct {
	Enabled   bool          `mapstructure:"enabled"   yaml:"enabled"`
	Threshold time.Duration `mapstructure:"threshold" yaml:"threshold"` // minimum wait worth shutting down for
	WakeLead  time.Duration `mapstructure:"wake_lead" yaml:"wake_lead"` // restart this long before the next completion
}

// WatchdogConfig detects stuck macros
type WatchdogConfig struct {
	Enabled       bool          `mapstructure:"enabled"        yaml:"enabled"`
	StuckTimeout  time.Duration `mapstructure:"stuck_timeout"  yaml:"stuck_timeout"`
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
}

// APIConfig holds HTTP API server configuration
type APIConfig struct {
	Enabled           bool          `mapstructure:"enabled"             yaml:"enabled"`
	ListenAddr        string        `mapstructure:"listen_addr"         yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"        yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"       yaml:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"        yaml:"idle_timeout"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
	File   string `mapstructure:"file"   yaml:"file"` // empty = stderr
}

// DatabaseConfig holds the history store
type DatabaseConfig struct {
	Path      string        `mapstructure:"path"      yaml:"path"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// SettingsConfig locates the per-instance Settings.ini
type SettingsConfig struct {
	Path  string `mapstructure:"path"  yaml:"path"`
	Watch bool   `mapstructure:"watch" yaml:"watch"`
}

// JobsConfig holds cron specs for housekeeping jobs
type JobsConfig struct {
	StatusRefresh string `mapstructure:"status_refresh" yaml:"status_refresh"`
	Sweep         string `mapstructure:"sweep"          yaml:"sweep"`
	Prune         string `mapstructure:"prune"          yaml:"prune"`
}

// Load reads configPath (optional) and GATHERBOT_* environment overrides
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("GATHERBOT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("emulator.folder_path", `C:\Program Files\Netease\MuMuPlayerGlobal-12.0`)
	v.SetDefault("emulator.adb_path", "")
	v.SetDefault("emulator.manager_path", "")
	v.SetDefault("emulator.boot_timeout", "3m")
	v.SetDefault("emulator.instances", []int{})

	v.SetDefault("templates.dir", "templates")
	v.SetDefault("templates.stride", 2)

	v.SetDefault("ocr.engine", "tesseract")
	v.SetDefault("ocr.tesseract_path", "")
	v.SetDefault("ocr.temp_dir", "")

	t := gather.DefaultTimings()
	v.SetDefault("gather.timings.tap_settle", t.TapSettle)
	v.SetDefault("gather.timings.panel_open", t.PanelOpen)
	v.SetDefault("gather.timings.search_open", t.SearchOpen)
	v.SetDefault("gather.timings.scroll", t.Scroll)
	v.SetDefault("gather.timings.search_result", t.SearchResult)
	v.SetDefault("gather.timings.deploy_settle", t.DeploySettle)
	v.SetDefault("gather.timings.world_view_poll", t.WorldViewPoll)
	v.SetDefault("gather.timings.world_view_checks", t.WorldViewChecks)
	v.SetDefault("gather.timings.slider_taps", t.SliderTaps)
	v.SetDefault("gather.timings.long_cooldown", t.LongCooldown)
	v.SetDefault("gather.timings.short_cooldown", t.ShortCooldown)
	v.SetDefault("gather.timings.cycle_backoff.attempts", t.CycleBackoff.Attempts)
	v.SetDefault("gather.timings.cycle_backoff.initial_delay", t.CycleBackoff.InitialDelay)
	v.SetDefault("gather.timings.cycle_backoff.max_delay", t.CycleBackoff.MaxDelay)
	v.SetDefault("gather.timings.cycle_backoff.backoff_factor", t.CycleBackoff.BackoffFactor)
	v.SetDefault("gather.timings.march_estimate", t.MarchEstimate)
	v.SetDefault("gather.timings.gather_estimate", t.GatherEstimate)
	v.SetDefault("gather.timings.max_march_time", t.MaxMarchTime)

	r := gather.DefaultDeviceRetry()
	v.SetDefault("gather.device_retry.attempts", r.Attempts)
	v.SetDefault("gather.device_retry.initial_delay", r.InitialDelay)
	v.SetDefault("gather.device_retry.max_delay", r.MaxDelay)
	v.SetDefault("gather.device_retry.backoff_factor", r.BackoffFactor)

	v.SetDefault("scheduler.max_concurrent", 2)

	v.SetDefault("hibernate.enabled", false)
	v.SetDefault("hibernate.threshold", "45m")
	v.SetDefault("hibernate.wake_lead", "5m")

	v.SetDefault("watchdog.enabled", true)
	v.SetDefault("watchdog.stuck_timeout", "3m")
	v.SetDefault("watchdog.check_interval", "15s")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", "127.0.0.1:8089")
	v.SetDefault("api.read_header_timeout", "5s")
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.idle_timeout", "120s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("log.file", "")

	v.SetDefault("database.path", "gatherbot.db")
	v.SetDefault("database.retention", "720h")

	v.SetDefault("settings.path", "Settings.ini")
	v.SetDefault("settings.watch", true)

	v.SetDefault("jobs.status_refresh", "@every 1s")
	v.SetDefault("jobs.sweep", "@every 1s")
	v.SetDefault("jobs.prune", "@hourly")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Scheduler.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("scheduler.max_concurrent must be at least 1, got %d", c.Scheduler.MaxConcurrent))
	}
	switch c.OCR.Engine {
	case "tesseract", "gosseract":
	default:
		errs = append(errs, fmt.Errorf("ocr.engine must be tesseract or gosseract, got %q", c.OCR.Engine))
	}
	if c.Templates.Dir == "" {
		errs = append(errs, errors.New("templates.dir is required"))
	}
	if c.Gather.Timings.WorldViewChecks < 1 {
		errs = append(errs, errors.New("gather.timings.world_view_checks must be at least 1"))
	}
	if c.Gather.Timings.LongCooldown <= 0 || c.Gather.Timings.ShortCooldown <= 0 {
		errs = append(errs, errors.New("gather cooldowns must be positive"))
	}
	if c.Hibernate.Enabled && c.Hibernate.WakeLead >= c.Hibernate.Threshold {
		errs = append(errs, errors.New("hibernate.wake_lead must be shorter than hibernate.threshold"))
	}
	if c.Watchdog.Enabled && c.Watchdog.StuckTimeout <= 0 {
		errs = append(errs, errors.New("watchdog.stuck_timeout must be positive"))
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		errs = append(errs, errors.New("api.listen_addr is required when the API is enabled"))
	}
	for name, spec := range map[string]string{
		"jobs.status_refresh": c.Jobs.StatusRefresh,
		"jobs.sweep":          c.Jobs.Sweep,
		"jobs.prune":          c.Jobs.Prune,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Settings.Path == "" {
		errs = append(errs, errors.New("settings.path is required"))
	}

	return errors.Join(errs...)
}
