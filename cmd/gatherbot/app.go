package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"jordanella.com/gather-bot/internal/adb"
	"jordanella.com/gather-bot/internal/api"
	"jordanella.com/gather-bot/internal/config"
	"jordanella.com/gather-bot/internal/cv"
	"jordanella.com/gather-bot/internal/database"
	"jordanella.com/gather-bot/internal/emulator"
	"jordanella.com/gather-bot/internal/events"
	"jordanella.com/gather-bot/internal/gather"
	"jordanella.com/gather-bot/internal/jobs"
	"jordanella.com/gather-bot/internal/logging"
	"jordanella.com/gather-bot/internal/march"
	"jordanella.com/gather-bot/internal/metrics"
	"jordanella.com/gather-bot/internal/monitor"
	"jordanella.com/gather-bot/internal/ocr"
	"jordanella.com/gather-bot/pkg/templates"
)

// App owns every long-lived component of the bot
type App struct {
	cfg *config.Config
	log *logging.Logger

	metrics   *metrics.Metrics
	bus       *events.DefaultEventBus
	reporter  *logging.ErrorReporter
	settings  *config.Store
	emulators *emulator.Manager
	db        *database.DB
	recorder  *database.Recorder
	watchdog  *monitor.Watchdog
	service   *gather.Service
	jobs      *jobs.Runner
	apiServer *api.Server

	shutdownFns []func() error
}

func configureLogging(cfg config.LogConfig) (func(), error) {
	var out io.Writer = os.Stderr
	closeFn := func() {}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}

	logging.Configure(logging.ParseLevel(cfg.Level), cfg.Pretty, out)
	return closeFn, nil
}

func newEmulatorManager(cfg config.EmulatorConfig) (*emulator.Manager, error) {
	adbPath := cfg.ADBPath
	if adbPath == "" {
		found, err := adb.FindADB(cfg.FolderPath)
		if err != nil {
			return nil, fmt.Errorf("failed to locate adb: %w", err)
		}
		adbPath = found
	}

	mumu := emulator.NewMuMuManager(cfg.FolderPath)
	if cfg.ManagerPath != "" {
		mumu = mumu.WithCLIPath(cfg.ManagerPath)
	}
	return emulator.NewManager(mumu, adbPath).WithBootTimeout(cfg.BootTimeout, 2*time.Second), nil
}

func newExtractor(cfg config.OCRConfig, m *metrics.Metrics) *ocr.Extractor {
	ex := ocr.NewExtractor(ocr.NewEngine(cfg.Engine, cfg.TesseractPath)).WithMetrics(m)
	if cfg.TempDir != "" {
		ex = ex.WithTempDir(cfg.TempDir)
	}
	return ex
}

func newMatcher(cfg config.TemplatesConfig, m *metrics.Metrics) (*cv.Matcher, error) {
	registry := templates.NewRegistry(cfg.Dir)
	if err := registry.LoadFromDirectory(cfg.Dir); err != nil {
		return nil, fmt.Errorf("failed to load templates from %s: %w", cfg.Dir, err)
	}
	return cv.NewMatcher(registry).
		WithStride(cfg.Stride).
		WithReferenceSize(gather.ReferenceWidth, gather.ReferenceHeight).
		WithMetrics(m), nil
}

// NewApp builds and wires every component without starting anything
func NewApp(cfg *config.Config) (*App, error) {
	a := &App{
		cfg:      cfg,
		log:      logging.NewLogger("app"),
		metrics:  metrics.New(),
		bus:      events.NewEventBus(256),
		reporter: logging.NewErrorReporter(),
	}
	a.shutdownFns = append(a.shutdownFns, func() error { a.bus.Stop(); return nil })
	events.NewEventLogger(a.bus, logging.NewLogger("events"))

	if err := a.initialize(); err != nil {
		a.runShutdownFns()
		return nil, err
	}
	return a, nil
}

func (a *App) initialize() error {
	settings, err := config.OpenStore(a.cfg.Settings.Path)
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}
	a.settings = settings
	for _, id := range a.cfg.Emulator.Instances {
		if _, err := settings.Update(id, func(*config.InstanceSettings) {}); err != nil {
			return fmt.Errorf("failed to initialise settings for instance %d: %w", id, err)
		}
	}

	a.emulators, err = newEmulatorManager(a.cfg.Emulator)
	if err != nil {
		return err
	}

	matcher, err := newMatcher(a.cfg.Templates, a.metrics)
	if err != nil {
		return err
	}

	if a.cfg.Database.Path != "" {
		if err := a.initializeDatabase(); err != nil {
			return err
		}
	}

	tracker := march.NewTracker()
	deps := gather.Deps{
		Finder:      matcher,
		Reader:      newExtractor(a.cfg.OCR, a.metrics),
		Tracker:     tracker,
		Board:       gather.NewStatusBoard(nil),
		Timings:     a.cfg.Gather.Timings,
		DeviceRetry: a.cfg.Gather.DeviceRetry,
		Hibernate: gather.HibernatePolicy{
			Enabled:   a.cfg.Hibernate.Enabled,
			Threshold: a.cfg.Hibernate.Threshold,
			WakeLead:  a.cfg.Hibernate.WakeLead,
		},
		Bus:      a.bus,
		Metrics:  a.metrics,
		Reporter: a.reporter,
	}

	if a.cfg.Watchdog.Enabled {
		a.watchdog = monitor.NewWatchdog(a.cfg.Watchdog.StuckTimeout, a.cfg.Watchdog.CheckInterval).
			WithPinger(func(id int) monitor.Pinger { return a.emulators.Controller(id) }).
			WithBus(a.bus).
			WithMetrics(a.metrics).
			WithReporter(a.reporter)
		deps.Watchdog = a.watchdog
	}

	devices := func(id int) gather.Device { return a.emulators.Controller(id) }
	a.service = gather.NewService(deps, a.emulators, devices, settings, a.cfg.Scheduler.MaxConcurrent)

	jobDeps := jobs.Deps{
		Board:   deps.Board,
		Tracker: tracker,
		Bus:     a.bus,
		Metrics: a.metrics,
	}
	if a.db != nil {
		jobDeps.Pruner = a.db
		jobDeps.Retention = a.cfg.Database.Retention
	}
	a.jobs, err = jobs.New(jobs.Schedule{
		StatusRefresh: a.cfg.Jobs.StatusRefresh,
		Sweep:         a.cfg.Jobs.Sweep,
		Prune:         a.cfg.Jobs.Prune,
	}, jobDeps)
	if err != nil {
		return err
	}

	if a.cfg.API.Enabled {
		a.initializeAPIServer()
	}
	return nil
}

func (a *App) initializeDatabase() error {
	db, err := database.Open(a.cfg.Database.Path)
	if err != nil {
		return err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return fmt.Errorf("failed to migrate history database: %w", err)
	}

	a.db = db
	a.recorder = database.NewRecorder(db, a.bus)
	a.shutdownFns = append(a.shutdownFns, func() error {
		a.recorder.Close()
		return a.db.Close()
	})
	return nil
}

func (a *App) initializeAPIServer() {
	cfg := api.DefaultConfig()
	cfg.ListenAddr = a.cfg.API.ListenAddr
	cfg.ReadHeaderTimeout = a.cfg.API.ReadHeaderTimeout
	cfg.ReadTimeout = a.cfg.API.ReadTimeout
	cfg.WriteTimeout = a.cfg.API.WriteTimeout
	cfg.IdleTimeout = a.cfg.API.IdleTimeout
	cfg.MetricsPath = a.cfg.Metrics.Path

	s := api.NewServer(cfg, logging.Base())
	s.EnableCORS()

	h := &api.Handler{
		Gather:    a.service,
		Scheduler: a.service.Scheduler(),
		Errors:    a.reporter,
	}
	if a.db != nil {
		h.History = a.db
	}
	if a.cfg.Metrics.Enabled {
		h.Metrics = a.metrics.Handler()
	}
	h.RegisterMux(s.Router, cfg.MetricsPath)

	a.apiServer = s
}

// Run starts every component and blocks until ctx ends or a signal arrives
func (a *App) Run(ctx context.Context, autoStart bool) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.log.InfoWithContext("Starting gatherbot", map[string]interface{}{
		"version":        Version,
		"go_version":     runtime.Version(),
		"settings":       a.settings.Path(),
		"max_concurrent": a.cfg.Scheduler.MaxConcurrent,
		"hibernate":      a.cfg.Hibernate.Enabled,
	})

	if a.watchdog != nil {
		a.watchdog.Start()
	}
	a.jobs.Start()

	if a.cfg.Settings.Watch {
		if err := a.watchSettings(runCtx); err != nil {
			a.log.Error("Settings reload disabled", err)
		}
	}

	if a.apiServer != nil {
		go func() {
			if err := a.apiServer.Start(runCtx); err != nil {
				a.log.Error("API server error", err)
			}
		}()
	}

	if autoStart {
		a.service.AutoStart()
	}

	return a.runWithGracefulShutdown(runCtx, cancel)
}

// watchSettings logs reloads of Settings.ini; workers read fresh values each cycle
func (a *App) watchSettings(ctx context.Context) error {
	w, err := config.NewWatcher(a.settings)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}

	go func() {
		for ev := range w.Events() {
			if ev.Error != nil {
				a.log.Error("Failed to reload settings", ev.Error)
				continue
			}
			a.log.InfoWithContext("Settings reloaded", map[string]interface{}{"instances": len(ev.Settings)})
		}
	}()
	return nil
}

func (a *App) runWithGracefulShutdown(ctx context.Context, cancel context.CancelFunc) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a.log.Info("gatherbot started")

	select {
	case <-ctx.Done():
		a.log.Info("Context canceled, initiating shutdown")
	case sig := <-sigCh:
		a.log.InfoWithContext("Received shutdown signal", map[string]interface{}{"signal": sig.String()})
	}

	cancel()
	return a.shutdown()
}

func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var firstErr error
	if err := a.service.Shutdown(shutdownCtx); err != nil {
		a.log.Error("Service shutdown error", err)
		firstErr = err
	}
	if err := a.jobs.Stop(shutdownCtx); err != nil {
		a.log.Error("Jobs shutdown error", err)
	}
	if a.watchdog != nil {
		a.watchdog.Stop()
	}

	a.runShutdownFns()
	a.log.Info("Graceful shutdown complete")
	return firstErr
}

// runShutdownFns runs cleanup in reverse registration order
func (a *App) runShutdownFns() {
	for i := len(a.shutdownFns) - 1; i >= 0; i-- {
		if err := a.shutdownFns[i](); err != nil {
			a.log.Error("Shutdown function error", err)
		}
	}
	a.shutdownFns = nil
}
