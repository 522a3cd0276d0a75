package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"jordanella.com/gather-bot/internal/config"
)

// Set via -ldflags at build time
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "gatherbot",
		Short: "Resource gathering bot for MuMu emulator instances",
		Long: "gatherbot keeps every march queue of every configured emulator instance busy,\n" +
			"rotating resource types and starting only as many emulators as the scheduler allows.",
		RunE:          runApp,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	initCommands()
	return rootCmd.Execute()
}

func initCommands() {
	rootCmd.AddCommand(versionCmd, instancesCmd(), ocrCmd())

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "enable console logging")

	rootCmd.Flags().String("settings", "", "per-instance Settings.ini path")
	rootCmd.Flags().String("listen-addr", "", "status API listen address")
	rootCmd.Flags().Int("max-concurrent", 0, "maximum emulators running at once")
	rootCmd.Flags().Bool("no-autostart", false, "do not start instances marked autoStart")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if f := cmd.Flag("log-level"); f != nil && f.Changed {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if f := cmd.Flag("log-pretty"); f != nil && f.Changed {
		cfg.Log.Pretty, _ = cmd.Flags().GetBool("log-pretty")
	}
	if f := cmd.Flag("settings"); f != nil && f.Changed {
		cfg.Settings.Path, _ = cmd.Flags().GetString("settings")
	}
	if f := cmd.Flag("listen-addr"); f != nil && f.Changed {
		cfg.API.ListenAddr, _ = cmd.Flags().GetString("listen-addr")
	}
	if f := cmd.Flag("max-concurrent"); f != nil && f.Changed {
		cfg.Scheduler.MaxConcurrent, _ = cmd.Flags().GetInt("max-concurrent")
	}
}

func runApp(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	closeLog, err := configureLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	noAutostart, _ := cmd.Flags().GetBool("no-autostart")

	app, err := NewApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return app.Run(cmd.Context(), !noAutostart)
}

func runVersion(*cobra.Command, []string) {
	fmt.Printf("gatherbot\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
