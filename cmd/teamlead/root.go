package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/teamlead/internal/config"
	"github.com/ShayCichocki/teamlead/internal/logging"
)

var (
	cfg        *config.Config
	logger     *slog.Logger
	closeLog   func() error
	logLevel   string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "teamlead",
	Short: "Supervisor for lead agents and their teammates",
	Long: `teamlead runs lead agents that coordinate teams of sub-agents.

It launches the agent runtime, receives its lifecycle hooks, tracks every
teammate and task, relays messages between teammates, holds tool approvals
for the operator and persists sessions across restarts.

Start the supervisor with 'teamlead serve'. The runtime calls back through
'teamlead hook'.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			closeLog()
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Read configuration from this file only")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(specsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads configuration and builds the logger for every command.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return openLogger(nil)
}

// openLogger (re)builds the logger. A non-nil stderr replaces the terminal
// sink, which serve --tui uses to keep log lines off the dashboard.
func openLogger(stderr io.Writer) error {
	if closeLog != nil {
		closeLog()
	}
	l, closeFn, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
		Stderr: stderr,
	})
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	logger, closeLog = l, closeFn
	slog.SetDefault(logger)
	return nil
}
