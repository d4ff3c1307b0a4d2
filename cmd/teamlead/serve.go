package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/teamlead/internal/config"
	"github.com/ShayCichocki/teamlead/internal/naming"
	"github.com/ShayCichocki/teamlead/internal/notify"
	"github.com/ShayCichocki/teamlead/internal/runtime"
	"github.com/ShayCichocki/teamlead/internal/server"
	"github.com/ShayCichocki/teamlead/internal/specs"
	"github.com/ShayCichocki/teamlead/internal/state"
	"github.com/ShayCichocki/teamlead/internal/supervisor"
	"github.com/ShayCichocki/teamlead/internal/taskstore"
	"github.com/ShayCichocki/teamlead/internal/tui"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

// taskDebounce coalesces bursts of task file writes.
const taskDebounce = 200 * time.Millisecond

var (
	serveAddr string
	serveTUI  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor, hook bridge and command API",
	Long: `Run the supervisor until interrupted.

Sessions left running by a previous process are closed as interrupted and
their teammates restored from the database. The HTTP API serves hook
callbacks from the runtime, session commands and the live event stream.

With --tui, a read-only dashboard replaces log output on the terminal.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveTUI, "tui", false, "Show the live dashboard")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveTUI {
		if err := openLogger(io.Discard); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := state.Open(cfg.State.Driver, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}

	namer, err := naming.New(naming.Options{
		Enabled:    cfg.Naming.Enabled,
		Model:      cfg.Naming.Model,
		APIKey:     apiKey(cfg),
		Bedrock:    cfg.Naming.Bedrock,
		AWSRegion:  cfg.Naming.AWSRegion,
		AWSProfile: cfg.Naming.AWSProfile,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("set up session naming: %w", err)
	}

	fs := afero.NewOsFs()
	hub := notify.NewHub(logger)
	defer hub.Close()
	tasks := taskstore.New(fs, cfg.Claude.Dir, logger)

	sup, err := supervisor.New(supervisor.Options{
		Runtime:               rt,
		Store:                 db,
		Tasks:                 tasks,
		Hub:                   hub,
		Namer:                 namer,
		Fs:                    fs,
		ClaudeDir:             cfg.Claude.Dir,
		DefaultModel:          cfg.Defaults.Model,
		DefaultPermissionMode: models.PermissionMode(cfg.Defaults.PermissionMode),
		PollInterval:          cfg.Poller.Interval,
		QuietPeriod:           cfg.AutoComplete.QuietPeriod,
		FlushInterval:         cfg.Persistence.FlushInterval,
		InterruptTimeout:      cfg.Runtime.InterruptTimeout,
		Logger:                logger,
	})
	if err != nil {
		return err
	}
	defer sup.Shutdown()

	if err := sup.Recover(ctx); err != nil {
		return fmt.Errorf("recover sessions: %w", err)
	}

	srv := server.New(server.Options{
		Addr:       cfg.Server.Addr,
		Supervisor: sup,
		Hub:        hub,
		Specs:      specs.New(fs, specsDir()),
		Logger:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return sup.Run(gctx) })

	if cfg.Tasks.Watch {
		w, err := taskstore.NewWatcher(tasks.TasksRoot(), taskDebounce, logger)
		if err != nil {
			logger.Warn("task watcher disabled", "error", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
			g.Go(func() error {
				sup.WatchTasks(gctx, w.Changes())
				return nil
			})
		}
	}

	if serveTUI {
		sub := hub.Subscribe(256)
		g.Go(func() error {
			defer sub.Close()
			defer stop()
			return tui.Run(gctx, sub.C())
		})
	}

	logger.Info("teamlead started", "addr", cfg.Server.Addr, "claude_dir", cfg.Claude.Dir)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("teamlead stopped")
	return nil
}

// checkRuntime verifies that the runtime executable is available in PATH.
func checkRuntime(command string) error {
	argv, err := shellquote.Split(command)
	if err != nil || len(argv) == 0 {
		return fmt.Errorf("invalid runtime.command %q", command)
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return fmt.Errorf("%s not found in PATH\n\n"+
			"teamlead drives agents through the claude CLI.\n\n"+
			"Install it with:\n"+
			"  npm install -g @anthropic-ai/claude-code\n\n"+
			"or point runtime.command at another executable", argv[0])
	}
	return nil
}

// newRuntime binds the claude CLI with hooks pointing back at this binary.
func newRuntime(cfg *config.Config) (*runtime.Claude, error) {
	if err := checkRuntime(cfg.Runtime.Command); err != nil {
		return nil, err
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate teamlead executable: %w", err)
	}
	return runtime.NewClaude(runtime.ClaudeOptions{
		Command:     cfg.Runtime.Command,
		HookCommand: shellquote.Join(self, "hook"),
		ServerURL:   cfg.Server.URL(),
		Logger:      logger,
	})
}

func apiKey(cfg *config.Config) string {
	key, err := config.GetAPIKey(cfg)
	if err != nil {
		return ""
	}
	return key
}

func specsDir() string {
	return filepath.Join(config.DataDir(), "specs")
}
