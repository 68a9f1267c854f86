package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tools.zach/dev/cutpresence/internal/config"
	"tools.zach/dev/cutpresence/internal/control"
	"tools.zach/dev/cutpresence/internal/discord"
	"tools.zach/dev/cutpresence/internal/engine"
	"tools.zach/dev/cutpresence/internal/fcp"
	"tools.zach/dev/cutpresence/internal/logger"
	"tools.zach/dev/cutpresence/internal/metrics"
	"tools.zach/dev/cutpresence/internal/paths"
	"tools.zach/dev/cutpresence/internal/procwatch"
)

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token proving ownership of
// the PID file, so [removePID] only deletes a file this instance wrote.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID creates or opens the PID file, takes the advisory lock and writes
// "PID:TOKEN". The returned file must stay open for the daemon's lifetime to
// hold the lock; pass it to [removePID] on shutdown.
func writePID(dp paths.DataDir, token string) (*os.File, error) {
	f, err := os.OpenFile(dp.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	content := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if _, err := f.WriteString(content); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return f, nil
}

// removePID releases the lock, closes the handle and removes the PID file
// only if it still carries token.
func removePID(dp paths.DataDir, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(dp.PID())
	if err != nil {
		return
	}
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) == 2 && parts[1] == token {
		os.Remove(dp.PID())
	}
}

// checkStalePID reports whether another daemon holds the PID file lock. A
// file whose lock can be taken belongs to a dead instance and is removed.
func checkStalePID(dp paths.DataDir) (alive bool, pid int) {
	f, err := os.OpenFile(dp.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(dp.PID())
		f.Close()
		parts := strings.SplitN(string(data), ":", 2)
		if p, convErr := strconv.Atoi(parts[0]); convErr == nil {
			return true, p
		}
		return true, 0
	}

	// Lock acquired: the previous instance is dead.
	_ = unlockFile(f)
	f.Close()
	os.Remove(dp.PID())
	return false, 0
}

// ///////////////////////////////////////////////
// Daemon
// ///////////////////////////////////////////////

// daemonOptions parameterizes runDaemon.
type daemonOptions struct {
	DataDir string
	// Stderr copies log lines to standard error in addition to the log file.
	Stderr bool
	// Monitor replaces the process-table monitor.
	Monitor procwatch.Monitor
	// Registry receives the daemon's metrics. Nil creates one.
	Registry *prometheus.Registry
}

func newRunCmd(opts *cliOptions) *cobra.Command {
	var stderr bool
	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"daemon"},
		Short:   "Run the presence daemon in the foreground",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), daemonOptions{DataDir: opts.dataDir, Stderr: stderr})
		},
	}
	cmd.Flags().BoolVar(&stderr, "stderr", false, "Also write logs to stderr")
	return cmd
}

// runDaemon runs the engine, the control server and the context watcher
// until ctx is cancelled or a shutdown signal arrives.
func runDaemon(ctx context.Context, opts daemonOptions) error {
	dp := paths.DataDir{Root: opts.DataDir}
	if err := os.MkdirAll(dp.Root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if alive, pid := checkStalePID(dp); alive {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	if _, err := config.WriteDefault(dp.Root); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", err)
	}
	cfg, err := config.Load(dp.Root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, logCloser, err := logger.NewLogger(logger.Options{
		Path:      dp.Log(),
		Level:     logger.ParseLevel(cfg.Log.Level),
		MaxSizeMB: cfg.Log.MaxSizeMB,
		Stderr:    cfg.Log.Stderr || opts.Stderr,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()
	prevLog := slog.Default()
	slog.SetDefault(log)
	defer slog.SetDefault(prevLog)
	log.Info("cutpresence starting", "version", resolveVersion(), "data_dir", dp.Root)

	token := pidToken()
	pidFile, err := writePID(dp, token)
	if err != nil {
		logger.Fail(log, "failed to write PID file", "error", err)
		return err
	}
	defer removePID(dp, token, pidFile)

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	rec := metrics.New(reg)

	monitor := opts.Monitor
	if monitor == nil {
		monitor = procwatch.New(procwatch.App{
			ProcessName: cfg.App.ProcessName,
			BundleID:    cfg.App.BundleID,
		}, log)
	}
	client := discord.NewClient(cfg.Discord.AppID,
		discord.WithSocketPath(cfg.Discord.SocketPath),
		discord.WithLogger(log),
	)
	eng := engine.New(engine.SettingsFromConfig(cfg), client, buildProvider(cfg, dp, monitor, log), monitor,
		engine.WithLogger(log),
		engine.WithMetrics(rec),
	)

	watched := append([]string{cfg.ContextFile(dp.Root)}, cfg.PrefsCandidates()...)
	watcher := fcp.NewWatcher(watched, 0, log)
	defer watcher.Close()
	if watcher.Polling() {
		log.Info("using polling mode for context files")
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	sigs := notifySignals()
	defer sigs.stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	if cfg.Control.Listen != "" {
		srv := control.NewServer(eng, control.ServerOptions{
			Addr:               cfg.Control.Listen,
			RateLimitPerMinute: cfg.Control.RateLimitPerMinute,
			Gatherer:           reg,
			Logger:             log,
		})
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-watcher.Events():
				eng.Refresh()
			case sig := <-sigs.refresh:
				log.Info("refresh requested", "signal", sig.String())
				eng.Refresh()
			case sig := <-sigs.shutdown:
				log.Info("received shutdown signal", "signal", sig.String())
				stop()
				return nil
			}
		}
	})

	err = g.Wait()
	if err != nil {
		logger.Fail(log, "daemon stopped with error", "error", err)
	} else {
		log.Info("cutpresence stopped")
	}
	return err
}

// buildProvider chains the live context document ahead of the persisted
// preferences.
func buildProvider(cfg *config.Config, dp paths.DataDir, monitor procwatch.Monitor, log *slog.Logger) fcp.Provider {
	live := fcp.NewLiveProvider(fcp.NewDocumentSource(cfg.ContextFile(dp.Root), 0), monitor.Running)
	prefs := &fcp.PrefsProvider{
		Paths:    cfg.PrefsCandidates(),
		Scan:     cfg.Context.ScanLibrary,
		SkipDirs: cfg.Context.SkipDirs,
		Logger:   log,
	}
	return fcp.Chain{live, prefs}
}
