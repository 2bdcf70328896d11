package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"songconvert/internal/config"
	"songconvert/internal/daemon"
	"songconvert/internal/history"
	"songconvert/internal/logging"
	"songconvert/internal/notifications"
	"songconvert/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the songconvert daemon and blocks until it has stopped and
// drained.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, stopSignals := signal.NotifyContext(cmdCtx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("songconvert-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		JSONPath:    logPath,
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	journal, err := history.Open(cfg)
	if err != nil {
		logger.Error("open job journal", logging.Error(err))
		return err
	}
	defer journal.Close()

	notifier := notifications.NewService(cfg)
	pipeline, err := NewPipeline(cfg, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	pipeline.OnComplete(completionHook(journal, notifier, logger))

	d, err := daemon.New(daemon.Options{
		Address:     cfg.ControlAddress(),
		LockPath:    cfg.LockPath(),
		ReadTimeout: cfg.ReadTimeout(),
		Pipeline:    pipeline,
		Journal:     journal,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	// Nothing shared with a running daemon (log pointer, retention, journal
	// rows) may change until this process owns the port.
	if err := d.Listen(); err != nil {
		logging.ErrorWithContext(logger, "control endpoint unavailable", "bind_failed",
			logging.String("address", cfg.ControlAddress()),
			logging.String(logging.FieldErrorHint, "another daemon may own this port; run `songconvert status`"),
			logging.Error(err),
		)
		return err
	}
	defer d.Close()

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update songconvert.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "songconvert-*.log", Exclude: []string{logPath}},
	)
	logDependencySnapshot(signalCtx, logger, cfg)

	if abandoned, err := journal.AbandonQueued(signalCtx); err != nil {
		logger.Warn("failed to reconcile job journal",
			logging.String(logging.FieldEventType, "journal_reconcile_failed"),
			logging.String(logging.FieldErrorHint, "delete history.db if it is corrupt"),
			logging.String(logging.FieldImpact, "history may list stale queued jobs"),
			logging.Error(err),
		)
	} else if abandoned > 0 {
		logger.Info("marked unfinished jobs from previous run as abandoned",
			logging.String(logging.FieldEventType, "journal_reconciled"),
			logging.Int64("abandoned", abandoned),
		)
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	// Stage work must finish during the drain, so it ignores the signal.
	if err := pipeline.Start(context.WithoutCancel(signalCtx)); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	logger.Info("songconvert daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.Int("pid", os.Getpid()),
		logging.String("address", d.Addr().String()),
		logging.String("log_path", logPath),
		logging.Bool("notifications", notifications.Enabled(notifier)),
	)

	serveErr := d.Serve(signalCtx)
	// A second interrupt during the drain terminates the process.
	stopSignals()
	pipeline.Shutdown()

	logger.Info("songconvert daemon draining", logging.String(logging.FieldEventType, "daemon_draining"))
	waitErr := pipeline.Wait()

	completed, failed := jobTotals(pipeline.Stats())
	if notifications.Enabled(notifier) {
		if err := notifier.NotifyDaemonStopped(context.WithoutCancel(cmdCtx), completed, failed); err != nil {
			logger.Debug("stop notification failed", logging.Error(err))
		}
	}
	logger.Info("songconvert daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
		logging.Int("completed", completed),
		logging.Int("failed", failed),
	)
	return errors.Join(serveErr, waitErr)
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "songconvert.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPIDFile returns the pid recorded by a running daemon, or 0.
func ReadPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(string(trimNewline(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

func trimNewline(data []byte) []byte {
	for len(data) > 0 && (data[len(data)-1] == '\n' || data[len(data)-1] == '\r') {
		data = data[:len(data)-1]
	}
	return data
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	results := preflight.RunAll(ctx, cfg)
	for _, f := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", f.Name),
			logging.String("detail", f.Detail),
			logging.String(logging.FieldErrorHint, "install the binary or fix its path in config.toml"),
			logging.String(logging.FieldImpact, "jobs needing it will fail"),
		)
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("summary", preflight.Summary(results)),
	)
}
