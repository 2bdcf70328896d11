package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"syscall"
	"time"

	"songconvert/internal/config"
	"songconvert/internal/daemon"
	"songconvert/internal/logging"
	"songconvert/internal/wire"
)

const defaultDialTimeout = 2 * time.Second

var (
	// ErrDaemonUnreachable reports that launch attempts were exhausted.
	ErrDaemonUnreachable = errors.New("daemon unreachable")
	// ErrDaemonNotRunning reports a probe failure for commands that never launch.
	ErrDaemonNotRunning = errors.New("daemon not running")
)

// State is the supervisor's view of daemon liveness.
type State string

const (
	StateProbing State = "probing"
	StateReady   State = "ready"
)

// Launcher starts a daemon process that outlives the caller.
type Launcher interface {
	Launch(ctx context.Context) error
}

// LauncherFunc adapts a function into a Launcher.
type LauncherFunc func(ctx context.Context) error

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context) error { return f(ctx) }

// Options configures a Supervisor.
type Options struct {
	Address       string
	Launcher      Launcher
	DialTimeout   time.Duration
	PollInitial   time.Duration
	PollMax       time.Duration
	LaunchTimeout time.Duration
	MaxLaunches   int
	Logger        *slog.Logger
}

// Supervisor connects to the daemon, starting it when necessary.
type Supervisor struct {
	opts   Options
	dialer net.Dialer
	logger *slog.Logger
}

// New constructs a Supervisor, filling unset timings with defaults.
func New(opts Options) *Supervisor {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.PollInitial <= 0 {
		opts.PollInitial = 100 * time.Millisecond
	}
	if opts.PollMax < opts.PollInitial {
		opts.PollMax = opts.PollInitial
	}
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = 15 * time.Second
	}
	if opts.MaxLaunches <= 0 {
		opts.MaxLaunches = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Supervisor{
		opts:   opts,
		dialer: net.Dialer{Timeout: opts.DialTimeout},
		logger: logging.NewComponentLogger(logger, "supervisor"),
	}
}

// NewFromConfig builds a Supervisor for the configured control endpoint.
func NewFromConfig(cfg *config.Config, launcher Launcher, logger *slog.Logger) *Supervisor {
	return New(Options{
		Address:       cfg.ControlAddress(),
		Launcher:      launcher,
		PollInitial:   cfg.PollInitial(),
		PollMax:       cfg.PollMax(),
		LaunchTimeout: cfg.LaunchTimeout(),
		MaxLaunches:   cfg.Client.MaxLaunches,
		Logger:        logger,
	})
}

// Address returns the control endpoint.
func (s *Supervisor) Address() string {
	return s.opts.Address
}

// Probe dials the control endpoint once.
func (s *Supervisor) Probe(ctx context.Context) (net.Conn, error) {
	return s.dialer.DialContext(ctx, "tcp", s.opts.Address)
}

// Running reports whether a daemon currently accepts connections.
func (s *Supervisor) Running(ctx context.Context) bool {
	conn, err := s.Probe(ctx)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Connect returns a connection to a ready daemon. When the probe finds nothing
// listening the daemon is launched, then probed with exponential backoff until
// LaunchTimeout; after MaxLaunches cycles ErrDaemonUnreachable is returned.
// launched reports whether this call started the daemon.
func (s *Supervisor) Connect(ctx context.Context) (conn net.Conn, launched bool, err error) {
	state := StateProbing
	conn, err = s.Probe(ctx)
	if err == nil {
		state = StateReady
		s.logger.Debug("daemon ready", logging.String("state", string(state)), logging.String("address", s.opts.Address))
		return conn, false, nil
	}
	if !isDaemonUnavailable(err) {
		return nil, false, fmt.Errorf("dial daemon at %s: %w", s.opts.Address, err)
	}
	if s.opts.Launcher == nil {
		return nil, false, fmt.Errorf("%w at %s: %w", ErrDaemonNotRunning, s.opts.Address, err)
	}

	lastErr := err
	for attempt := 1; attempt <= s.opts.MaxLaunches; attempt++ {
		s.logger.Info("launching daemon",
			logging.String(logging.FieldEventType, "daemon_launch"),
			logging.String("state", string(state)),
			logging.String("address", s.opts.Address),
			logging.Int("attempt", attempt),
			logging.String("reason", lastErr.Error()),
		)
		if launchErr := s.opts.Launcher.Launch(ctx); launchErr != nil {
			return nil, true, fmt.Errorf("launch daemon: %w", launchErr)
		}
		conn, err = s.awaitReady(ctx)
		if err == nil {
			return conn, true, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, true, ctxErr
		}
		lastErr = err
	}
	return nil, true, fmt.Errorf("%w at %s after %d launch attempts: %w",
		ErrDaemonUnreachable, s.opts.Address, s.opts.MaxLaunches, lastErr)
}

// awaitReady probes with doubling delays until the endpoint answers or
// LaunchTimeout elapses.
func (s *Supervisor) awaitReady(ctx context.Context) (net.Conn, error) {
	deadline := time.Now().Add(s.opts.LaunchTimeout)
	delay := s.opts.PollInitial
	var lastErr error
	for {
		wait := min(delay, time.Until(deadline))
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		conn, err := s.Probe(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("daemon not ready after %s: %w", s.opts.LaunchTimeout, lastErr)
		}
		delay = min(delay*2, s.opts.PollMax)
	}
}

// Submit sends a request, launching the daemon if it is not running.
func (s *Supervisor) Submit(ctx context.Context, payload string, onInfo func(string)) error {
	conn, _, err := s.Connect(ctx)
	if err != nil {
		return err
	}
	return Exchange(ctx, conn, payload, onInfo)
}

// Request sends a request to an already running daemon. It never launches
// and returns ErrDaemonNotRunning when the probe fails.
func (s *Supervisor) Request(ctx context.Context, payload string, onInfo func(string)) error {
	conn, err := s.Probe(ctx)
	if err != nil {
		if isDaemonUnavailable(err) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("%w: %w", ErrDaemonNotRunning, err)
	}
	return Exchange(ctx, conn, payload, onInfo)
}

// Stop asks a running daemon to stop accepting work and drain.
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.Request(ctx, wire.CommandStop, nil)
}

// Status fetches the daemon's runtime status.
func (s *Supervisor) Status(ctx context.Context) (daemon.Status, error) {
	var line string
	err := s.Request(ctx, wire.CommandStatus, func(msg string) {
		if line == "" {
			line = msg
		}
	})
	if err != nil {
		return daemon.Status{}, err
	}
	return daemon.ParseStatus(line)
}

// WaitForShutdown polls until the endpoint stops accepting connections.
func (s *Supervisor) WaitForShutdown(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	delay := s.opts.PollInitial
	for {
		if !s.Running(ctx) {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("daemon still accepting connections after %s", timeout)
		}
		timer := time.NewTimer(min(delay, time.Until(deadline)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, s.opts.PollMax)
	}
}

// Exchange writes payload on conn and reads messages until a terminal token.
// conn is closed before returning.
func Exchange(ctx context.Context, conn net.Conn, payload string, onInfo func(string)) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := wire.Send(conn, payload); err != nil {
		return err
	}
	if err := wire.ReadResponses(conn, onInfo); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
