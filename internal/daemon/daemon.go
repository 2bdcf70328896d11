package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"songconvert/internal/history"
	"songconvert/internal/logging"
	"songconvert/internal/services"
	"songconvert/internal/stage"
	"songconvert/internal/wire"
	"songconvert/internal/workflow"
)

const queuedMessage = "Queued."

var (
	// ErrBind reports that the control endpoint could not be claimed.
	ErrBind = errors.New("bind control endpoint")
	// ErrAlreadyRunning reports that another daemon holds the port lock.
	ErrAlreadyRunning = errors.New("another songconvert daemon is already running")
)

// Pipeline is the scheduler surface the listener drives.
type Pipeline interface {
	Submit(item *workflow.Item) error
	Shutdown()
	ShuttingDown() bool
	Stats() []workflow.StageStats
	Health(ctx context.Context) []stage.Health
}

// Journal records accepted submissions. Terminal outcomes are recorded by the
// pipeline's completion hook.
type Journal interface {
	RecordSubmitted(ctx context.Context, id, location string, submittedAt time.Time) error
	RecordResult(ctx context.Context, result history.Result) error
}

// Options configures a Daemon.
type Options struct {
	Address     string
	LockPath    string
	ReadTimeout time.Duration
	Pipeline    Pipeline
	Journal     Journal
	Logger      *slog.Logger
}

// Status is the payload answered to a STATUS request.
type Status struct {
	PID          int                   `json:"pid"`
	Address      string                `json:"address"`
	StartedAt    time.Time             `json:"started_at"`
	ShuttingDown bool                  `json:"shutting_down"`
	Stages       []workflow.StageStats `json:"stages"`
	Health       []stage.Health        `json:"health"`
}

// Daemon is the control listener.
type Daemon struct {
	address     string
	readTimeout time.Duration
	pipeline    Pipeline
	journal     Journal
	logger      *slog.Logger

	lockPath string
	lock     *flock.Flock

	listener  net.Listener
	startedAt time.Time

	stopOnce sync.Once
	stopping atomic.Bool
}

// New constructs a daemon. Listen must be called before Serve.
func New(opts Options) (*Daemon, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("daemon requires a pipeline")
	}
	if opts.Address == "" {
		return nil, errors.New("daemon requires a control address")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		address:     opts.Address,
		readTimeout: opts.ReadTimeout,
		pipeline:    opts.Pipeline,
		journal:     opts.Journal,
		logger:      logging.NewComponentLogger(logger, "listener"),
		lockPath:    opts.LockPath,
	}
	if opts.LockPath != "" {
		d.lock = flock.New(opts.LockPath)
	}
	return d, nil
}

// Listen acquires the port lock and binds the control endpoint. Any failure
// wraps ErrBind.
func (d *Daemon) Listen() error {
	if d.listener != nil {
		return errors.New("daemon already listening")
	}
	if d.lock != nil {
		if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
			return fmt.Errorf("%w: ensure lock directory: %w", ErrBind, err)
		}
		ok, err := d.lock.TryLock()
		if err != nil {
			return fmt.Errorf("%w: acquire lock %s: %w", ErrBind, d.lockPath, err)
		}
		if !ok {
			return fmt.Errorf("%w: %w (lock %s)", ErrBind, ErrAlreadyRunning, d.lockPath)
		}
	}

	listener, err := net.Listen("tcp", d.address)
	if err != nil {
		d.unlock()
		return fmt.Errorf("%w %s: %w", ErrBind, d.address, err)
	}
	d.listener = listener
	d.startedAt = time.Now().UTC()
	d.logger.Info("control endpoint listening",
		logging.String(logging.FieldEventType, "listener_started"),
		logging.String("address", listener.Addr().String()),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Addr returns the bound control address, or nil before Listen.
func (d *Daemon) Addr() net.Addr {
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// Serve accepts connections one at a time until STOP arrives or ctx is
// cancelled. Either way the listener closes and the pipeline starts draining;
// Serve does not wait for the drain.
func (d *Daemon) Serve(ctx context.Context) error {
	if d.listener == nil {
		return errors.New("daemon is not listening")
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			d.beginStop("shutdown signal")
		case <-done:
		}
	}()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if d.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("accept control connection: %w", err)
		}
		if d.handle(ctx, conn) {
			d.beginStop("stop command")
			return nil
		}
	}
}

// Close releases the endpoint and the port lock.
func (d *Daemon) Close() error {
	var err error
	if d.listener != nil {
		if closeErr := d.listener.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = closeErr
		}
	}
	d.unlock()
	return err
}

// handle services one connection and reports whether STOP was received.
func (d *Daemon) handle(ctx context.Context, conn net.Conn) bool {
	if d.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(d.readTimeout))
	}
	req, err := wire.ReadRequest(conn)
	if err != nil {
		d.logger.Debug("ignoring control connection",
			logging.String(logging.FieldEventType, "protocol_error"),
			logging.String("remote", conn.RemoteAddr().String()),
			logging.Error(err),
		)
		_ = conn.Close()
		return false
	}
	_ = conn.SetReadDeadline(time.Time{})

	reqCtx := services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(reqCtx, d.logger)

	switch req.Kind {
	case wire.KindStop:
		logger.Info("stop requested",
			logging.String(logging.FieldEventType, "stop_requested"),
			logging.String("remote", conn.RemoteAddr().String()),
		)
		if err := wire.NewReply(conn).Finish(true); err != nil {
			logger.Debug("stop acknowledgement not delivered", logging.Error(err))
		}
		return true
	case wire.KindStatus:
		d.writeStatus(reqCtx, logger, conn)
	default:
		d.submit(reqCtx, logger, conn, req.Location)
	}
	return false
}

func (d *Daemon) submit(ctx context.Context, logger *slog.Logger, conn net.Conn, location string) {
	if !filepath.IsAbs(location) {
		if abs, err := filepath.Abs(location); err == nil {
			location = abs
		}
	}
	item := workflow.NewItem(location, wire.NewReply(conn))
	ctx = services.WithItemID(ctx, item.ID)
	logger = logging.WithContext(ctx, d.logger)

	if d.journal != nil {
		if err := d.journal.RecordSubmitted(ctx, item.ID, item.Location, item.SubmittedAt); err != nil {
			logging.WarnWithContext(logger, "journal write failed", "journal_write_failed",
				logging.String(logging.FieldErrorHint, "check state_dir permissions"),
				logging.String(logging.FieldImpact, "job missing from history"),
				logging.Error(err),
			)
		}
	}
	if err := item.Reply.Info(queuedMessage); err != nil {
		logger.Debug("queued notice not delivered", logging.Error(err))
	}
	if err := d.pipeline.Submit(item); err != nil {
		logging.ErrorWithContext(logger, "submission rejected", "submit_rejected",
			logging.String("location", item.Location),
			logging.String(logging.FieldErrorHint, "daemon is draining; resubmit after restart"),
			logging.Error(err),
		)
		_ = item.Reply.Finish(false)
		if d.journal != nil {
			_ = d.journal.RecordResult(ctx, history.Result{
				ID:           item.ID,
				ErrorKind:    services.Classify(err),
				ErrorMessage: err.Error(),
				Duration:     time.Since(item.SubmittedAt),
			})
		}
		return
	}
	logger.Info("submission accepted",
		logging.String(logging.FieldEventType, "submit_accepted"),
		logging.String("location", item.Location),
	)
}

func (d *Daemon) writeStatus(ctx context.Context, logger *slog.Logger, conn net.Conn) {
	reply := wire.NewReply(conn)
	status := Status{
		PID:          os.Getpid(),
		Address:      d.listener.Addr().String(),
		StartedAt:    d.startedAt,
		ShuttingDown: d.pipeline.ShuttingDown(),
		Stages:       d.pipeline.Stats(),
		Health:       d.pipeline.Health(ctx),
	}
	payload, err := json.Marshal(status)
	if err != nil {
		logger.Error("encode status failed", logging.Error(err))
		_ = reply.Finish(false)
		return
	}
	if err := reply.Info(string(payload)); err != nil {
		logger.Debug("status not delivered", logging.Error(err))
	}
	_ = reply.Finish(true)
}

func (d *Daemon) beginStop(reason string) {
	d.stopOnce.Do(func() {
		d.stopping.Store(true)
		if d.listener != nil {
			_ = d.listener.Close()
		}
		d.pipeline.Shutdown()
		d.logger.Info("control endpoint closed",
			logging.String(logging.FieldEventType, "listener_stopped"),
			logging.String("reason", reason),
		)
	})
}

func (d *Daemon) unlock() {
	if d.lock == nil {
		return
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file manually if the next start fails"),
			logging.String(logging.FieldImpact, "next daemon start may report already running"),
			logging.Error(err),
		)
	}
}

// ParseStatus decodes the JSON line answered to STATUS.
func ParseStatus(line string) (Status, error) {
	var status Status
	if err := json.Unmarshal([]byte(line), &status); err != nil {
		return Status{}, fmt.Errorf("decode daemon status: %w", err)
	}
	return status, nil
}
