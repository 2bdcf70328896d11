package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"songconvert/internal/logging"
	"songconvert/internal/stage"
)

var (
	// ErrShuttingDown is returned by Submit once shutdown has begun.
	ErrShuttingDown = errors.New("scheduler shutting down")
	// ErrNotStarted is returned by Wait before Start.
	ErrNotStarted = errors.New("scheduler not started")
)

// StageSpec declares one pipeline stage.
type StageSpec struct {
	Name    string
	Handler stage.Handler
	Workers int
	// Message is written to the submitter when the stage succeeds.
	Message string
}

// Scheduler wires stages into a chain of queues and worker pools. Stage i
// consumes queue i and produces into queue i+1; the last stage is terminal.
type Scheduler struct {
	logger *slog.Logger
	pools  []*Pool
	entry  *Queue

	mu         sync.Mutex
	started    bool
	onComplete CompletionFunc
	group      *errgroup.Group
}

// NewScheduler validates the stage specs and builds the queue chain.
func NewScheduler(logger *slog.Logger, specs ...StageSpec) (*Scheduler, error) {
	if len(specs) == 0 {
		return nil, errors.New("scheduler requires at least one stage")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Scheduler{logger: logging.NewComponentLogger(logger, "scheduler")}
	locks := newLocationLocks()
	queues := make([]*Queue, len(specs))
	for i := range queues {
		queues[i] = NewQueue()
	}
	seen := make(map[string]struct{}, len(specs))
	for i, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("stage %d: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("stage %q declared twice", name)
		}
		seen[name] = struct{}{}
		if spec.Handler == nil {
			return nil, fmt.Errorf("stage %q: handler is required", name)
		}
		if spec.Workers <= 0 {
			return nil, fmt.Errorf("stage %q: workers must be positive", name)
		}
		pool := &Pool{
			name:    name,
			handler: spec.Handler,
			workers: spec.Workers,
			message: spec.Message,
			in:      queues[i],
			logger:  logging.NewComponentLogger(logger, "stage-"+name),
			locks:   locks,
		}
		if i+1 < len(queues) {
			pool.out = queues[i+1]
		}
		s.pools = append(s.pools, pool)
	}
	s.entry = queues[0]
	return s, nil
}

// OnComplete registers an observer for terminal outcomes. It must be called
// before Start.
func (s *Scheduler) OnComplete(fn CompletionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// Start launches every stage's workers. ctx is handed to stage handlers; it
// is not a shutdown signal, use Shutdown to drain.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true

	group := &errgroup.Group{}
	for _, pool := range s.pools {
		pool.onComplete = s.onComplete
		group.Go(func() error {
			return pool.Run(ctx)
		})
	}
	s.group = group

	attrs := make([]logging.Attr, 0, len(s.pools)+1)
	attrs = append(attrs, logging.String(logging.FieldEventType, "scheduler_started"))
	for _, pool := range s.pools {
		attrs = append(attrs, logging.Int(pool.name+"_workers", pool.workers))
	}
	s.logger.Info("pipeline started", logging.Args(attrs...)...)
	return nil
}

// Submit enqueues item on the first stage.
func (s *Scheduler) Submit(item *Item) error {
	if item == nil {
		return errors.New("nil work item")
	}
	if err := s.entry.Push(item); err != nil {
		if errors.Is(err, ErrQueueClosed) {
			return ErrShuttingDown
		}
		return err
	}
	return nil
}

// Shutdown stops intake. Already accepted items still run to completion.
func (s *Scheduler) Shutdown() {
	if s.entry.Closed() {
		return
	}
	s.entry.Close()
	s.logger.Info("pipeline draining", logging.String(logging.FieldEventType, "scheduler_draining"))
}

// ShuttingDown reports whether Shutdown has been called.
func (s *Scheduler) ShuttingDown() bool {
	return s.entry.Closed()
}

// Wait blocks until every stage has drained after Shutdown.
func (s *Scheduler) Wait() error {
	s.mu.Lock()
	group := s.group
	s.mu.Unlock()
	if group == nil {
		return ErrNotStarted
	}
	err := group.Wait()
	s.logger.Info("pipeline stopped", logging.String(logging.FieldEventType, "scheduler_stopped"))
	return err
}

// Stats returns per-stage counters in pipeline order.
func (s *Scheduler) Stats() []StageStats {
	stats := make([]StageStats, 0, len(s.pools))
	for _, pool := range s.pools {
		stats = append(stats, pool.stats())
	}
	return stats
}

// Health runs every stage's health check.
func (s *Scheduler) Health(ctx context.Context) []stage.Health {
	health := make([]stage.Health, 0, len(s.pools))
	for _, pool := range s.pools {
		h := pool.handler.HealthCheck(ctx)
		if h.Name == "" {
			h.Name = pool.name
		}
		health = append(health, h)
	}
	return health
}
