package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"songconvert/internal/logging"
	"songconvert/internal/services"
	"songconvert/internal/stage"
)

// Outcome describes how an item left the pipeline.
type Outcome struct {
	Item *Item
	// Stage is the stage that produced the terminal response.
	Stage    string
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the item finished with OK.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// CompletionFunc observes terminal outcomes. It runs on the worker goroutine
// after the terminal response has been written.
type CompletionFunc func(ctx context.Context, outcome Outcome)

// Pool is one stage: an input queue, an optional output queue, and a fixed
// set of workers running the stage handler.
type Pool struct {
	name       string
	handler    stage.Handler
	workers    int
	message    string
	in         *Queue
	out        *Queue
	logger     *slog.Logger
	onComplete CompletionFunc
	locks      *locationLocks

	inFlight  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// Run starts the workers and blocks until all of them have exited, then
// closes the output queue once.
func (p *Pool) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < p.workers; i++ {
		worker := i + 1
		g.Go(func() error {
			p.work(ctx, worker)
			return nil
		})
	}
	err := g.Wait()
	if p.out != nil {
		p.out.Close()
	}
	p.logger.Debug("stage drained",
		logging.String(logging.FieldEventType, "stage_drained"),
		logging.Int64("processed", p.processed.Load()),
		logging.Int64("failed", p.failed.Load()),
	)
	return err
}

func (p *Pool) work(ctx context.Context, worker int) {
	for {
		item, ok := p.in.Pop()
		if !ok {
			return
		}
		p.process(ctx, worker, item)
	}
}

func (p *Pool) process(ctx context.Context, worker int, item *Item) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	stageCtx := services.WithItemID(ctx, item.ID)
	stageCtx = services.WithStage(stageCtx, p.name)
	logger := logging.WithContext(stageCtx, p.logger)

	start := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("location", item.Location),
		logging.Int("worker", worker),
	)

	if err := p.executeLocked(stageCtx, logger, item); err != nil {
		p.failed.Add(1)
		logger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failed"),
			logging.String(logging.FieldErrorKind, services.Classify(err)),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.String("location", item.Location),
			logging.Duration("stage_duration", time.Since(start)),
			logging.Alert("stage_failure"),
			logging.Error(err),
		)
		p.finish(stageCtx, logger, item, err)
		return
	}

	p.processed.Add(1)
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(start)),
	)
	p.info(logger, item, p.message)

	if p.out == nil {
		p.finish(stageCtx, logger, item, nil)
		return
	}
	if err := p.out.Push(item); err != nil {
		p.failed.Add(1)
		p.finish(stageCtx, logger, item, fmt.Errorf("hand off to next stage: %w", err))
	}
}

// executeLocked runs the handler while holding the item's location, so two
// items for the same folder never touch it at once.
func (p *Pool) executeLocked(ctx context.Context, logger *slog.Logger, item *Item) error {
	if p.locks == nil {
		return p.execute(ctx, item)
	}
	waitStart := time.Now()
	unlock := p.locks.lock(item.Location)
	defer unlock()
	if waited := time.Since(waitStart); waited > time.Second {
		logger.Info("waited for another job on the same folder",
			logging.String(logging.FieldEventType, "location_wait"),
			logging.Duration("waited", waited),
		)
	}
	return p.execute(ctx, item)
}

// execute runs the handler, converting a panic into an error for this item.
func (p *Pool) execute(ctx context.Context, item *Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("stage handler panic",
				logging.String(logging.FieldEventType, "stage_panic"),
				logging.String(logging.FieldItemID, item.ID),
				logging.String("stack", string(debug.Stack())),
			)
			err = services.Wrap(services.ErrTransient, p.name, "execute", fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	if p.handler == nil {
		return services.Wrap(services.ErrConfiguration, p.name, "execute", "no handler registered", nil)
	}
	return p.handler.Execute(ctx, item.Location)
}

func (p *Pool) info(logger *slog.Logger, item *Item, msg string) {
	if item.Reply == nil || msg == "" {
		return
	}
	if err := item.Reply.Info(msg); err != nil {
		logger.Debug("reply write failed", logging.Error(err))
	}
}

// finish writes the terminal token and reports the outcome.
func (p *Pool) finish(ctx context.Context, logger *slog.Logger, item *Item, err error) {
	if item.Reply != nil {
		if writeErr := item.Reply.Finish(err == nil); writeErr != nil {
			logger.Debug("terminal reply not delivered", logging.Error(writeErr))
		}
	}
	if p.onComplete != nil {
		p.onComplete(ctx, Outcome{
			Item:     item,
			Stage:    p.name,
			Err:      err,
			Duration: time.Since(item.SubmittedAt),
		})
	}
}

// StageStats is a point-in-time snapshot of one stage.
type StageStats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	InFlight  int64  `json:"in_flight"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
}

func (p *Pool) stats() StageStats {
	return StageStats{
		Name:      p.name,
		Workers:   p.workers,
		Queued:    p.in.Len(),
		InFlight:  p.inFlight.Load(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}
