package daemonrun

import (
	"context"
	"log/slog"
	"time"

	"songconvert/internal/config"
	"songconvert/internal/history"
	"songconvert/internal/logging"
	"songconvert/internal/notifications"
	"songconvert/internal/separation"
	"songconvert/internal/services"
	"songconvert/internal/transcode"
	"songconvert/internal/workflow"
)

// Stage names and the messages written when each stage succeeds.
const (
	StageSplit      = "split"
	StageReencode   = "reencode"
	SplitMessage    = "Split completed."
	ReencodeMessage = "Reencode completed."
)

// NewPipeline builds the split → reencode scheduler.
func NewPipeline(cfg *config.Config, logger *slog.Logger) (*workflow.Scheduler, error) {
	return workflow.NewScheduler(logger,
		workflow.StageSpec{
			Name:    StageSplit,
			Handler: separation.NewSplitter(cfg, logger),
			Workers: cfg.Daemon.SplitWorkers,
			Message: SplitMessage,
		},
		workflow.StageSpec{
			Name:    StageReencode,
			Handler: transcode.NewReencoder(cfg, logger),
			Workers: cfg.Daemon.ReencodeWorkers,
			Message: ReencodeMessage,
		},
	)
}

type resultRecorder interface {
	RecordResult(ctx context.Context, result history.Result) error
}

// completionHook journals every terminal outcome and sends a notification.
func completionHook(journal resultRecorder, notifier notifications.Service, logger *slog.Logger) workflow.CompletionFunc {
	return func(ctx context.Context, outcome workflow.Outcome) {
		logger := logging.WithContext(ctx, logger)
		result := history.Result{
			ID:         outcome.Item.ID,
			Stage:      outcome.Stage,
			Succeeded:  outcome.Succeeded(),
			FinishedAt: time.Now(),
			Duration:   outcome.Duration,
		}
		if outcome.Err != nil {
			result.ErrorKind = services.Classify(outcome.Err)
			result.ErrorMessage = outcome.Err.Error()
		}
		if journal != nil {
			if err := journal.RecordResult(ctx, result); err != nil {
				logging.WarnWithContext(logger, "journal write failed", "journal_write_failed",
					logging.String(logging.FieldErrorHint, "check state_dir permissions"),
					logging.String(logging.FieldImpact, "job outcome missing from history"),
					logging.Error(err),
				)
			}
		}
		if notifier == nil {
			return
		}
		var err error
		if outcome.Succeeded() {
			err = notifier.NotifyJobCompleted(ctx, outcome.Item.Location, outcome.Duration)
		} else {
			err = notifier.NotifyJobFailed(ctx, outcome.Item.Location, outcome.Stage, outcome.Err)
		}
		if err != nil {
			logging.WarnWithContext(logger, "notification failed", "notification_failed",
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				logging.String(logging.FieldImpact, "job outcome not pushed"),
				logging.Error(err),
			)
		}
	}
}

// jobTotals derives completed and failed job counts from stage counters: a
// job completes when the last stage processes it and fails at whichever
// stage failed it.
func jobTotals(stats []workflow.StageStats) (completed, failed int) {
	for i, s := range stats {
		failed += int(s.Failed)
		if i == len(stats)-1 {
			completed = int(s.Processed)
		}
	}
	return completed, failed
}
