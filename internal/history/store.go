package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"songconvert/internal/config"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store persists the job journal in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the journal at the configured state directory.
func Open(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return OpenPath(cfg.HistoryDBPath())
}

// OpenPath opens or creates a journal at path.
func OpenPath(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the journal file location.
func (s *Store) Path() string {
	return s.path
}

// RecordSubmitted journals a newly accepted job.
func (s *Store) RecordSubmitted(ctx context.Context, id, location string, submittedAt time.Time) error {
	return s.exec(ctx,
		`INSERT INTO jobs (id, location, status, submitted_at) VALUES (?, ?, ?, ?)`,
		id, location, StatusQueued, formatTime(submittedAt),
	)
}

// RecordResult stores the terminal outcome of a job.
func (s *Store) RecordResult(ctx context.Context, result Result) error {
	status := StatusFailed
	if result.Succeeded {
		status = StatusCompleted
	}
	finished := result.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	return s.exec(ctx,
		`UPDATE jobs SET status = ?, stage = ?, error_kind = ?, error_message = ?, finished_at = ?, duration_ms = ?
         WHERE id = ?`,
		status,
		nullableString(result.Stage),
		nullableString(result.ErrorKind),
		nullableString(result.ErrorMessage),
		formatTime(finished),
		result.Duration.Milliseconds(),
		result.ID,
	)
}

// AbandonQueued marks jobs a previous daemon never finished. The queue is
// not persistent, so such jobs will never complete.
func (s *Store) AbandonQueued(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, finished_at = ? WHERE status = ?`,
			StatusAbandoned, formatTime(time.Now()), StatusQueued,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("abandon queued jobs: %w", err)
	}
	return affected, nil
}

// Recent returns up to limit jobs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, location, status, stage, error_kind, error_message, submitted_at, finished_at, duration_ms
         FROM jobs ORDER BY submitted_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Get returns one job by ID.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT id, location, status, stage, error_kind, error_message, submitted_at, finished_at, duration_ms
         FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

// Stats counts jobs per status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query job stats: %w", err)
	}
	defer rows.Close()
	stats := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (Job, error) {
	var (
		job          Job
		status       string
		stage        sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		submittedRaw string
		finishedRaw  sql.NullString
		durationMS   sql.NullInt64
	)
	if err := scanner.Scan(&job.ID, &job.Location, &status, &stage, &errorKind, &errorMessage,
		&submittedRaw, &finishedRaw, &durationMS); err != nil {
		return Job{}, err
	}
	job.Status = Status(status)
	job.Stage = stage.String
	job.ErrorKind = errorKind.String
	job.ErrorMessage = errorMessage.String
	job.SubmittedAt = parseTime(submittedRaw)
	job.FinishedAt = parseTime(finishedRaw.String)
	job.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	return job, nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) {
			return lastErr
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

func isSQLiteBusy(err error) bool {
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
