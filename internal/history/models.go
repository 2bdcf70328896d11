package history

import "time"

// Status is the lifecycle state of a journaled job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// Job is one journal row.
type Job struct {
	ID           string        `json:"id"`
	Location     string        `json:"location"`
	Status       Status        `json:"status"`
	Stage        string        `json:"stage,omitempty"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	SubmittedAt  time.Time     `json:"submitted_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Duration     time.Duration `json:"duration_ns"`
}

// Result is the terminal outcome recorded for a job.
type Result struct {
	ID           string
	Stage        string
	Succeeded    bool
	ErrorKind    string
	ErrorMessage string
	FinishedAt   time.Time
	Duration     time.Duration
}
