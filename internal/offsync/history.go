package offsync

import "time"

// Run statuses stored in the history.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunFailed  = "error"
)

// Run is one CLI invocation as recorded in the history.
type Run struct {
	ID         int64
	RunID      string
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Total      int
	Completed  int
	Skipped    int
	Warned     int
	Errored    int
	Bytes      int64
}

// History persists runs and the per-record issues of their reports.
type History interface {
	CreateRun(runID, operation, parameters string, startedAt time.Time) (*Run, error)
	// FinishRun stores the final status and, when rep is non-nil, its counters and issues.
	FinishRun(run *Run, status string, finishedAt time.Time, rep *Report) error
	ListRuns(limit int) ([]*Run, error)
	RunIssues(runID string) ([]Issue, error)
	CheckMigrations() error
	Close() error
}
