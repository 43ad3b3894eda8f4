package runs

import "time"

// RecordID identifies one ledger entry.
type RecordID string

// Status of a finished run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Record is one run-analysis invocation. It is a history entry; results are
// never served back from it.
type Record struct {
	ID         RecordID  `json:"id"`
	RunToken   string    `json:"run_token"`
	Analysis   string    `json:"analysis"`
	UserID     string    `json:"user_id,omitempty"`
	InputPath  string    `json:"input_path,omitempty"`
	OutputDir  string    `json:"output_dir"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}
