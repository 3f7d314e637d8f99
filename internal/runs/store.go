package runs

import "time"

// Status is the lifecycle state of a morph run
type Status string

const (
	StatusRunning     Status = "running"
	StatusDone        Status = "done"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// Run is one row of the run ledger
type Run struct {
	Number     int64
	Owner      int64
	Mode       string
	Keyframes  int
	Summary    string
	Status     Status
	Images     int
	VideoPath  string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Outcome is recorded when a run ends
type Outcome struct {
	Status    Status
	Images    int
	VideoPath string
	Error     string
}

// Store defines the interface for run persistence
type Store interface {
	// Allocate records a new running run and returns its number. Numbers
	// increase monotonically and are never reused.
	Allocate(run Run) (int64, error)

	// Finish records how a run ended
	Finish(number int64, outcome Outcome) error

	// Get retrieves a run by number, nil if absent
	Get(number int64) (*Run, error)

	// Recent lists the latest runs of an owner, newest first
	Recent(owner int64, limit int) ([]Run, error)

	// Close releases resources
	Close() error
}
