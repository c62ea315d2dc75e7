package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a unit of work.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run tracks one unit of work inside a session. Terminal states freeze the
// timestamps; transitions out of them are rejected.
type Run struct {
	ID        string         `json:"id"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Status    RunStatus      `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewRun creates a pending run.
func NewRun() *Run {
	return &Run{
		ID:        "run-" + uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    RunPending,
	}
}

// MarkRunning transitions pending → running and restamps StartedAt.
func (r *Run) MarkRunning() error {
	if r.Status != RunPending {
		return fmt.Errorf("run %s is %s, cannot start", r.ID, r.Status)
	}
	r.Status = RunRunning
	r.StartedAt = time.Now().UTC()
	return nil
}

// MarkCompleted transitions running → completed.
func (r *Run) MarkCompleted() error {
	return r.finish(RunCompleted)
}

// MarkFailed transitions running → failed.
func (r *Run) MarkFailed() error {
	return r.finish(RunFailed)
}

// MarkCancelled transitions pending or running → cancelled.
func (r *Run) MarkCancelled() error {
	if r.Status == RunPending {
		r.Status = RunRunning
	}
	return r.finish(RunCancelled)
}

func (r *Run) finish(status RunStatus) error {
	if r.Finished() {
		return fmt.Errorf("run %s already finished as %s", r.ID, r.Status)
	}
	if r.Status != RunRunning {
		return fmt.Errorf("run %s is %s, cannot finish", r.ID, r.Status)
	}
	now := time.Now().UTC()
	r.Status = status
	r.EndedAt = &now
	return nil
}

// Finished reports whether the run reached a terminal state.
func (r *Run) Finished() bool {
	switch r.Status {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// Duration returns the elapsed time of a finished run, or the time since
// start for one still in flight.
func (r *Run) Duration() time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}
