package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// RunStatus mirrors the harvest_runs status column.
type RunStatus string

// Run statuses persisted in harvest_runs.status.
const (
	RunRunning     RunStatus = "running"
	RunSuccess     RunStatus = "success"
	RunError       RunStatus = "error"
	RunInterrupted RunStatus = "interrupted"
)

// Run models one harvest_runs row for API responses.
type Run struct {
	ID        uuid.UUID `json:"id"`
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// CredentialStats aggregates one credential's results within a run.
type CredentialStats struct {
	RunID       uuid.UUID `json:"run_id"`
	Credential  string    `json:"credential"`
	LastUpdate  time.Time `json:"last_update"`
	Processed   int64     `json:"processed"`
	Active      int64     `json:"active"`
	Blacklisted int64     `json:"blacklisted"`
	Inactive    int64     `json:"inactive"`
	Skipped     int64     `json:"skipped"`
	Failed      int64     `json:"failed"`
	Deferred    int64     `json:"deferred"`
}

// Delta is an increment applied to CredentialStats.
type Delta struct {
	Processed   int64
	Active      int64
	Blacklisted int64
	Inactive    int64
	Skipped     int64
	Failed      int64
	Deferred    int64
}

// Empty reports whether applying d would change nothing.
func (d Delta) Empty() bool {
	return d == Delta{}
}

// ProgressRepository persists run lifecycle and per-credential aggregates.
type ProgressRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the started_at timestamp.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// UpsertCredentialStats applies a delta to (run, credential).
	UpsertCredentialStats(ctx context.Context, runID uuid.UUID, credential string, delta Delta, at time.Time) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunCredentials returns per-credential aggregates for one run.
	ListRunCredentials(ctx context.Context, runID uuid.UUID, limit, offset int) ([]CredentialStats, error)
}
