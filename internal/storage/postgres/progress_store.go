package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/activity-harvester/internal/store"
)

var _ store.ProgressRepository = (*ProgressStore)(nil)

// ProgressStore implements the store.ProgressRepository interface using Postgres.
type ProgressStore struct {
	pool pool
}

// NewProgressStore wraps an open pool.
func NewProgressStore(p pool) (*ProgressStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: p}, nil
}

// EnsureSchema creates the run history tables when missing.
func (s *ProgressStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, progressSchema); err != nil {
		return fmt.Errorf("create progress schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *ProgressStore) Close() {
	s.pool.Close()
}

// UpsertRunStart inserts a run or flips it back to running.
func (s *ProgressStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO harvest_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE harvest_runs.status <> EXCLUDED.status;
	`
	_, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *ProgressStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE harvest_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	res, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpsertCredentialStats adds delta to one credential's row.
func (s *ProgressStore) UpsertCredentialStats(
	ctx context.Context,
	runID uuid.UUID,
	credential string,
	delta store.Delta,
	at time.Time,
) error {
	query := `
		INSERT INTO credential_stats (
			run_id, credential, last_update,
			processed, active, blacklisted, inactive, skipped, failed, deferred
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, credential) DO UPDATE SET
			last_update = GREATEST(credential_stats.last_update, EXCLUDED.last_update),
			processed   = credential_stats.processed + EXCLUDED.processed,
			active      = credential_stats.active + EXCLUDED.active,
			blacklisted = credential_stats.blacklisted + EXCLUDED.blacklisted,
			inactive    = credential_stats.inactive + EXCLUDED.inactive,
			skipped     = credential_stats.skipped + EXCLUDED.skipped,
			failed      = credential_stats.failed + EXCLUDED.failed,
			deferred    = credential_stats.deferred + EXCLUDED.deferred;
	`
	_, err := s.pool.Exec(ctx, query,
		runID,
		credential,
		at,
		delta.Processed,
		delta.Active,
		delta.Blacklisted,
		delta.Inactive,
		delta.Skipped,
		delta.Failed,
		delta.Deferred,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential stats: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *ProgressStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM harvest_runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *ProgressStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM harvest_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		var run store.Run
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunCredentials retrieves per-credential aggregates for one run.
func (s *ProgressStore) ListRunCredentials(
	ctx context.Context,
	runID uuid.UUID,
	limit,
	offset int,
) ([]store.CredentialStats, error) {
	query := `
		SELECT run_id, credential, last_update,
			processed, active, blacklisted, inactive, skipped, failed, deferred
		FROM credential_stats
		WHERE run_id = $1
		ORDER BY credential
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list run credentials: %w", err)
	}
	defer rows.Close()

	stats := []store.CredentialStats{}
	for rows.Next() {
		var stat store.CredentialStats
		if err := rows.Scan(
			&stat.RunID,
			&stat.Credential,
			&stat.LastUpdate,
			&stat.Processed,
			&stat.Active,
			&stat.Blacklisted,
			&stat.Inactive,
			&stat.Skipped,
			&stat.Failed,
			&stat.Deferred,
		); err != nil {
			return nil, fmt.Errorf("failed to scan credential stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate credential stats: %w", err)
	}
	return stats, nil
}
