package job

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit appends every job-state transition to a job_events table. The
// Redis record stays the source of truth; this is a secondary,
// queryable history that survives the job TTL. A nil *Audit is valid
// and records nothing, which is how the service runs when no database
// is configured.
type Audit struct {
	pool *pgxpool.Pool
}

// NewAudit connects a pgx pool and ensures the job_events table
// exists. An empty databaseURL disables auditing: it returns (nil, nil).
func NewAudit(ctx context.Context, databaseURL string) (*Audit, error) {
	if databaseURL == "" {
		return nil, nil
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	a := &Audit{pool: pool}
	if err := a.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

func (a *Audit) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS job_events (
			id BIGSERIAL PRIMARY KEY,
			job_id UUID NOT NULL,
			status TEXT NOT NULL,
			step TEXT NOT NULL DEFAULT '',
			progress INT NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			recorded_at TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := a.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure job_events table: %w", err)
	}
	return nil
}

// Record appends one transition event.
func (a *Audit) Record(ctx context.Context, state State) error {
	if a == nil || a.pool == nil {
		return nil
	}

	query := `
		INSERT INTO job_events (job_id, status, step, progress, error_message, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := a.pool.Exec(ctx, query,
		state.JobID, string(state.Status), state.Step, state.Progress, state.Error, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to record job event: %w", err)
	}
	return nil
}

// Close closes the pool.
func (a *Audit) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}
