package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// Run queries.
const (
	sqlRunColumns = `id, status, is_full, started_at, completed_at,
		added, modified, removed, unchanged, skipped, bytes_downloaded,
		error_message`

	sqlGetRun = `SELECT ` + sqlRunColumns + ` FROM sync_runs WHERE id = ?`

	sqlCurrentRun = `SELECT ` + sqlRunColumns + ` FROM sync_runs
		WHERE status = 'running' ORDER BY id DESC LIMIT 1`

	sqlLastRun = `SELECT ` + sqlRunColumns + ` FROM sync_runs
		WHERE status != 'running' ORDER BY id DESC LIMIT 1`

	sqlInsertRun = `INSERT INTO sync_runs (status, is_full, started_at)
		VALUES ('running', ?, ?)`

	sqlFinishRun = `UPDATE sync_runs
		SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ?`

	sqlGetLatch = `SELECT value FROM app_settings WHERE key = ?`

	sqlSetLatch = `INSERT INTO app_settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 value = excluded.value,
		 updated_at = excluded.updated_at`
)

// StartRun acquires the sync_in_progress latch and inserts a running run
// row, both in one transaction. Returns ErrAlreadyRunning when the latch is
// held by a live run. A set latch with no running run row is a crash
// leftover: it is logged and reclaimed.
func (c *Catalog) StartRun(ctx context.Context, isFull bool) (*Run, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: beginning run transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var latch string

	err = tx.QueryRowContext(ctx, sqlGetLatch, latchKey).Scan(&latch)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: reading run latch: %w", err)
	}

	if latch == "1" {
		var running int

		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sync_runs WHERE status = 'running'`,
		).Scan(&running)
		if err != nil {
			return nil, fmt.Errorf("catalog: checking for running run: %w", err)
		}

		if running > 0 {
			return nil, ErrAlreadyRunning
		}

		c.logger.Warn("reclaiming stale sync latch with no running run")
	}

	now := toUnixNano(c.nowFunc())

	if _, err := tx.ExecContext(ctx, sqlSetLatch, latchKey, "1", now); err != nil {
		return nil, fmt.Errorf("catalog: acquiring run latch: %w", err)
	}

	res, err := tx.ExecContext(ctx, sqlInsertRun, isFull, now)
	if err != nil {
		return nil, fmt.Errorf("catalog: inserting run row: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("catalog: reading run id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("catalog: committing run start: %w", err)
	}

	c.logger.Info("sync run started",
		slog.Int64("run_id", id),
		slog.Bool("full", isFull),
	)

	return &Run{
		ID:        id,
		Status:    RunRunning,
		IsFull:    isFull,
		StartedAt: fromUnixNano(now),
	}, nil
}

// FinishRun stamps the run terminal and releases the latch in one
// transaction. An empty errMsg completes the run; anything else fails it.
// Returns the final run row, counters included.
func (c *Catalog) FinishRun(ctx context.Context, runID int64, errMsg string) (*Run, error) {
	status := RunCompleted
	if errMsg != "" {
		status = RunFailed
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: beginning finish transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := toUnixNano(c.nowFunc())

	if _, err := tx.ExecContext(ctx, sqlFinishRun, string(status), now, errMsg, runID); err != nil {
		return nil, fmt.Errorf("catalog: finishing run %d: %w", runID, err)
	}

	if _, err := tx.ExecContext(ctx, sqlSetLatch, latchKey, "0", now); err != nil {
		return nil, fmt.Errorf("catalog: releasing run latch: %w", err)
	}

	run, err := scanRun(tx.QueryRowContext(ctx, sqlGetRun, runID))
	if err != nil {
		return nil, fmt.Errorf("catalog: reading finished run %d: %w", runID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("catalog: committing run finish: %w", err)
	}

	c.logger.Info("sync run finished",
		slog.Int64("run_id", runID),
		slog.String("status", string(status)),
	)

	return run, nil
}

// GetRun loads a run by id.
func (c *Catalog) GetRun(ctx context.Context, runID int64) (*Run, error) {
	run, err := scanRun(c.db.QueryRowContext(ctx, sqlGetRun, runID))
	if err != nil {
		return nil, fmt.Errorf("catalog: loading run %d: %w", runID, err)
	}

	return run, nil
}

// CurrentRun returns the active run, or nil when none is running.
func (c *Catalog) CurrentRun(ctx context.Context) (*Run, error) {
	run, err := scanRun(c.db.QueryRowContext(ctx, sqlCurrentRun))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: loading current run: %w", err)
	}

	return run, nil
}

// LastRun returns the most recent terminal run, or nil when no run has
// finished yet.
func (c *Catalog) LastRun(ctx context.Context) (*Run, error) {
	run, err := scanRun(c.db.QueryRowContext(ctx, sqlLastRun))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: loading last run: %w", err)
	}

	return run, nil
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run         Run
		status      string
		startedAt   int64
		completedAt sql.NullInt64
	)

	err := row.Scan(
		&run.ID, &status, &run.IsFull, &startedAt, &completedAt,
		&run.Counters.Added, &run.Counters.Modified, &run.Counters.Removed,
		&run.Counters.Unchanged, &run.Counters.Skipped, &run.Counters.BytesDownloaded,
		&run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	run.StartedAt = fromUnixNano(startedAt)

	if completedAt.Valid {
		done := fromUnixNano(completedAt.Int64)
		run.CompletedAt = &done
	}

	return &run, nil
}
