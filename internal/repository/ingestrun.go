package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

const runColumns = `id, vendor, dataset, file_name, file_sha256, started_at, finished_at, status,
	row_count, inserted_count, updated_count, min_ts, max_ts, error`

type RunRepo struct {
	pool *pgxpool.Pool
}

func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create records a new run in its own transaction so the row survives a
// later failure of the bar write.
func (r *RunRepo) Create(ctx context.Context, run *models.IngestRun) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO data_ingest_runs
		 (id, vendor, dataset, file_name, file_sha256, started_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Vendor, run.Dataset, run.FileName, run.FileSHA256,
		run.StartedAt.UTC(), string(run.Status),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return tx.Commit(ctx)
}

// Finish moves a running run to its terminal state. A run that is not
// running any more is left untouched and models.ErrRunFinalized is returned.
func (r *RunRepo) Finish(ctx context.Context, id string, out models.RunOutcome) error {
	if !out.Status.Terminal() {
		return fmt.Errorf("finish run %s: status %q is not terminal", id, out.Status)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var errText *string
	if out.Error != "" {
		errText = &out.Error
	}

	tag, err := tx.Exec(ctx,
		`UPDATE data_ingest_runs SET
		     status = $2, finished_at = $3, row_count = $4, inserted_count = $5,
		     updated_count = $6, min_ts = $7, max_ts = $8, error = $9
		 WHERE id = $1 AND status = 'running'`,
		id, string(out.Status), out.FinishedAt.UTC(), out.RowCount, out.InsertedCount,
		out.UpdatedCount, out.MinTS, out.MaxTS, errText,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM data_ingest_runs WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", models.ErrRunNotFound, id)
		}
		return fmt.Errorf("%w: %s", models.ErrRunFinalized, id)
	}
	return tx.Commit(ctx)
}

// Get returns a run by id, or models.ErrRunNotFound.
func (r *RunRepo) Get(ctx context.Context, id string) (*models.IngestRun, error) {
	run, err := scanRun(r.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM data_ingest_runs WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrRunNotFound, id)
	}
	return run, err
}

func (r *RunRepo) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM data_ingest_runs WHERE id = $1)`, id,
	).Scan(&ok)
	return ok, err
}

// ListRecent returns the newest runs first.
func (r *RunRepo) ListRecent(ctx context.Context, limit int) ([]models.IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+runColumns+` FROM data_ingest_runs ORDER BY started_at DESC, id LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.IngestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanRun(row scannable) (*models.IngestRun, error) {
	var run models.IngestRun
	var status string
	err := row.Scan(
		&run.ID, &run.Vendor, &run.Dataset, &run.FileName, &run.FileSHA256,
		&run.StartedAt, &run.FinishedAt, &status,
		&run.RowCount, &run.InsertedCount, &run.UpdatedCount,
		&run.MinTS, &run.MaxTS, &run.Error,
	)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	return &run, nil
}
