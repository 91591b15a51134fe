package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

const pgForeignKeyViolation = "23503"

type VersionRepo struct {
	pool *pgxpool.Pool
}

func NewVersionRepo(pool *pgxpool.Pool) *VersionRepo {
	return &VersionRepo{pool: pool}
}

// GetActiveVersion returns the dataset version pinned for symbol, or
// models.ErrNoActiveVersion.
func (r *VersionRepo) GetActiveVersion(ctx context.Context, symbol string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx,
		`SELECT dataset_version_id FROM active_dataset_versions WHERE symbol = $1`, symbol,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w for %s", models.ErrNoActiveVersion, symbol)
	}
	return id, err
}

// SetActiveVersion pins symbol to versionID. The version must name a
// successful ingest run; anything else is models.ErrRunNotFound.
func (r *VersionRepo) SetActiveVersion(ctx context.Context, symbol, versionID string) error {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO active_dataset_versions (symbol, dataset_version_id, updated_at)
		 SELECT $1, id, NOW() FROM data_ingest_runs WHERE id = $2 AND status = 'success'
		 ON CONFLICT (symbol) DO UPDATE SET
		     dataset_version_id = EXCLUDED.dataset_version_id,
		     updated_at         = EXCLUDED.updated_at`,
		symbol, versionID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return fmt.Errorf("%w: %s", models.ErrRunNotFound, versionID)
		}
		return fmt.Errorf("set active version %s=%s: %w", symbol, versionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no successful run %s", models.ErrRunNotFound, versionID)
	}
	return nil
}

func (r *VersionRepo) ListActiveVersions(ctx context.Context) ([]models.ActiveDatasetVersion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT symbol, dataset_version_id, updated_at FROM active_dataset_versions ORDER BY symbol`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ActiveDatasetVersion
	for rows.Next() {
		var v models.ActiveDatasetVersion
		if err := rows.Scan(&v.Symbol, &v.DatasetVersionID, &v.UpdatedAt); err != nil {
			return nil, err
		}
		v.UpdatedAt = v.UpdatedAt.UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *VersionRepo) CountActiveVersions(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM active_dataset_versions`).Scan(&n)
	return n, err
}
