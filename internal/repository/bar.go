package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

const stageTable = "stage_ohlcv_1m"

var barColumns = []string{
	"vendor", "schema", "symbol", "ts", "ts_ms",
	"open", "high", "low", "close", "volume", "ingestion_run_id",
}

type BarRepo struct {
	pool *pgxpool.Pool
}

func NewBarRepo(pool *pgxpool.Pool) *BarRepo {
	return &BarRepo{pool: pool}
}

// Upsert bulk-loads bars into a transaction-scoped staging table, counts the
// keys that already exist, then merges staging into market_bars_ohlcv_1m on
// (symbol, ts). Bars must already be unique on (symbol, ts). Everything runs
// in one transaction; on error nothing is written.
func (r *BarRepo) Upsert(ctx context.Context, bars []models.Bar) (models.UpsertCounts, error) {
	if len(bars) == 0 {
		return models.UpsertCounts{}, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.UpsertCounts{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`CREATE TEMP TABLE `+stageTable+` (LIKE market_bars_ohlcv_1m INCLUDING DEFAULTS) ON COMMIT DROP`,
	)
	if err != nil {
		return models.UpsertCounts{}, fmt.Errorf("create staging table: %w", err)
	}

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{stageTable}, barColumns,
		pgx.CopyFromSlice(len(bars), func(i int) ([]any, error) {
			b := bars[i]
			return []any{
				b.Vendor, b.Schema, b.Symbol, b.TS.UTC(), b.TSMs,
				toNumeric(b.Open), toNumeric(b.High), toNumeric(b.Low), toNumeric(b.Close),
				b.Volume, b.IngestionRunID,
			}, nil
		}),
	)
	if err != nil {
		return models.UpsertCounts{}, fmt.Errorf("copy to staging: %w", err)
	}
	if int(copied) != len(bars) {
		return models.UpsertCounts{}, fmt.Errorf("copy to staging: copied %d of %d rows", copied, len(bars))
	}

	var existing int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM `+stageTable+` s
		 JOIN market_bars_ohlcv_1m b ON b.symbol = s.symbol AND b.ts = s.ts`,
	).Scan(&existing)
	if err != nil {
		return models.UpsertCounts{}, fmt.Errorf("count existing: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO market_bars_ohlcv_1m
		 (vendor, schema, symbol, ts, ts_ms, open, high, low, close, volume, ingestion_run_id)
		 SELECT vendor, schema, symbol, ts, ts_ms, open, high, low, close, volume, ingestion_run_id
		 FROM `+stageTable+`
		 ON CONFLICT (symbol, ts) DO UPDATE SET
		     vendor           = EXCLUDED.vendor,
		     schema           = EXCLUDED.schema,
		     ts_ms            = EXCLUDED.ts_ms,
		     open             = EXCLUDED.open,
		     high             = EXCLUDED.high,
		     low              = EXCLUDED.low,
		     close            = EXCLUDED.close,
		     volume           = EXCLUDED.volume,
		     ingestion_run_id = EXCLUDED.ingestion_run_id`,
	)
	if err != nil {
		return models.UpsertCounts{}, fmt.Errorf("upsert: %w", err)
	}
	if int(tag.RowsAffected()) != len(bars) {
		return models.UpsertCounts{}, fmt.Errorf("upsert: affected %d of %d rows", tag.RowsAffected(), len(bars))
	}

	if err := tx.Commit(ctx); err != nil {
		return models.UpsertCounts{}, fmt.Errorf("commit: %w", err)
	}

	return models.UpsertCounts{Rows: len(bars), Inserted: len(bars) - existing, Updated: existing}, nil
}

// DistinctTimestamps returns the stored minute timestamps for symbol in
// [from, to], ascending.
func (r *BarRepo) DistinctTimestamps(ctx context.Context, symbol string, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ts FROM market_bars_ohlcv_1m
		 WHERE symbol = $1 AND ts >= $2 AND ts <= $3
		 ORDER BY ts ASC`,
		symbol, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts.UTC())
	}
	return out, rows.Err()
}

// InRange returns the bars for symbol in [from, to] ordered by ts.
func (r *BarRepo) InRange(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT vendor, schema, symbol, ts, ts_ms, open, high, low, close, volume, ingestion_run_id
		 FROM market_bars_ohlcv_1m
		 WHERE symbol = $1 AND ts >= $2 AND ts <= $3
		 ORDER BY ts ASC`,
		symbol, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBars(rows)
}

// Count returns the number of stored bars for symbol.
func (r *BarRepo) Count(ctx context.Context, symbol string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM market_bars_ohlcv_1m WHERE symbol = $1`, symbol,
	).Scan(&n)
	return n, err
}

// --- scan helpers ---

func collectBars(rows rowsIter) ([]models.Bar, error) {
	var out []models.Bar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBar(row scannable) (*models.Bar, error) {
	var b models.Bar
	var o, h, l, c pgtype.Numeric
	err := row.Scan(
		&b.Vendor, &b.Schema, &b.Symbol, &b.TS, &b.TSMs,
		&o, &h, &l, &c, &b.Volume, &b.IngestionRunID,
	)
	if err != nil {
		return nil, err
	}
	b.TS = b.TS.UTC()
	if b.Open, err = fromNumeric(o); err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if b.High, err = fromNumeric(h); err != nil {
		return nil, fmt.Errorf("high: %w", err)
	}
	if b.Low, err = fromNumeric(l); err != nil {
		return nil, fmt.Errorf("low: %w", err)
	}
	if b.Close, err = fromNumeric(c); err != nil {
		return nil, fmt.Errorf("close: %w", err)
	}
	return &b, nil
}
