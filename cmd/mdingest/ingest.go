package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/kjannette/trahn-marketdata/internal/ingest"
	"github.com/kjannette/trahn-marketdata/internal/logger"
	"github.com/kjannette/trahn-marketdata/internal/repository"
)

func cmdIngest(ctx context.Context, a *app, args []string) error {
	fs := newFlags("ingest")
	input := fs.String("input", "", "glob of vendor files (*.dbn.zst or *.dbn)")
	symbol := fs.String("symbol", "", "symbol to tag every bar with")
	dataset := fs.String("dataset", "", "vendor dataset name, e.g. GLBX.MDP3")
	schema := fs.String("schema", "", "schema tag (default ohlcv-1m)")
	dryRun := fs.Bool("dry-run", false, "decode and validate only; no database writes")
	limit := fs.Int("limit", 0, "process at most N files (sorted by name); 0 = all")
	verbose := fs.Bool("verbose", false, "debug logging")
	tmpDir := fs.String("tmp-dir", "", "directory for decompressed artifacts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "input", "symbol", "dataset"); err != nil {
		return err
	}

	if *verbose {
		l, err := logger.New(a.cfg.LogMode, "debug")
		if err != nil {
			return err
		}
		a.log = l
	}

	files, err := matchFiles(*input, *limit)
	if err != nil {
		return err
	}

	var (
		runs ingest.RunRecorder
		bars ingest.BarWriter
	)
	if !*dryRun {
		pool, err := a.openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		runs = repository.NewRunRepo(pool)
		bars = repository.NewBarRepo(pool)
	}

	p := ingest.NewPipeline(runs, bars, a.log, a.metrics)
	opts := ingest.Options{
		Vendor:  a.cfg.Vendor,
		Dataset: *dataset,
		Schema:  *schema,
		Symbol:  *symbol,
		DryRun:  *dryRun,
		TempDir: *tmpDir,
	}

	a.log.Info("ingest starting", "files", len(files), "symbol", *symbol, "dataset", *dataset, "dry_run", *dryRun)

	succeeded, failed := ingestFiles(ctx, a.log, p, files, opts)

	fmt.Printf("\nsummary: %d files, %d succeeded, %d failed\n", len(files), succeeded, failed)
	if failed > 0 || succeeded+failed < len(files) {
		return fmt.Errorf("%d of %d files did not ingest", len(files)-succeeded, len(files))
	}
	return nil
}

// matchFiles expands pattern in name order, keeping at most limit files
// when limit is positive.
func matchFiles(pattern string, limit int) ([]string, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad --input pattern: %w", err)
	}
	sort.Strings(files)
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files match %s", pattern)
	}
	return files, nil
}

// ingestFiles runs each file through p in order. A failed file is logged
// and does not stop the batch; cancellation of ctx skips the rest.
func ingestFiles(ctx context.Context, log *logger.Logger, p *ingest.Pipeline, files []string, opts ingest.Options) (succeeded, failed int) {
	for _, path := range files {
		if ctx.Err() != nil {
			log.Warn("interrupted, skipping remaining files", "remaining", len(files)-succeeded-failed)
			break
		}
		res, err := p.Run(ctx, path, opts)
		if err != nil {
			failed++
			kv := []any{"file", path, "error", err}
			if res != nil && res.Run != nil {
				kv = append(kv, "run_id", res.Run.ID)
			}
			log.Error("ingest failed", kv...)
			continue
		}
		succeeded++
		printResult(res)
	}
	return succeeded, failed
}

func printResult(res *ingest.Result) {
	span := "-"
	if res.MinTS != nil && res.MaxTS != nil {
		span = res.MinTS.UTC().Format("2006-01-02T15:04Z") + " .. " + res.MaxTS.UTC().Format("2006-01-02T15:04Z")
	}
	if res.DryRun {
		fmt.Printf("[dry-run] %s rows=%d range=%s sha256=%s\n", res.File, res.RowCount, span, res.FileSHA256)
		return
	}
	fmt.Printf("%s run=%s rows=%d inserted=%d updated=%d range=%s\n",
		res.File, res.Run.ID, res.Run.RowCount, res.Run.InsertedCount, res.Run.UpdatedCount, span)
}
