// Package ingest turns one vendor OHLCV file into validated bars with a
// provenance record: hash, decompress, decode, normalize, validate, upsert,
// finalize.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kjannette/trahn-marketdata/internal/logger"
	"github.com/kjannette/trahn-marketdata/internal/metrics"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

// RunRecorder persists IngestRun rows. repository.RunRepo satisfies it.
type RunRecorder interface {
	Create(ctx context.Context, run *models.IngestRun) error
	Finish(ctx context.Context, id string, out models.RunOutcome) error
}

// BarWriter upserts bars in one transaction. repository.BarRepo satisfies it.
type BarWriter interface {
	Upsert(ctx context.Context, bars []models.Bar) (models.UpsertCounts, error)
}

type Options struct {
	Vendor  string `default:"databento" validate:"required"`
	Dataset string `validate:"required"`
	Schema  string `default:"ohlcv-1m" validate:"required"`
	Symbol  string `validate:"required"`
	DryRun  bool
	// TempDir holds decompressed artifacts. Empty means os.TempDir.
	TempDir string
}

// Result describes one processed file. Run is nil for a dry run.
type Result struct {
	File       string
	FileSHA256 string
	RowCount   int
	MinTS      *time.Time
	MaxTS      *time.Time
	DryRun     bool
	Run        *models.IngestRun
}

type Pipeline struct {
	runs    RunRecorder
	bars    BarWriter
	log     *logger.Logger
	metrics *metrics.Recorder
	now     func() time.Time
	newID   func() string
	valid   *validator.Validate
}

// NewPipeline wires the stores. runs and bars may be nil when only dry runs
// are made; log and rec may be nil.
func NewPipeline(runs RunRecorder, bars BarWriter, log *logger.Logger, rec *metrics.Recorder) *Pipeline {
	return &Pipeline{
		runs:    runs,
		bars:    bars,
		log:     logger.OrNop(log),
		metrics: rec,
		now:     time.Now,
		newID:   uuid.NewString,
		valid:   validator.New(),
	}
}

func (p *Pipeline) options(opts Options) (Options, error) {
	if err := defaults.Set(&opts); err != nil {
		return opts, fmt.Errorf("ingest options: %w", err)
	}
	if err := p.valid.Struct(opts); err != nil {
		return opts, fmt.Errorf("ingest options: %w", err)
	}
	return opts, nil
}

// Prepare runs the side-effect-free steps: hash, decompress, decode,
// normalize and validate. It never touches the database.
func (p *Pipeline) Prepare(path string, opts Options) (*Frame, string, error) {
	opts, err := p.options(opts)
	if err != nil {
		return nil, "", err
	}
	sum, err := HashFile(path)
	if err != nil {
		return nil, "", err
	}
	f, err := p.prepare(path, opts)
	return f, sum, err
}

func (p *Pipeline) prepare(path string, opts Options) (*Frame, error) {
	var table *Table
	err := withDecoded(path, opts.TempDir, func(r io.Reader) error {
		var err error
		table, err = DecodeDBN(r)
		return err
	})
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) && de.File == "" {
			de.File = filepath.Base(path)
		}
		return nil, err
	}
	p.log.Debug("decoded", "file", filepath.Base(path), "records", table.Len(), "dataset", table.Meta.Dataset, "dbn_version", table.Meta.Version)

	frame, err := Normalize(table, opts.Symbol)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	dupes := frame.Len()
	frame, err = Validate(frame)
	if dupes -= frame.Len(); dupes > 0 {
		p.log.Info("dropped duplicate timestamps", "file", filepath.Base(path), "duplicates", dupes)
	}
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			p.metrics.RecordViolations(len(ve.Violations))
		}
		return nil, err
	}
	return frame, nil
}

// Run ingests one file. Outside a dry run it records exactly one IngestRun,
// created before any bar is written and always finalized. The returned
// Result is non-nil whenever the file was hashed, including on failure.
func (p *Pipeline) Run(ctx context.Context, path string, opts Options) (*Result, error) {
	start := p.now()
	res, err := p.run(ctx, path, opts)

	status := "success"
	switch {
	case err != nil:
		status = "failed"
	case res.DryRun:
		status = "dry_run"
	}
	p.metrics.RecordFile(status, p.now().Sub(start))
	return res, err
}

func (p *Pipeline) run(ctx context.Context, path string, opts Options) (*Result, error) {
	opts, err := p.options(opts)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	log := p.log.With("file", name, "symbol", opts.Symbol)

	sum, err := HashFile(path)
	if err != nil {
		return nil, err
	}
	res := &Result{File: name, FileSHA256: sum, DryRun: opts.DryRun}

	if opts.DryRun {
		frame, err := p.prepare(path, opts)
		if err != nil {
			return res, err
		}
		res.RowCount = frame.Len()
		res.MinTS, res.MaxTS = frame.Range()
		return res, nil
	}

	if p.runs == nil || p.bars == nil {
		return res, errors.New("ingest: pipeline has no store for a non-dry run")
	}

	run := &models.IngestRun{
		ID:         p.newID(),
		Vendor:     opts.Vendor,
		Dataset:    opts.Dataset,
		FileName:   name,
		FileSHA256: sum,
		StartedAt:  p.now().UTC(),
		Status:     models.RunRunning,
	}
	if err := p.runs.Create(ctx, run); err != nil {
		return res, fmt.Errorf("create ingest run: %w", err)
	}
	res.Run = run
	log = log.With("run_id", run.ID)
	log.Info("ingest run started", "sha256", sum)

	frame, err := p.prepare(path, opts)
	if err != nil {
		return res, p.fail(ctx, run, err)
	}
	res.RowCount = frame.Len()
	res.MinTS, res.MaxTS = frame.Range()

	counts, err := p.bars.Upsert(ctx, frame.Bars(opts.Vendor, opts.Schema, run.ID))
	if err != nil {
		return res, p.fail(ctx, run, fmt.Errorf("upsert bars: %w", err))
	}
	p.metrics.RecordBars(counts.Inserted, counts.Updated)

	out := models.RunOutcome{
		Status:        models.RunSuccess,
		FinishedAt:    p.now().UTC(),
		RowCount:      counts.Rows,
		InsertedCount: counts.Inserted,
		UpdatedCount:  counts.Updated,
		MinTS:         res.MinTS,
		MaxTS:         res.MaxTS,
	}
	// Bars are committed at this point; the run must reach a terminal
	// state even if ctx was cancelled meanwhile.
	if err := p.runs.Finish(context.WithoutCancel(ctx), run.ID, out); err != nil {
		return res, p.fail(ctx, run, fmt.Errorf("finalize ingest run %s: %w", run.ID, err))
	}
	applyOutcome(run, out)

	log.Info("ingest run succeeded",
		"rows", counts.Rows, "inserted", counts.Inserted, "updated", counts.Updated,
		"min_ts", res.MinTS, "max_ts", res.MaxTS)
	return res, nil
}

// fail finalizes run as failed on a context that outlives cancellation of
// ctx, and returns cause (joined with any finalize error).
func (p *Pipeline) fail(ctx context.Context, run *models.IngestRun, cause error) error {
	out := models.RunOutcome{
		Status:     models.RunFailed,
		FinishedAt: p.now().UTC(),
		Error:      cause.Error(),
	}
	if err := p.runs.Finish(context.WithoutCancel(ctx), run.ID, out); err != nil {
		p.log.Error("could not finalize failed run", "run_id", run.ID, "error", err)
		return errors.Join(cause, fmt.Errorf("finalize failed run %s: %w", run.ID, err))
	}
	applyOutcome(run, out)
	return cause
}

func applyOutcome(run *models.IngestRun, out models.RunOutcome) {
	finished := out.FinishedAt
	run.Status = out.Status
	run.FinishedAt = &finished
	run.RowCount = out.RowCount
	run.InsertedCount = out.InsertedCount
	run.UpdatedCount = out.UpdatedCount
	run.MinTS = out.MinTS
	run.MaxTS = out.MaxTS
	if out.Error != "" {
		e := out.Error
		run.Error = &e
	}
}
