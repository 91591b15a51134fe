package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/metrics"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

func testOptions(tmp string) Options {
	return Options{Dataset: "GLBX.MDP3", Symbol: "ES", TempDir: tmp}
}

func TestPipeline_IngestThenReingest(t *testing.T) {
	dir, tmp := t.TempDir(), t.TempDir()
	start := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	path := writeFile(t, dir, "es.dbn.zst", zstdBytes(t, encodeDBN(t, 2, genBars(start, 500))))

	store := newMemStore()
	p := NewPipeline(store, store, nil, metrics.New())
	ctx := context.Background()

	res, err := p.Run(ctx, path, testOptions(tmp))
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	run := store.run(0)
	if run.Status != models.RunSuccess || run.RowCount != 500 || run.InsertedCount != 500 || run.UpdatedCount != 0 {
		t.Fatalf("first run: %+v", run)
	}
	if run.Vendor != "databento" || run.FileName != "es.dbn.zst" || run.FileSHA256 != res.FileSHA256 {
		t.Fatalf("provenance: %+v", run)
	}
	if run.MinTS == nil || !run.MinTS.Equal(start) || !run.MaxTS.Equal(start.Add(499*time.Minute)) {
		t.Fatalf("range: %v..%v", run.MinTS, run.MaxTS)
	}
	assertDirEmpty(t, tmp)

	before := make(map[string]models.Bar, len(store.bars))
	for k, b := range store.bars {
		before[k] = b
	}

	if _, err := p.Run(ctx, path, testOptions(tmp)); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	again := store.run(1)
	if again.Status != models.RunSuccess || again.InsertedCount != 0 || again.UpdatedCount != 500 {
		t.Fatalf("re-ingest run: %+v", again)
	}
	if again.ID == run.ID {
		t.Fatal("re-ingest must record a new run")
	}
	if len(store.bars) != 500 {
		t.Fatalf("expected 500 stored bars, got %d", len(store.bars))
	}
	for k, b := range store.bars {
		old := before[k]
		if !b.Close.Equal(old.Close) || !b.High.Equal(old.High) || *b.Volume != *old.Volume {
			t.Fatalf("bar %s changed on re-ingest", k)
		}
		if b.IngestionRunID != again.ID {
			t.Fatalf("bar %s not tagged with the latest run", k)
		}
	}
	assertDirEmpty(t, tmp)
}

func TestPipeline_UncompressedInput(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "es.dbn", encodeDBN(t, 3, genBars(time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), 10)))

	store := newMemStore()
	if _, err := NewPipeline(store, store, nil, nil).Run(context.Background(), path, testOptions(t.TempDir())); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.bars) != 10 {
		t.Fatalf("expected 10 bars, got %d", len(store.bars))
	}
}

func TestPipeline_DecodeFailureRecordsFailedRun(t *testing.T) {
	dir, tmp := t.TempDir(), t.TempDir()
	// zstd magic followed by garbage
	path := writeFile(t, dir, "bad.dbn.zst", []byte{0x28, 0xB5, 0x2F, 0xFD, 1, 2, 3, 4, 5, 6, 7, 8})

	store := newMemStore()
	res, err := NewPipeline(store, store, nil, nil).Run(context.Background(), path, testOptions(tmp))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if res == nil || res.Run == nil {
		t.Fatal("failed run should still be reported")
	}
	run := store.run(0)
	if run.Status != models.RunFailed || run.Error == nil || run.FinishedAt == nil {
		t.Fatalf("run not finalized as failed: %+v", run)
	}
	if len(store.bars) != 0 {
		t.Fatalf("decode failure wrote %d bars", len(store.bars))
	}
	assertDirEmpty(t, tmp)
}

func TestPipeline_ValidationFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	bars := genBars(time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), 20)
	bars[3].c = undefinedPrice
	bars[7].h = bars[7].l - nano
	path := writeFile(t, dir, "es.dbn.zst", zstdBytes(t, encodeDBN(t, 2, bars)))

	store := newMemStore()
	rec := metrics.New()
	_, err := NewPipeline(store, store, nil, rec).Run(context.Background(), path, testOptions(t.TempDir()))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Violations) != 2 {
		t.Fatalf("expected 2 violation kinds, got %v", ve.Violations)
	}
	if len(store.bars) != 0 {
		t.Fatalf("validation failure wrote %d bars", len(store.bars))
	}
	run := store.run(0)
	if run.Status != models.RunFailed || !strings.Contains(*run.Error, "null OHLC values") {
		t.Fatalf("run: %+v", run)
	}
}

func TestPipeline_UpsertFailureFinalizesRun(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "es.dbn", encodeDBN(t, 2, genBars(time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), 5)))

	store := newMemStore()
	store.upsertErr = errors.New("connection reset")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := NewPipeline(store, store, nil, nil).Run(ctx, path, testOptions(t.TempDir()))
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected upsert error, got %v", err)
	}
	if run := store.run(0); run.Status != models.RunFailed {
		t.Fatalf("run not failed: %+v", run)
	}
}

func TestPipeline_CancelAfterCommitStillFinalizes(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "es.dbn", encodeDBN(t, 2, genBars(time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), 5)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancelStore{memStore: newMemStore(), cancel: cancel}

	if _, err := NewPipeline(store, store, nil, nil).Run(ctx, path, testOptions(t.TempDir())); err != nil {
		t.Fatalf("Run: %v", err)
	}
	run := store.run(0)
	if run.Status != models.RunSuccess || run.RowCount != 5 {
		t.Fatalf("run not finalized after cancellation: %+v", run)
	}
}

func TestPipeline_SuccessFinalizeFailureMarksRunFailed(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "es.dbn", encodeDBN(t, 2, genBars(time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), 5)))

	store := newMemStore()
	store.successErr = errors.New("write timeout")
	_, err := NewPipeline(store, store, nil, nil).Run(context.Background(), path, testOptions(t.TempDir()))
	if err == nil || !strings.Contains(err.Error(), "write timeout") {
		t.Fatalf("expected finalize error, got %v", err)
	}
	run := store.run(0)
	if run.Status != models.RunFailed || run.Error == nil || !strings.Contains(*run.Error, "write timeout") {
		t.Fatalf("run should end failed: %+v", run)
	}
}

func TestPipeline_FinalizeErrorIsJoined(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.dbn", []byte("not dbn at all"))

	store := newMemStore()
	store.finishErr = errors.New("db gone")
	_, err := NewPipeline(store, store, nil, nil).Run(context.Background(), path, testOptions(t.TempDir()))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError in chain, got %v", err)
	}
	if !strings.Contains(err.Error(), "db gone") {
		t.Fatalf("expected finalize error in chain, got %v", err)
	}
	if de.File != "bad.dbn" {
		t.Fatalf("decode error should name the file, got %q", de.File)
	}
}

func TestPipeline_DryRunTouchesNoStore(t *testing.T) {
	dir, tmp := t.TempDir(), t.TempDir()
	start := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	path := writeFile(t, dir, "es.dbn.zst", zstdBytes(t, encodeDBN(t, 2, genBars(start, 30))))

	opts := testOptions(tmp)
	opts.DryRun = true
	res, err := NewPipeline(nil, nil, nil, nil).Run(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !res.DryRun || res.Run != nil || res.RowCount != 30 {
		t.Fatalf("dry run result: %+v", res)
	}
	if !res.MinTS.Equal(start) || !res.MaxTS.Equal(start.Add(29*time.Minute)) {
		t.Fatalf("range %v..%v", res.MinTS, res.MaxTS)
	}
	assertDirEmpty(t, tmp)
}

func TestPipeline_MissingStoreRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "es.dbn", encodeDBN(t, 2, genBars(time.Now().UTC(), 1)))
	if _, err := NewPipeline(nil, nil, nil, nil).Run(context.Background(), path, testOptions(t.TempDir())); err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestPipeline_OptionsValidated(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "es.dbn", encodeDBN(t, 2, genBars(time.Now().UTC(), 1)))
	store := newMemStore()
	_, err := NewPipeline(store, store, nil, nil).Run(context.Background(), path, Options{Dataset: "GLBX.MDP3"})
	if err == nil || !strings.Contains(err.Error(), "Symbol") {
		t.Fatalf("expected missing symbol error, got %v", err)
	}
	if len(store.runs) != 0 {
		t.Fatal("no run should be created for bad options")
	}
}

func TestPrepare(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "es.dbn", encodeDBN(t, 2, genBars(time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), 4)))

	f, sum, err := NewPipeline(nil, nil, nil, nil).Prepare(path, testOptions(t.TempDir()))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	want, _ := HashFile(path)
	if sum != want || f.Len() != 4 {
		t.Fatalf("prepare: sum=%s rows=%d", sum, f.Len())
	}
	bars := f.Bars("databento", "ohlcv-1m", "run-1")
	if bars[0].TSMs != bars[0].TS.UnixMilli() || bars[0].Symbol != "ES" || bars[0].IngestionRunID != "run-1" {
		t.Fatalf("bar conversion: %+v", bars[0])
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("sha256 %s, want %s", got, want)
	}
}
