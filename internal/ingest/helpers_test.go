package ingest

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/models"
	"github.com/klauspost/compress/zstd"
)

// testBar prices are fixed-point 1e-9.
type testBar struct {
	ts         time.Time
	rtype      uint8
	o, h, l, c int64
	vol        uint64
}

const nano = 1_000_000_000

func genBars(start time.Time, n int) []testBar {
	out := make([]testBar, n)
	for i := range out {
		base := int64(4700*nano) + int64(i)*nano/4
		out[i] = testBar{
			ts: start.Add(time.Duration(i) * time.Minute),
			o:  base, h: base + nano, l: base - nano, c: base + nano/2,
			vol: uint64(100 + i),
		}
	}
	return out
}

func encodeDBN(t *testing.T, version uint8, bars []testBar) []byte {
	t.Helper()
	var buf bytes.Buffer
	le := binary.LittleEndian

	buf.WriteString("DBN")
	buf.WriteByte(version)

	meta := make([]byte, 24)
	copy(meta, "GLBX.MDP3")
	le.PutUint16(meta[16:], 8)
	_ = binary.Write(&buf, le, uint32(len(meta)))
	buf.Write(meta)

	for _, b := range bars {
		rec := make([]byte, ohlcvRecordLen)
		rec[0] = ohlcvRecordLen / 4
		rec[1] = rtypeOHLCV1m
		if b.rtype != 0 {
			rec[1] = b.rtype
		}
		le.PutUint16(rec[2:], 1)
		le.PutUint32(rec[4:], 4242)
		le.PutUint64(rec[8:], uint64(b.ts.UnixNano()))
		le.PutUint64(rec[16:], uint64(b.o))
		le.PutUint64(rec[24:], uint64(b.h))
		le.PutUint64(rec[32:], uint64(b.l))
		le.PutUint64(rec[40:], uint64(b.c))
		le.PutUint64(rec[48:], b.vol)
		buf.Write(rec)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := enc.Write(raw); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected %s to be empty, found %d entries (first %s)", dir, len(entries), entries[0].Name())
	}
}

const undefinedPrice = math.MaxInt64

// memStore is an in-memory RunRecorder and BarWriter.
type memStore struct {
	mu        sync.Mutex
	runs      map[string]*models.IngestRun
	order     []string
	bars      map[string]models.Bar
	upsertErr error
	finishErr error
	// successErr fails only the success finalize.
	successErr error
}

func newMemStore() *memStore {
	return &memStore{runs: map[string]*models.IngestRun{}, bars: map[string]models.Bar{}}
}

func barKey(symbol string, ts time.Time) string {
	return symbol + "|" + ts.UTC().Format(time.RFC3339)
}

func (m *memStore) Create(_ context.Context, run *models.IngestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	m.order = append(m.order, run.ID)
	return nil
}

func (m *memStore) Finish(_ context.Context, id string, out models.RunOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finishErr != nil {
		return m.finishErr
	}
	if m.successErr != nil && out.Status == models.RunSuccess {
		return m.successErr
	}
	run, ok := m.runs[id]
	if !ok {
		return models.ErrRunNotFound
	}
	if run.Status != models.RunRunning {
		return models.ErrRunFinalized
	}
	applyOutcome(run, out)
	return nil
}

func (m *memStore) Upsert(_ context.Context, bars []models.Bar) (models.UpsertCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return models.UpsertCounts{}, m.upsertErr
	}
	existing := 0
	for _, b := range bars {
		if _, ok := m.bars[barKey(b.Symbol, b.TS)]; ok {
			existing++
		}
	}
	for _, b := range bars {
		m.bars[barKey(b.Symbol, b.TS)] = b
	}
	return models.UpsertCounts{Rows: len(bars), Inserted: len(bars) - existing, Updated: existing}, nil
}

func (m *memStore) run(i int) *models.IngestRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[m.order[i]]
}

// cancelStore cancels the caller's context right after bars commit and
// refuses any later call made on a cancelled context.
type cancelStore struct {
	*memStore
	cancel context.CancelFunc
}

func (c *cancelStore) Upsert(ctx context.Context, bars []models.Bar) (models.UpsertCounts, error) {
	counts, err := c.memStore.Upsert(ctx, bars)
	c.cancel()
	return counts, err
}

func (c *cancelStore) Finish(ctx context.Context, id string, out models.RunOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.memStore.Finish(ctx, id, out)
}
