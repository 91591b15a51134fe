package ingest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/shopspring/decimal"
)

const (
	dbnMaxVersion   = 3
	recordHeaderLen = 16
	ohlcvRecordLen  = recordHeaderLen + 5*8

	rtypeOHLCV1m     = 0x21
	rtypeOHLCVLegacy = 0x11

	// priceUndefined marks a null fixed-point price.
	priceUndefined = math.MaxInt64
	priceScale     = -9
)

// Decoded column names.
const (
	ColTSEvent      = "ts_event"
	ColInstrumentID = "instrument_id"
	ColOpen         = "open"
	ColHigh         = "high"
	ColLow          = "low"
	ColClose        = "close"
	ColVolume       = "volume"
)

// DecodeError reports a corrupt or unreadable vendor file.
type DecodeError struct {
	File   string
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("decode at byte %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("decode %s at byte %d: %v", e.File, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type Metadata struct {
	Version uint8
	Dataset string
	Schema  uint16
}

// Table is a column-addressable decode result. Every column has Len values.
type Table struct {
	Meta    Metadata
	order   []string
	columns map[string][]any
	n       int
}

func NewTable(columns ...string) *Table {
	t := &Table{order: columns, columns: make(map[string][]any, len(columns))}
	for _, c := range columns {
		t.columns[c] = nil
	}
	return t
}

// Append adds one row, values in column order.
func (t *Table) Append(values ...any) {
	for i, c := range t.order {
		var v any
		if i < len(values) {
			v = values[i]
		}
		t.columns[c] = append(t.columns[c], v)
	}
	t.n++
}

func (t *Table) Column(name string) ([]any, bool) {
	c, ok := t.columns[name]
	return c, ok
}

func (t *Table) Columns() []string { return t.order }

func (t *Table) Len() int { return t.n }

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// DecodeDBN reads a DBN stream of OHLCV records. Records of other types are
// skipped by their declared length.
func DecodeDBN(r io.Reader) (*Table, error) {
	cr := &countingReader{r: r}
	fail := func(format string, args ...any) error {
		return &DecodeError{Offset: cr.n, Err: fmt.Errorf(format, args...)}
	}

	var prefix [4]byte
	if _, err := io.ReadFull(cr, prefix[:]); err != nil {
		return nil, fail("read prefix: %w", err)
	}
	if !bytes.Equal(prefix[:3], []byte("DBN")) {
		return nil, fail("bad magic %q", prefix[:3])
	}
	version := prefix[3]
	if version < 1 || version > dbnMaxVersion {
		return nil, fail("unsupported DBN version %d", version)
	}

	var metaLen uint32
	if err := binary.Read(cr, binary.LittleEndian, &metaLen); err != nil {
		return nil, fail("read metadata length: %w", err)
	}
	if metaLen < 18 {
		return nil, fail("metadata length %d too short", metaLen)
	}
	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(cr, meta); err != nil {
		return nil, fail("truncated metadata: %w", err)
	}

	t := NewTable(ColTSEvent, ColInstrumentID, ColOpen, ColHigh, ColLow, ColClose, ColVolume)
	t.Meta = Metadata{
		Version: version,
		Dataset: string(bytes.TrimRight(meta[:16], "\x00")),
		Schema:  binary.LittleEndian.Uint16(meta[16:18]),
	}

	buf := make([]byte, 255*4)
	for {
		if _, err := io.ReadFull(cr, buf[:1]); err != nil {
			if errors.Is(err, io.EOF) {
				return t, nil
			}
			return nil, fail("read record length: %w", err)
		}
		size := int(buf[0]) * 4
		if size < recordHeaderLen {
			return nil, fail("record length %d shorter than header", size)
		}
		if _, err := io.ReadFull(cr, buf[1:size]); err != nil {
			return nil, fail("truncated record: %w", err)
		}
		rec := buf[:size]

		rtype := rec[1]
		if rtype != rtypeOHLCV1m && rtype != rtypeOHLCVLegacy {
			continue
		}
		if size < ohlcvRecordLen {
			return nil, fail("ohlcv record length %d, want %d", size, ohlcvRecordLen)
		}

		le := binary.LittleEndian
		t.Append(
			le.Uint64(rec[8:16]),
			le.Uint32(rec[4:8]),
			fixedPrice(int64(le.Uint64(rec[16:24]))),
			fixedPrice(int64(le.Uint64(rec[24:32]))),
			fixedPrice(int64(le.Uint64(rec[32:40]))),
			fixedPrice(int64(le.Uint64(rec[40:48]))),
			le.Uint64(rec[48:56]),
		)
	}
}

func fixedPrice(v int64) any {
	if v == priceUndefined {
		return nil
	}
	return decimal.New(v, priceScale)
}
