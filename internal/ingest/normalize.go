package ingest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/models"
	"github.com/shopspring/decimal"
)

// timestampAliases are tried in order; the first present column wins.
var timestampAliases = []string{ColTSEvent, "ts", "timestamp", "ts_recv", "time"}

var ErrNoTimestampColumn = errors.New("no timestamp column")

// Row is one normalized bar before validation. Prices may still be null.
type Row struct {
	TS     time.Time
	Open   decimal.NullDecimal
	High   decimal.NullDecimal
	Low    decimal.NullDecimal
	Close  decimal.NullDecimal
	Volume *int64
}

// Frame is the normalized, time-ordered bar set for one symbol.
type Frame struct {
	Symbol string
	Rows   []Row
}

func (f *Frame) Len() int { return len(f.Rows) }

// Range returns the first and last timestamp, or nils for an empty frame.
func (f *Frame) Range() (*time.Time, *time.Time) {
	if len(f.Rows) == 0 {
		return nil, nil
	}
	lo, hi := f.Rows[0].TS, f.Rows[len(f.Rows)-1].TS
	return &lo, &hi
}

// Bars converts a validated frame into store rows.
func (f *Frame) Bars(vendor, schema, runID string) []models.Bar {
	out := make([]models.Bar, len(f.Rows))
	for i, r := range f.Rows {
		out[i] = models.Bar{
			Vendor:         vendor,
			Schema:         schema,
			Symbol:         f.Symbol,
			TS:             r.TS,
			TSMs:           r.TS.UnixMilli(),
			Open:           r.Open.Decimal,
			High:           r.High.Decimal,
			Low:            r.Low.Decimal,
			Close:          r.Close.Decimal,
			Volume:         r.Volume,
			IngestionRunID: runID,
		}
	}
	return out
}

// Normalize resolves the timestamp column, coerces prices and volume, tags
// every row with symbol and sorts ascending by time. Equal timestamps keep
// their decode order.
func Normalize(t *Table, symbol string) (*Frame, error) {
	var tsCol []any
	for _, alias := range timestampAliases {
		if c, ok := t.Column(alias); ok {
			tsCol = c
			break
		}
	}
	if tsCol == nil && t.Len() > 0 {
		return nil, fmt.Errorf("%w (tried %s)", ErrNoTimestampColumn, strings.Join(timestampAliases, ", "))
	}

	cols := make(map[string][]any, 5)
	for _, name := range []string{ColOpen, ColHigh, ColLow, ColClose, ColVolume} {
		c, ok := t.Column(name)
		if !ok && t.Len() > 0 {
			return nil, fmt.Errorf("missing column %s", name)
		}
		cols[name] = c
	}

	f := &Frame{Symbol: symbol, Rows: make([]Row, t.Len())}
	for i := range f.Rows {
		ts, err := toTime(tsCol[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: timestamp: %w", i, err)
		}
		r := Row{TS: ts.UTC().Truncate(time.Minute)}

		prices := []*decimal.NullDecimal{&r.Open, &r.High, &r.Low, &r.Close}
		for j, name := range []string{ColOpen, ColHigh, ColLow, ColClose} {
			if *prices[j], err = toDecimal(cols[name][i]); err != nil {
				return nil, fmt.Errorf("row %d: %s: %w", i, name, err)
			}
		}
		if r.Volume, err = toVolume(cols[ColVolume][i]); err != nil {
			return nil, fmt.Errorf("row %d: volume: %w", i, err)
		}
		f.Rows[i] = r
	}

	sort.SliceStable(f.Rows, func(a, b int) bool { return f.Rows[a].TS.Before(f.Rows[b].TS) })
	return f, nil
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case uint64:
		if x > math.MaxInt64 {
			return time.Time{}, fmt.Errorf("epoch ns %d out of range", x)
		}
		return time.Unix(0, int64(x)), nil
	case int64:
		return time.Unix(0, x), nil
	case time.Time:
		return x, nil
	case string:
		return time.Parse(time.RFC3339Nano, x)
	case nil:
		return time.Time{}, errors.New("null")
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}
}

func toDecimal(v any) (decimal.NullDecimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case decimal.Decimal:
		return decimal.NewNullDecimal(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.NullDecimal{}, nil
		}
		return decimal.NewNullDecimal(decimal.NewFromFloat(x)), nil
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(x)), nil
	case string:
		if strings.EqualFold(x, "nan") || x == "" {
			return decimal.NullDecimal{}, nil
		}
		d, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		return decimal.NewNullDecimal(d), nil
	default:
		return decimal.NullDecimal{}, fmt.Errorf("unsupported type %T", v)
	}
}

func toVolume(v any) (*int64, error) {
	var n int64
	switch x := v.(type) {
	case nil:
		return nil, nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("%d out of range", x)
		}
		n = int64(x)
	case uint32:
		n = int64(x)
	case int64:
		n = x
	case int:
		n = int64(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, nil
		}
		if x >= math.MaxInt64 || x < math.MinInt64 {
			return nil, fmt.Errorf("%g out of range", x)
		}
		n = int64(x)
	case string:
		if x == "" {
			return nil, nil
		}
		p, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return nil, err
		}
		n = p
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
	return &n, nil
}
