package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

const violationSamples = 5

// ValidationError carries every violation found in a frame, one line per kind.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// Validate deduplicates f on timestamp, keeping the last occurrence, then
// checks the result. It returns the deduplicated frame even when it also
// returns a *ValidationError.
func Validate(f *Frame) (*Frame, error) {
	out := &Frame{Symbol: f.Symbol, Rows: dedupeKeepLast(f.Rows)}

	var nulls, broken, unordered []time.Time
	for i, r := range out.Rows {
		if i > 0 && !r.TS.After(out.Rows[i-1].TS) {
			unordered = append(unordered, r.TS)
		}
		if !r.Open.Valid || !r.High.Valid || !r.Low.Valid || !r.Close.Valid {
			nulls = append(nulls, r.TS)
			continue
		}
		if !models.OHLCConsistent(r.Open.Decimal, r.High.Decimal, r.Low.Decimal, r.Close.Decimal) {
			broken = append(broken, r.TS)
		}
	}

	var v []string
	if len(out.Rows) == 0 {
		v = append(v, "empty dataset")
	}
	v = appendViolation(v, "null OHLC values", nulls)
	v = appendViolation(v, "OHLC invariant violated (high < max(open, close, low) or low > min(open, close, high))", broken)
	v = appendViolation(v, "non-monotonic timestamps", unordered)

	if len(v) > 0 {
		return out, &ValidationError{Violations: v}
	}
	return out, nil
}

// dedupeKeepLast assumes rows are sorted by TS with ties in input order.
func dedupeKeepLast(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for i, r := range rows {
		if i+1 < len(rows) && rows[i+1].TS.Equal(r.TS) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func appendViolation(v []string, kind string, at []time.Time) []string {
	if len(at) == 0 {
		return v
	}
	n := min(len(at), violationSamples)
	sample := make([]string, n)
	for i := range n {
		sample[i] = at[i].Format(time.RFC3339)
	}
	return append(v, fmt.Sprintf("%s: %d rows (e.g. %s)", kind, len(at), strings.Join(sample, ", ")))
}
