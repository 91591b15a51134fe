// Package gaps compares the minutes a trading calendar expects against the
// bars actually stored for a symbol.
package gaps

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/calendar"
	"github.com/kjannette/trahn-marketdata/internal/config"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

// TimestampSource returns the distinct stored bar timestamps for symbol in
// [from, to]. repository.BarRepo satisfies it.
type TimestampSource interface {
	DistinctTimestamps(ctx context.Context, symbol string, from, to time.Time) ([]time.Time, error)
}

type Detector struct {
	cal *calendar.Calendar
	src TimestampSource
}

// NewDetector uses the default calendar when cal is nil.
func NewDetector(cal *calendar.Calendar, src TimestampSource) *Detector {
	if cal == nil {
		cal = calendar.Default()
	}
	return &Detector{cal: cal, src: src}
}

// Detect builds a GapReport for symbol over the inclusive day range. It only
// reads.
func (d *Detector) Detect(ctx context.Context, symbol string, r models.DateRange) (*models.GapReport, error) {
	if d.src == nil {
		return nil, fmt.Errorf("%w: gap detector has no database connection", config.ErrConfiguration)
	}

	from, to := r.Bounds()
	expected, err := d.cal.ExpectedBarTimestamps(from, to, time.Minute)
	if err != nil {
		return nil, err
	}

	stored, err := d.src.DistinctTimestamps(ctx, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("load timestamps for %s: %w", symbol, err)
	}
	have := make(map[int64]struct{}, len(stored))
	for _, ts := range stored {
		have[ts.UTC().Truncate(time.Minute).Unix()] = struct{}{}
	}

	rep := &models.GapReport{
		Symbol:        symbol,
		DateRange:     r,
		MissingSample: []time.Time{},
	}
	for ts := range expected {
		rep.ExpectedCount++
		if _, ok := have[ts.Unix()]; ok {
			rep.ActualCount++
			delete(have, ts.Unix())
			continue
		}
		rep.MissingCount++
		if len(rep.MissingSample) < models.MissingSampleLimit {
			rep.MissingSample = append(rep.MissingSample, ts)
		}
	}
	// whatever is left was stored at a closed minute
	rep.UnexpectedCount = len(have)
	rep.CompletenessPct = completeness(rep.ActualCount, rep.ExpectedCount)
	return rep, nil
}

func completeness(actual, expected int) float64 {
	if expected == 0 {
		return 0
	}
	return math.Round(float64(actual)/float64(expected)*100*100) / 100
}
