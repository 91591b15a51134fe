package models

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// DateRange is an inclusive range of whole UTC days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ParseDateRange parses two YYYY-MM-DD dates.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("start date %q: %w", start, err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("end date %q: %w", end, err)
	}
	if e.Before(s) {
		return DateRange{}, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return DateRange{Start: s, End: e}, nil
}

// Bounds returns the first and last minute of the range: start 00:00 UTC
// through end 23:59 UTC, both inclusive.
func (r DateRange) Bounds() (time.Time, time.Time) {
	from := time.Date(r.Start.Year(), r.Start.Month(), r.Start.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(r.End.Year(), r.End.Month(), r.End.Day(), 23, 59, 0, 0, time.UTC)
	return from, to
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// MissingSampleLimit caps GapReport.MissingSample. The sample is a diagnostic,
// not a full enumeration.
const MissingSampleLimit = 50

// GapReport compares stored bars with the trading calendar over a range.
// ActualCount counts only stored bars at minutes the calendar expects, so
// it never exceeds ExpectedCount; bars at closed minutes are tallied in
// UnexpectedCount instead.
type GapReport struct {
	Symbol          string      `json:"symbol"`
	DateRange       DateRange   `json:"dateRange"`
	ExpectedCount   int         `json:"expectedCount"`
	ActualCount     int         `json:"actualCount"`
	MissingCount    int         `json:"missingCount"`
	UnexpectedCount int         `json:"unexpectedCount"`
	MissingSample   []time.Time `json:"missingSample"`
	CompletenessPct float64     `json:"completenessPct"`
}

// Consistent reports whether actual + missing == expected.
func (g *GapReport) Consistent() bool {
	return g.ActualCount+g.MissingCount == g.ExpectedCount
}

type ReplayResult struct {
	DatasetVersionID string    `json:"datasetVersionId"`
	Symbol           string    `json:"symbol"`
	DateRange        DateRange `json:"dateRange"`
	BarCount         int       `json:"barCount"`
	OutputHash       string    `json:"outputHash"`
	VersionScoped    bool      `json:"versionScoped"`
}
