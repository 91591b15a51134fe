// Package calendar models the exchange trading session: Sunday 17:00 to
// Friday 16:00 US Central, closed 16:00-16:59 every day and on holidays.
//
// All functions are pure. The holiday set is compiled in from holidays.yaml.
package calendar

import (
	_ "embed"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFrequency is returned for any bar frequency other than one minute.
var ErrUnsupportedFrequency = errors.New("unsupported frequency")

const dateLayout = "2006-01-02"

const (
	maintenanceHour = 16
	sundayOpenHour  = 17
	fridayCloseHour = 16
)

//go:embed holidays.yaml
var holidaysYAML []byte

type holidayFile struct {
	Exchange string   `yaml:"exchange"`
	Timezone string   `yaml:"timezone"`
	Holidays []string `yaml:"holidays"`
}

type Calendar struct {
	exchange string
	loc      *time.Location
	holidays map[string]struct{}
}

// New builds a calendar for the given location and holiday dates (YYYY-MM-DD,
// local trading dates).
func New(exchange string, loc *time.Location, holidays []string) (*Calendar, error) {
	if loc == nil {
		return nil, errors.New("calendar: nil location")
	}
	c := &Calendar{exchange: exchange, loc: loc, holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		d, err := time.Parse(dateLayout, h)
		if err != nil {
			return nil, fmt.Errorf("calendar: holiday %q: %w", h, err)
		}
		c.holidays[d.Format(dateLayout)] = struct{}{}
	}
	return c, nil
}

// Parse reads a holiday file in the holidays.yaml layout.
func Parse(data []byte) (*Calendar, error) {
	var f holidayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("calendar: parse: %w", err)
	}
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return nil, fmt.Errorf("calendar: timezone %q: %w", f.Timezone, err)
	}
	return New(f.Exchange, loc, f.Holidays)
}

var defaultCalendar = sync.OnceValue(func() *Calendar {
	c, err := Parse(holidaysYAML)
	if err != nil {
		panic(err)
	}
	return c
})

// Default is the compiled-in CME Globex calendar.
func Default() *Calendar {
	return defaultCalendar()
}

func (c *Calendar) Exchange() string { return c.exchange }

func (c *Calendar) Location() *time.Location { return c.loc }

// Holidays returns the holiday dates in ascending order.
func (c *Calendar) Holidays() []time.Time {
	out := make([]time.Time, 0, len(c.holidays))
	for h := range c.holidays {
		d, _ := time.Parse(dateLayout, h)
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// IsHoliday reports whether the calendar date of d is a holiday. Only the
// year, month and day of d are used, in d's own location, so pass a local
// trading date (or a civil date built with time.Date).
func (c *Calendar) IsHoliday(d time.Time) bool {
	_, ok := c.holidays[d.Format(dateLayout)]
	return ok
}

// IsMarketOpen reports whether the minute containing t is inside a session.
// Boundaries are hour-granular: 16:00:00.000 local is already closed.
func (c *Calendar) IsMarketOpen(t time.Time) bool {
	local := t.In(c.loc)
	if c.IsHoliday(local) {
		return false
	}

	hour := local.Hour()
	switch local.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		if hour < sundayOpenHour {
			return false
		}
	case time.Friday:
		if hour >= fridayCloseHour {
			return false
		}
	}
	return hour != maintenanceHour
}

// ExpectedBarTimestamps yields every open minute in [start, end] in UTC.
// The returned sequence holds no state and can be ranged over repeatedly.
// Only freq == time.Minute is supported.
func (c *Calendar) ExpectedBarTimestamps(start, end time.Time, freq time.Duration) (iter.Seq[time.Time], error) {
	if freq != time.Minute {
		return nil, fmt.Errorf("%w: %s (only 1m bars are enumerated)", ErrUnsupportedFrequency, freq)
	}

	first := start.UTC().Truncate(time.Minute)
	if first.Before(start) {
		first = first.Add(time.Minute)
	}
	last := end.UTC()

	return func(yield func(time.Time) bool) {
		for ts := first; !ts.After(last); ts = ts.Add(time.Minute) {
			if !c.IsMarketOpen(ts) {
				continue
			}
			if !yield(ts) {
				return
			}
		}
	}, nil
}

// Count is a convenience that drains ExpectedBarTimestamps.
func (c *Calendar) Count(start, end time.Time) int {
	seq, _ := c.ExpectedBarTimestamps(start, end, time.Minute)
	n := 0
	for range seq {
		n++
	}
	return n
}

// IsHoliday reports holiday membership on the default calendar.
func IsHoliday(d time.Time) bool { return Default().IsHoliday(d) }

// IsMarketOpen evaluates t against the default calendar.
func IsMarketOpen(t time.Time) bool { return Default().IsMarketOpen(t) }

// ExpectedBarTimestamps enumerates open minutes on the default calendar.
func ExpectedBarTimestamps(start, end time.Time, freq time.Duration) (iter.Seq[time.Time], error) {
	return Default().ExpectedBarTimestamps(start, end, freq)
}
