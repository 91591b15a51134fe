package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOHLCConsistent(t *testing.T) {
	cases := []struct {
		name                   string
		open, high, low, close string
		want                   bool
	}{
		{"normal", "100", "101", "99", "100.5", true},
		{"flat", "100", "100", "100", "100", true},
		{"high below close", "100", "100.25", "99", "100.5", false},
		{"low above open", "100", "101", "100.25", "100.5", false},
		{"high below low", "100", "98", "99", "100", false},
	}
	for _, c := range cases {
		got := OHLCConsistent(d(c.open), d(c.high), d(c.low), d(c.close))
		if got != c.want {
			t.Fatalf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}

func TestParseDateRange(t *testing.T) {
	r, err := ParseDateRange("2024-01-02", "2024-01-03")
	if err != nil {
		t.Fatalf("ParseDateRange: %v", err)
	}
	from, to := r.Bounds()
	if !from.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("from: %s", from)
	}
	if !to.Equal(time.Date(2024, 1, 3, 23, 59, 0, 0, time.UTC)) {
		t.Fatalf("to: %s", to)
	}
	if r.String() != "2024-01-02..2024-01-03" {
		t.Fatalf("String: %s", r.String())
	}

	if _, err := ParseDateRange("2024-01-03", "2024-01-02"); err == nil {
		t.Fatal("expected error for reversed range")
	}
	if _, err := ParseDateRange("2024/01/03", "2024-01-04"); err == nil {
		t.Fatal("expected error for bad date format")
	}
}

func TestRunStatus_Terminal(t *testing.T) {
	if RunRunning.Terminal() {
		t.Fatal("running is not terminal")
	}
	if !RunSuccess.Terminal() || !RunFailed.Terminal() {
		t.Fatal("success and failed are terminal")
	}
}
