package acceptance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kjannette/trahn-marketdata/internal/models"
)

type fakeGaps struct {
	rep *models.GapReport
	err error
}

func (f *fakeGaps) Detect(_ context.Context, symbol string, r models.DateRange) (*models.GapReport, error) {
	return f.rep, f.err
}

type fakeVersions struct {
	active map[string]string
}

func (f *fakeVersions) GetActiveVersion(_ context.Context, symbol string) (string, error) {
	v, ok := f.active[symbol]
	if !ok {
		return "", fmt.Errorf("%w for %s", models.ErrNoActiveVersion, symbol)
	}
	return v, nil
}

func (f *fakeVersions) CountActiveVersions(context.Context) (int, error) {
	return len(f.active), nil
}

type fakeReplay struct {
	calls  int
	hashes []string
}

func (f *fakeReplay) Replay(_ context.Context, versionID, symbol string, dr models.DateRange) (*models.ReplayResult, error) {
	h := f.hashes[min(f.calls, len(f.hashes)-1)]
	f.calls++
	return &models.ReplayResult{DatasetVersionID: versionID, Symbol: symbol, DateRange: dr, BarCount: 10, OutputHash: h, VersionScoped: true}, nil
}

func params(t *testing.T) Params {
	t.Helper()
	r, err := models.ParseDateRange("2024-01-02", "2024-01-03")
	if err != nil {
		t.Fatal(err)
	}
	return Params{Symbol: "ES", Range: r, ExpectedVersions: 2}
}

func healthy() (*fakeGaps, *fakeVersions, *fakeReplay) {
	return &fakeGaps{rep: &models.GapReport{ExpectedCount: 2400, ActualCount: 2399, MissingCount: 1, CompletenessPct: 99.96}},
		&fakeVersions{active: map[string]string{"ES": "v1", "NQ": "v2"}},
		&fakeReplay{hashes: []string{"abc"}}
}

func statusOf(rep *Report, name string) CheckResult {
	for _, c := range rep.Checks {
		if c.Name == name {
			return c
		}
	}
	return CheckResult{}
}

func TestGate_Locked(t *testing.T) {
	gaps, versions, replay := healthy()
	rep := NewGate(nil, gaps, versions, replay, nil).Run(context.Background(), params(t))

	if !rep.Locked() || rep.Status != Locked {
		t.Fatalf("expected LOCKED, got %+v", rep)
	}
	if len(rep.Checks) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(rep.Checks))
	}
	for _, c := range rep.Checks {
		if !c.Passed {
			t.Fatalf("check %s failed: %s", c.Name, c.Detail)
		}
		t.Logf("%s: %s", c.Name, c.Detail)
	}
	if replay.calls != 2 {
		t.Fatalf("expected two replays, got %d", replay.calls)
	}
}

func TestGate_EachCheckFailsIndependently(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*fakeGaps, *fakeVersions, *fakeReplay, *Params)
		failed string
	}{
		{"inconsistent gaps", func(g *fakeGaps, _ *fakeVersions, _ *fakeReplay, _ *Params) {
			g.rep.MissingCount = 5
		}, CheckContinuity},
		{"gap error", func(g *fakeGaps, _ *fakeVersions, _ *fakeReplay, _ *Params) {
			g.err = errors.New("db down")
		}, CheckContinuity},
		{"too few versions", func(_ *fakeGaps, _ *fakeVersions, _ *fakeReplay, p *Params) {
			p.ExpectedVersions = 3
		}, CheckVersioning},
		{"hash drift", func(_ *fakeGaps, _ *fakeVersions, r *fakeReplay, _ *Params) {
			r.hashes = []string{"abc", "abd"}
		}, CheckDeterminism},
		{"no active version", func(_ *fakeGaps, v *fakeVersions, _ *fakeReplay, p *Params) {
			v.active = map[string]string{"NQ": "v2", "CL": "v3"}
		}, CheckDeterminism},
	}

	for _, c := range cases {
		gaps, versions, replay := healthy()
		p := params(t)
		c.mutate(gaps, versions, replay, &p)

		rep := NewGate(nil, gaps, versions, replay, nil).Run(context.Background(), p)
		if rep.Status != NotLocked {
			t.Fatalf("%s: expected NOT_LOCKED", c.name)
		}
		for _, check := range rep.Checks {
			wantPass := check.Name != c.failed
			if check.Passed != wantPass {
				t.Fatalf("%s: check %s passed=%v (%s)", c.name, check.Name, check.Passed, check.Detail)
			}
		}
		if d := statusOf(rep, c.failed).Detail; d == "" {
			t.Fatalf("%s: failed check has no detail", c.name)
		}
	}
}

func TestGate_MissingCollaborators(t *testing.T) {
	rep := NewGate(nil, nil, nil, nil, nil).Run(context.Background(), params(t))
	if rep.Locked() {
		t.Fatal("gate without stores must not lock")
	}
	if !statusOf(rep, CheckCompleteness).Passed {
		t.Fatal("completeness only needs the calendar")
	}
	if d := statusOf(rep, CheckVersioning).Detail; !strings.Contains(d, "registry") {
		t.Fatalf("versioning detail %q", d)
	}
}
