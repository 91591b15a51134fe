package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/acceptance"
	"github.com/kjannette/trahn-marketdata/internal/calendar"
	"github.com/kjannette/trahn-marketdata/internal/db"
	"github.com/kjannette/trahn-marketdata/internal/gaps"
	"github.com/kjannette/trahn-marketdata/internal/models"
	"github.com/kjannette/trahn-marketdata/internal/replay"
	"github.com/kjannette/trahn-marketdata/internal/repository"
)

func cmdMigrate(ctx context.Context, a *app, args []string) error {
	fs := newFlags("migrate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Println("schema up to date")
	}
	for _, name := range applied {
		fmt.Println("applied", name)
	}
	return nil
}

func parseRange(start, end string) (models.DateRange, error) {
	r, err := models.ParseDateRange(start, end)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	return r, nil
}

func cmdGaps(ctx context.Context, a *app, args []string) error {
	fs := newFlags("gaps")
	symbol := fs.String("symbol", "", "symbol")
	start := fs.String("start", "", "first day, YYYY-MM-DD (UTC)")
	end := fs.String("end", "", "last day, YYYY-MM-DD (UTC), inclusive")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "symbol", "start", "end"); err != nil {
		return err
	}
	dr, err := parseRange(*start, *end)
	if err != nil {
		return err
	}

	pool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	rep, err := gaps.NewDetector(calendar.Default(), repository.NewBarRepo(pool)).Detect(ctx, *symbol, dr)
	if err != nil {
		return err
	}
	return printJSON(rep)
}

func cmdReplay(ctx context.Context, a *app, args []string) error {
	fs := newFlags("replay")
	version := fs.String("version", "", "dataset version id (an ingest run id)")
	symbol := fs.String("symbol", "", "symbol")
	start := fs.String("start", "", "first day, YYYY-MM-DD (UTC)")
	end := fs.String("end", "", "last day, YYYY-MM-DD (UTC), inclusive")
	out := fs.String("out", "", "optional parquet file for the replayed bars")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "version", "symbol", "start", "end"); err != nil {
		return err
	}
	dr, err := parseRange(*start, *end)
	if err != nil {
		return err
	}

	pool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	r := replay.New(repository.NewRunRepo(pool), repository.NewVersionRepo(pool), repository.NewBarRepo(pool))
	res, bars, err := r.Sequence(ctx, *version, *symbol, dr)
	if err != nil {
		return err
	}
	if *out != "" {
		if err := replay.WriteParquet(*out, bars); err != nil {
			return fmt.Errorf("export %s: %w", *out, err)
		}
		a.log.Info("replay exported", "path", *out, "bars", len(bars))
	}
	return printJSON(res)
}

func cmdVersion(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "usage: mdingest version get|set|list [flags]\n")
		return errUsage
	}
	sub, args := args[0], args[1:]

	fs := newFlags("version " + sub)
	symbol := fs.String("symbol", "", "symbol")
	version := fs.String("version", "", "dataset version id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch sub {
	case "get":
		if err := required(fs, "symbol"); err != nil {
			return err
		}
	case "set":
		if err := required(fs, "symbol", "version"); err != nil {
			return err
		}
	case "list":
	default:
		fmt.Fprintf(os.Stderr, "unknown version command %q\n", sub)
		return errUsage
	}

	pool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	versions := repository.NewVersionRepo(pool)

	switch sub {
	case "get":
		v, err := versions.GetActiveVersion(ctx, *symbol)
		if err != nil {
			return err
		}
		fmt.Println(v)
	case "set":
		if err := versions.SetActiveVersion(ctx, *symbol, *version); err != nil {
			return err
		}
		a.log.Info("active version set", "symbol", *symbol, "version", *version)
	case "list":
		list, err := versions.ListActiveVersions(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SYMBOL\tVERSION\tUPDATED")
		for _, v := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Symbol, v.DatasetVersionID, v.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	}
	return nil
}

func cmdRuns(ctx context.Context, a *app, args []string) error {
	fs := newFlags("runs")
	limit := fs.Int("limit", 20, "number of runs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	runs, err := repository.NewRunRepo(pool).ListRecent(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tFILE\tROWS\tINSERTED\tUPDATED\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, r.Status, r.FileName, r.RowCount, r.InsertedCount, r.UpdatedCount, r.StartedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func cmdAccept(ctx context.Context, a *app, args []string) error {
	fs := newFlags("accept")
	symbol := fs.String("symbol", "", "known symbol to check")
	start := fs.String("start", "", "first day, YYYY-MM-DD (UTC)")
	end := fs.String("end", "", "last day, YYYY-MM-DD (UTC), inclusive")
	expect := fs.Int("expect-symbols", len(a.cfg.TrackedSymbols), "minimum active version mappings (default: TRACKED_SYMBOLS count)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "symbol", "start", "end"); err != nil {
		return err
	}
	dr, err := parseRange(*start, *end)
	if err != nil {
		return err
	}

	pool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	cal := calendar.Default()
	bars := repository.NewBarRepo(pool)
	versions := repository.NewVersionRepo(pool)
	gate := acceptance.NewGate(cal,
		gaps.NewDetector(cal, bars),
		versions,
		replay.New(repository.NewRunRepo(pool), versions, bars),
		a.log,
	)

	rep := gate.Run(ctx, acceptance.Params{Symbol: *symbol, Range: dr, ExpectedVersions: *expect})
	for _, c := range rep.Checks {
		mark := "PASS"
		if !c.Passed {
			mark = "FAIL"
		}
		fmt.Printf("[%s] %-13s %s\n", mark, c.Name, c.Detail)
	}
	fmt.Println(rep.Status)
	if !rep.Locked() {
		return fmt.Errorf("acceptance gate %s", rep.Status)
	}
	return nil
}
