package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/odvcencio/bowline/pkg/history"
	"github.com/odvcencio/bowline/pkg/runner"
)

// runHistoryCommand inspects and maintains the local run-history database.
func runHistoryCommand(args []string) error {
	cfg, err := runLoadConfigFn()
	if err != nil {
		return withExitCode(err, 2)
	}

	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	dbPath := fs.String("db", cfg.History.Path, "history database path")
	limit := fs.Int("limit", 20, "number of runs to list")
	runID := fs.String("run", "", "show a single run in detail")
	prune := fs.Int("prune", 0, "delete all but the newest N runs")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}

	path := *dbPath
	if path == "" {
		path, err = resolveHistoryDBPath()
		if err != nil {
			return withExitCode(err, 1)
		}
	}

	store, err := history.Open(path)
	if err != nil {
		return withExitCode(err, 1)
	}
	defer store.Close()

	switch {
	case *prune > 0:
		removed, err := store.Prune(*prune)
		if err != nil {
			return withExitCode(err, 1)
		}
		fmt.Printf("Pruned %d run(s), kept the newest %d\n", removed, *prune)
		return nil
	case *runID != "":
		return showRun(store, *runID)
	default:
		return listRuns(store, *limit)
	}
}

func listRuns(store *history.Store, limit int) error {
	runs, err := store.RecentRuns(limit)
	if err != nil {
		return withExitCode(err, 1)
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}
	fmt.Printf("%-27s  %-19s  %-6s  %5s  %6s  %s\n", "RUN", "STARTED", "STATUS", "TESTS", "FAILED", "ELAPSED")
	for _, r := range runs {
		fmt.Printf("%-27s  %-19s  %-6s  %5d  %6d  %s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Status,
			r.Tests,
			r.Failed,
			runner.FormatElapsed(r.Elapsed),
		)
	}
	return nil
}

func showRun(store *history.Store, id string) error {
	run, err := store.GetRun(id)
	if err != nil {
		return withExitCode(err, 1)
	}
	if run == nil {
		return withExitCode(fmt.Errorf("run %s not found", id), 1)
	}

	fmt.Printf("Run       %s\n", run.ID)
	fmt.Printf("Started   %s\n", run.StartedAt.Local().Format(time.RFC1123))
	fmt.Printf("Status    %s\n", run.Status)
	if run.Driver != "" {
		fmt.Printf("Driver    %s (%d browser(s))\n", run.Driver, run.Browsers)
	}
	fmt.Printf("Suites    %d\n", run.Suites)
	fmt.Printf("Tests     %d (%d passed, %d failed)\n", run.Tests, run.Passed, run.Failed)
	fmt.Printf("Asserts   %d (%d failed)\n", run.Assertions, run.AssertionsFailed)
	fmt.Printf("Elapsed   %s\n", runner.FormatElapsed(run.Elapsed))

	if len(run.Outcomes) == 0 {
		return nil
	}
	fmt.Println()
	for _, o := range run.Outcomes {
		mark := "✔"
		if o.Status != history.RunStatusPassed {
			mark = "✘"
		}
		fmt.Printf("  %s %s › %s (%s)\n", mark, o.Suite, o.Name, runner.FormatElapsed(o.Elapsed))
	}
	return nil
}
