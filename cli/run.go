package cli

// This file contains the run command: it measures the requested layouts,
// renders the report and records the run in the history directory.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"time"

	"github.com/perfgo/falseshare/harness"
	"github.com/perfgo/falseshare/history"
	"github.com/perfgo/falseshare/measure"
	"github.com/perfgo/falseshare/model"
	"github.com/perfgo/falseshare/perf"
	"github.com/perfgo/falseshare/report"
	"github.com/perfgo/falseshare/shared"
	"github.com/perfgo/falseshare/workload"
	"github.com/urfave/cli/v2"
)

const (
	exitFailure    = 1
	exitAllocation = 2
	exitTimeout    = 3
	exitJoin       = 4
)

func (a *App) run(ctx *cli.Context) error {
	startTime := time.Now()

	cfg, layouts, err := configFromFlags(ctx)
	if err != nil {
		return err
	}
	format, err := report.ParseFormat(ctx.String("format"))
	if err != nil {
		return err
	}
	source, err := a.counterSource(ctx.String("counters"))
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt)
	defer stop()

	collector := measure.NewCollector(a.logger, source, cfg.Timeout)
	res, runErr := harness.New(a.logger, collector).Run(runCtx, cfg, layouts)
	if res == nil {
		return runErr
	}

	exitCode, exitErr := exitStatus(runErr, res)

	if len(res.All()) > 0 {
		if err := a.writeReport(ctx, res, format); err != nil {
			return err
		}
	}

	if !ctx.Bool("no-history") {
		h := &model.History{
			Timestamp:  startTime,
			Args:       os.Args,
			ExitCode:   exitCode,
			Duration:   time.Since(startTime),
			Target:     currentTarget(),
			Config:     cfg,
			Layouts:    layouts,
			TimingOnly: res.TimingOnly,
			Results:    res.All(),
		}
		if err := a.recordRun(ctx.String("history-dir"), h); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to record run")
		}
	}

	if exitCode == 0 {
		a.logHints(cfg, layouts, res.TimingOnly)
	}

	return exitErr
}

// logHints prints perf(1) commands reproducing the run from outside the
// process.
func (a *App) logHints(cfg model.TrialConfig, layouts []model.Layout, timingOnly bool) {
	if timingOnly {
		a.logger.Info().
			Str("command", perf.BuildStatCommand(statHint(cfg, os.Args))).
			Msg("Hardware counters were unavailable in-process, try perf stat with elevated privileges")
	}
	if slices.Contains(layouts, model.LayoutCombined) {
		a.logger.Info().
			Str("record", perf.BuildC2CRecordCommand(perf.C2COptions{AllUser: true, Binary: os.Args[0], Args: os.Args[1:]})).
			Str("report", perf.BuildC2CReportCommand(perf.C2CReportOptions{})).
			Msg("Inspect the contended cache lines with perf c2c")
	}
}

// statHint repeats the run under perf stat. perf does the repeating, so each
// invocation of the binary measures a single trial.
func statHint(cfg model.TrialConfig, args []string) perf.StatOptions {
	return perf.StatOptions{
		Events:  model.CounterNames,
		Repeats: int(cfg.Repeats),
		Detail:  true,
		Binary:  args[0],
		Args:    slices.Concat(args[1:], []string{"--repeats", "1", "--counters", "off", "--no-history"}),
	}
}

func (a *App) counterSource(mode string) (measure.CounterSource, error) {
	switch mode {
	case "auto":
		return perf.NewSource(a.logger), nil
	case "off":
		a.logger.Info().Msg("Hardware counters disabled, measuring timing only")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown counters mode %q (expected auto or off)", mode)
	}
}

func (a *App) writeReport(ctx *cli.Context, res *harness.Result, format report.Format) error {
	var out io.Writer = ctx.App.Writer
	path := ctx.String("output")
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := report.Render(out, res.Results, report.Options{Format: format, TimingOnly: res.TimingOnly}); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	if path != "" {
		a.logger.Info().Str("path", path).Str("format", string(format)).Msg("Report written")
	}
	return nil
}

func (a *App) recordRun(root string, h *model.History) error {
	if root == "" {
		var err error
		if root, err = history.DefaultRoot(); err != nil {
			return err
		}
	}

	id, err := history.NewID()
	if err != nil {
		return err
	}
	h.ID = id

	if wd, err := os.Getwd(); err == nil {
		h.WorkDir = wd
	}
	if git, err := a.gitInfo(); err != nil {
		a.logger.Debug().Err(err).Msg("Failed to get git info")
	} else {
		h.Git = git
	}

	runDir, err := history.Record(root, h)
	if err != nil {
		return err
	}
	a.logger.Info().Str("id", h.ID[:8]).Str("path", runDir).Msg("Recorded run")
	return nil
}

func currentTarget() *model.Target {
	return &model.Target{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		NumCPU:        runtime.NumCPU(),
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		CacheLineSize: shared.CacheLineSize,
	}
}

// exitStatus maps the outcome of a run to its exit code and the error
// returned to main.
func exitStatus(runErr error, res *harness.Result) (int, error) {
	switch {
	case runErr == nil:
		var timedOut int
		for _, t := range res.Failures() {
			if t.Failure.Kind == model.FailureTimeout {
				timedOut++
			}
		}
		if timedOut > 0 {
			return exitTimeout, cli.Exit(fmt.Sprintf("%d trials timed out", timedOut), exitTimeout)
		}
		return 0, nil
	case errors.Is(runErr, shared.ErrAllocation), errors.Is(runErr, shared.ErrUnknownLayout):
		return exitAllocation, cli.Exit(runErr, exitAllocation)
	case errors.Is(runErr, workload.ErrTrialTimeout), errors.Is(runErr, context.DeadlineExceeded):
		return exitTimeout, cli.Exit(runErr, exitTimeout)
	case errors.Is(runErr, workload.ErrWorkerFault):
		return exitJoin, cli.Exit(runErr, exitJoin)
	default:
		return exitFailure, cli.Exit(runErr, exitFailure)
	}
}
