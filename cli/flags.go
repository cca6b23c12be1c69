package cli

// flags.go contains the flags of the run command and folds them into a
// trial configuration.

import (
	"fmt"
	"math"
	"time"

	"github.com/perfgo/falseshare/model"
	"github.com/urfave/cli/v2"
)

const envPrefix = "FALSESHARE_"

func envVar(name string) []string {
	return []string{envPrefix + name}
}

// ReadersFlag returns the reader thread count flag.
func ReadersFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    "readers",
		Aliases: []string{"r"},
		Usage:   "Number of reader threads inspecting the reference count",
		Value:   4,
		EnvVars: envVar("READERS"),
	}
}

// IterationsFlag returns the iteration count flag.
func IterationsFlag() cli.Flag {
	return &cli.Uint64Flag{
		Name:    "iterations",
		Aliases: []string{"i"},
		Usage:   "Iterations performed by the writer and by every reader",
		Value:   10_000_000,
		EnvVars: envVar("ITERATIONS"),
	}
}

// LayoutFlag returns the layout selection flag.
func LayoutFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "layout",
		Aliases: []string{"l"},
		Usage:   "Counter layout to measure: split, combined or both",
		Value:   "both",
		EnvVars: envVar("LAYOUT"),
	}
}

// RepeatsFlag returns the trial repeat flag.
func RepeatsFlag() cli.Flag {
	return &cli.UintFlag{
		Name:    "repeats",
		Aliases: []string{"n"},
		Usage:   "Number of trials per layout",
		Value:   5,
		EnvVars: envVar("REPEATS"),
	}
}

// InitialFlag returns the initial payload value flag.
func InitialFlag() cli.Flag {
	return &cli.Uint64Flag{
		Name:    "initial",
		Usage:   "Initial payload value of the counter",
		EnvVars: envVar("INITIAL"),
	}
}

// TimeoutFlag returns the per-trial timeout flag.
func TimeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:    "timeout",
		Usage:   "Timeout of a single trial, 0 disables it",
		Value:   time.Minute,
		EnvVars: envVar("TIMEOUT"),
	}
}

// CountersFlag returns the hardware counter mode flag.
func CountersFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "counters",
		Usage:   "Hardware counters: auto (use when available) or off",
		Value:   "auto",
		EnvVars: envVar("COUNTERS"),
	}
}

// PinFlag returns the thread pinning flag.
func PinFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "pin",
		Usage:   "Pin every worker thread to its own CPU",
		EnvVars: envVar("PIN"),
	}
}

// ReuseCounterFlag returns the counter reuse flag.
func ReuseCounterFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "reuse-counter",
		Usage:   "Share one counter across all trials of a layout instead of allocating per trial",
		EnvVars: envVar("REUSE_COUNTER"),
	}
}

// FormatFlag returns the report format flag.
func FormatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Report format: table, markdown, json or pprof",
		Value:   "table",
		EnvVars: envVar("FORMAT"),
	}
}

// OutputFlag returns the report output path flag.
func OutputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Write the report to this file instead of stdout",
		EnvVars: envVar("OUTPUT"),
	}
}

// HistoryDirFlag returns the history directory flag.
func HistoryDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "history-dir",
		Usage:   "Directory for run history (default: .falseshare at the git root)",
		EnvVars: envVar("HISTORY_DIR"),
	}
}

// NoHistoryFlag returns the flag disabling history recording.
func NoHistoryFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "no-history",
		Usage:   "Do not record the run in the history directory",
		EnvVars: envVar("NO_HISTORY"),
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		ReadersFlag(),
		IterationsFlag(),
		LayoutFlag(),
		RepeatsFlag(),
		InitialFlag(),
		TimeoutFlag(),
		CountersFlag(),
		PinFlag(),
		ReuseCounterFlag(),
		FormatFlag(),
		OutputFlag(),
		HistoryDirFlag(),
		NoHistoryFlag(),
	}
}

// configFromFlags folds the run flags into a validated configuration and the
// layouts to measure.
func configFromFlags(ctx *cli.Context) (model.TrialConfig, []model.Layout, error) {
	layouts, err := model.ParseLayouts(ctx.String("layout"))
	if err != nil {
		return model.TrialConfig{}, nil, err
	}

	repeats := ctx.Uint("repeats")
	if uint64(repeats) > math.MaxUint32 {
		return model.TrialConfig{}, nil, fmt.Errorf("invalid configuration: trial repeats %d exceeds %d", repeats, uint64(math.MaxUint32))
	}

	cfg := model.TrialConfig{
		Readers:      ctx.Int("readers"),
		Iterations:   ctx.Uint64("iterations"),
		Layout:       layouts[0],
		Repeats:      uint32(repeats),
		InitialValue: ctx.Uint64("initial"),
		Timeout:      ctx.Duration("timeout"),
		ReuseCounter: ctx.Bool("reuse-counter"),
		PinThreads:   ctx.Bool("pin"),
	}
	if err := cfg.Validate(); err != nil {
		return model.TrialConfig{}, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, layouts, nil
}
