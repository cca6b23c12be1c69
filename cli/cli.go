package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gops/agent"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "falseshare"

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Measure false sharing between a reference count and its payload",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:    "verbose",
					Usage:   "Enable verbose (debug) logging",
					EnvVars: envVar("VERBOSE"),
				},
				&cli.BoolFlag{
					Name:    "gops",
					Usage:   "Start a gops agent for live diagnostics of long runs",
					EnvVars: envVar("GOPS"),
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				if ctx.Bool("gops") {
					if err := agent.Listen(agent.Options{}); err != nil {
						return fmt.Errorf("failed to start gops agent: %w", err)
					}
				}
				return nil
			},
			After: func(ctx *cli.Context) error {
				if ctx.Bool("gops") {
					agent.Close()
				}
				return nil
			},
			// Exit codes are handled by main
			ExitErrHandler: func(*cli.Context, error) {},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "run",
		Usage:  "Run the benchmark for one or both counter layouts",
		Action: app.run,
		Flags:  runFlags(),
		Description: `Allocate a reference-counted counter, drive one writer and N readers
against it and report elapsed time and hardware cache counters per layout.

Layouts:
  split       reference count and payload in separate, padded allocations
  combined    reference count and payload in one allocation

Exit codes:
  0  success
  1  invalid usage or unexpected error
  2  counter allocation failed
  3  at least one trial timed out
  4  a worker thread failed`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list",
		Usage:  "List previous runs",
		Action: app.list,
		Flags: []cli.Flag{
			HistoryDirFlag(),
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:            "view",
		Usage:           "View the report of a previous run",
		ArgsUsage:       "[--format FORMAT] [--history-dir DIR] [ID|INDEX] [-- pprof args]",
		Action:          app.view,
		SkipFlagParsing: true,
		Description: `View the report of a previous run.

Options (parsed before the ID):
  --format, -f     table, markdown, json or pprof (env FALSESHARE_FORMAT)
  --history-dir    history directory (env FALSESHARE_HISTORY_DIR)

Arguments:
  0           View last run (default)
  -1          View 2nd last run
  -2          View 3rd last run
  <hex-id>    View run matching the hex ID prefix

Any further arguments open the run in go tool pprof.

Examples:
  falseshare view                 # Report of the last run
  falseshare view -1              # Report of the 2nd last run
  falseshare view --format json   # Last run as JSON
  falseshare view 0 -- -top       # Compare layouts in pprof`,
	})
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && len(commit) >= 8 {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}

// ExitCode returns the process exit code for an error returned by Run.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return exitFailure
}
