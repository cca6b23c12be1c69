package cli

// This file contains the view command for displaying reports from history.

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/perfgo/falseshare/history"
	"github.com/perfgo/falseshare/model"
	"github.com/perfgo/falseshare/report"
	"github.com/urfave/cli/v2"
)

type viewOptions struct {
	format     report.Format
	historyDir string
}

// parseViewOptions consumes the leading --format and --history-dir options.
// Flag parsing is skipped for view so negative indexes are not mistaken for
// flags, which is why these are parsed by hand.
func parseViewOptions(in []string) (viewOptions, []string, error) {
	opts := viewOptions{
		format:     report.FormatTable,
		historyDir: os.Getenv(envPrefix + "HISTORY_DIR"),
	}
	format := os.Getenv(envPrefix + "FORMAT")

	for len(in) > 0 {
		name, value, hasValue := strings.Cut(in[0], "=")
		if name != "--format" && name != "-f" && name != "--history-dir" {
			break
		}
		if hasValue {
			in = in[1:]
		} else {
			if len(in) < 2 {
				return viewOptions{}, nil, fmt.Errorf("flag %s needs a value", name)
			}
			value = in[1]
			in = in[2:]
		}

		if name == "--history-dir" {
			opts.historyDir = value
		} else {
			format = value
		}
	}

	if format != "" {
		f, err := report.ParseFormat(format)
		if err != nil {
			return viewOptions{}, nil, err
		}
		opts.format = f
	}
	return opts, in, nil
}

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}

func parseViewArgs(in []string) (idArg string, pprofArgs []string) {
	if len(in) == 0 {
		return "0", nil
	}

	// If first arg is "--", use default "0" and rest are pprof args
	if in[0] == "--" {
		return "0", in[1:]
	}

	// Check if first arg looks like a pprof flag instead of an ID
	// A negative index is: "-" followed by only digits (e.g., "-1", "-2")
	// A pprof flag is: "-" followed by non-digit or equals (e.g., "-http=:8080", "-top")
	if len(in[0]) > 1 && in[0][0] == '-' {
		if _, err := strconv.ParseInt(in[0], 10, 64); err != nil {
			return "0", in
		}
	}

	// First arg is the ID/index, rest are pprof args (with optional "--" removed)
	return in[0], removeFirstDashDash(in[1:])
}

func (a *App) view(ctx *cli.Context) error {
	opts, rest, err := parseViewOptions(ctx.Args().Slice())
	if err != nil {
		return err
	}
	arg, pprofArgs := parseViewArgs(rest)

	_, entries, err := a.loadHistory(opts.historyDir)
	if err != nil {
		return err
	}

	entry, err := history.Find(entries, arg)
	if err != nil {
		return err
	}

	if len(pprofArgs) > 0 {
		return a.displayProfile(entry, pprofArgs)
	}
	return a.displayHistoryEntry(ctx.App.Writer, entry, opts.format)
}

func (a *App) displayHistoryEntry(w io.Writer, entry *history.Entry, format report.Format) error {
	h := entry.History
	results := model.GroupByLayout(h.Results)
	if len(results) == 0 {
		return fmt.Errorf("run %s recorded no trials", h.ID)
	}

	// Structured formats are written without a header
	if format == report.FormatTable || format == report.FormatMarkdown {
		shortID := h.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}
		fmt.Fprintf(w, "=== Run: %s ===\n", shortID)
		fmt.Fprintf(w, "Time: %s\n", h.Timestamp.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Duration: %s\n", h.Duration)
		fmt.Fprintf(w, "Exit Code: %d\n", h.ExitCode)
		fmt.Fprintf(w, "Config: readers=%d iterations=%d repeats=%d initial=%d\n",
			h.Config.Readers, h.Config.Iterations, h.Config.Repeats, h.Config.InitialValue)
		if h.Git != nil && len(h.Git.Commit) >= 8 {
			fmt.Fprintf(w, "Git Commit: %s", h.Git.Commit[:8])
			if h.Git.Branch != "" {
				fmt.Fprintf(w, " (%s)", h.Git.Branch)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}

	return report.Render(w, results, report.Options{Format: format, TimingOnly: h.TimingOnly})
}

// displayProfile opens the run in go tool pprof, writing its profile next to
// the record first if needed.
func (a *App) displayProfile(entry *history.Entry, pprofArgs []string) error {
	profilePath := filepath.Join(entry.FullPath, history.ProfileFileName)

	if _, err := os.Stat(profilePath); os.IsNotExist(err) {
		if err := writeProfile(profilePath, entry.History); err != nil {
			return err
		}
		a.logger.Debug().Str("path", profilePath).Msg("Wrote profile")
	}

	args := []string{"tool", "pprof"}
	args = append(args, pprofArgs...)
	args = append(args, profilePath)

	cmd := exec.Command("go", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = entry.FullPath

	return cmd.Run()
}

func writeProfile(path string, h model.History) error {
	doc := report.NewDocument(model.GroupByLayout(h.Results), h.TimingOnly)
	p, err := report.BuildProfile(doc)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	defer f.Close()

	if err := p.Write(f); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}
