package cli

// This file contains the list command for displaying previous runs.

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

func (a *App) list(ctx *cli.Context) error {
	limit := ctx.Int("limit")
	w := ctx.App.Writer

	root, entries, err := a.loadHistory(ctx.String("history-dir"))
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No history entries found")
		fmt.Fprintf(w, "Runs are saved to %s/history/<timestamp>-<id>/\n", root)
		return nil
	}

	// Apply limit
	displayRuns := entries
	if limit > 0 && limit < len(displayRuns) {
		displayRuns = displayRuns[:limit]
	}

	fmt.Fprintf(w, "\n=== History (%d total) ===\n\n", len(entries))

	for _, entry := range displayRuns {
		h := entry.History
		timestamp := h.Timestamp.Format("2006-01-02 15:04:05")
		duration := h.Duration.Round(time.Millisecond)

		// Determine status indicator
		status := "✓"
		if h.ExitCode != 0 {
			status = "✗"
		}

		// Show short ID (first 8 chars)
		shortID := h.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}

		fmt.Fprintf(w, "%s  %s  [%s]  exit=%d  id=%s\n", status, timestamp, duration, h.ExitCode, shortID)

		layouts := make([]string, 0, len(h.Layouts))
		for _, l := range h.Layouts {
			layouts = append(layouts, l.String())
		}
		fmt.Fprintf(w, "   Config: layouts=%s readers=%d iterations=%d repeats=%d\n",
			strings.Join(layouts, ","), h.Config.Readers, h.Config.Iterations, h.Config.Repeats)
		if h.TimingOnly {
			fmt.Fprintln(w, "   Counters: unavailable (timing-only)")
		}
		if h.Target != nil && h.Target.OS != "" && h.Target.Arch != "" {
			fmt.Fprintf(w, "   Local: %s/%s, %d CPUs\n", h.Target.OS, h.Target.Arch, h.Target.NumCPU)
		}
		if h.Git != nil && h.Git.Commit != "" {
			shortCommit := h.Git.Commit
			if len(shortCommit) > 8 {
				shortCommit = shortCommit[:8]
			}
			fmt.Fprintf(w, "   Commit: %s", shortCommit)
			if h.Git.Branch != "" {
				fmt.Fprintf(w, " (%s)", h.Git.Branch)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "   %s\n", entry.FullPath)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "View a report: %s view <ID>\n", AppName)

	return nil
}
