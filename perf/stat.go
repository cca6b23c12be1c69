package perf

// stat.go contains utilities for building perf stat commands that measure a
// benchmark run from outside the process.

import (
	"strconv"
	"strings"
)

// StatOptions contains options for perf stat command.
type StatOptions struct {
	Events  []string // Events to measure
	Repeats int      // Repeat the command and print averages (-r)
	Detail  bool     // Add detailed statistics (-d flag)
	Binary  string   // Binary to execute
	Args    []string // Arguments for the binary
}

// BuildStatArgs builds perf stat command arguments.
func BuildStatArgs(opts StatOptions) []string {
	args := []string{"stat"}

	if opts.Detail {
		args = append(args, "-d")
	}

	if len(opts.Events) > 0 {
		events := make([]string, 0, len(opts.Events))
		for _, event := range opts.Events {
			events = append(events, strings.TrimSpace(event))
		}
		args = append(args, "-e", strings.Join(events, ","))
	}

	if opts.Repeats > 1 {
		args = append(args, "-r", strconv.Itoa(opts.Repeats))
	}

	if opts.Binary != "" {
		args = append(args, "--", opts.Binary)
		args = append(args, opts.Args...)
	}

	return args
}

// BuildStatCommand joins BuildStatArgs into a shell-safe command.
func BuildStatCommand(opts StatOptions) string {
	return quoteCommand(BuildStatArgs(opts))
}
