package perf

// c2c.go contains utilities for building perf c2c commands that reproduce a
// benchmark run under cache-to-cache contention analysis.

import (
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// C2COptions contains options for perf c2c record command.
type C2COptions struct {
	OutputPath string   // Output file path (default: perf.data)
	AllUser    bool     // Only sample user-space accesses (--all-user)
	Binary     string   // Binary to execute
	Args       []string // Arguments for the binary
}

// C2CReportOptions contains options for perf c2c report command.
type C2CReportOptions struct {
	InputPath string // Input perf.data file path
}

// BuildC2CRecordArgs builds perf c2c record command arguments.
func BuildC2CRecordArgs(opts C2COptions) []string {
	args := []string{"c2c", "record"}

	if opts.AllUser {
		args = append(args, "--all-user")
	}

	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = "perf.data"
	}
	args = append(args, "-o", outputPath)

	if opts.Binary != "" {
		args = append(args, "--", opts.Binary)
		args = append(args, opts.Args...)
	}

	return args
}

// BuildC2CReportArgs builds perf c2c report command arguments, grouped by
// process and instruction address so the reference count and payload lines
// show up next to each other.
func BuildC2CReportArgs(opts C2CReportOptions) []string {
	args := []string{"c2c", "report", "--stdio", "-c", "pid,iaddr", "--full-symbols", "-d", "lcl"}

	if opts.InputPath != "" {
		args = append(args, "-i", opts.InputPath)
	}

	return args
}

// BuildC2CRecordCommand joins BuildC2CRecordArgs into a shell-safe command.
func BuildC2CRecordCommand(opts C2COptions) string {
	return quoteCommand(BuildC2CRecordArgs(opts))
}

// BuildC2CReportCommand joins BuildC2CReportArgs into a shell-safe command.
func BuildC2CReportCommand(opts C2CReportOptions) string {
	return quoteCommand(BuildC2CReportArgs(opts))
}

func quoteCommand(args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, "perf")

	for _, arg := range args {
		parts = append(parts, shellescape.Quote(arg))
	}

	return strings.Join(parts, " ")
}
