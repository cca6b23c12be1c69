package model

import "time"

// History represents a single recorded falseshare run.
type History struct {
	// Unique ID for this run (16 random bytes, hex encoded)
	ID string `json:"id"`
	// Timestamp when the run started
	Timestamp time.Time `json:"timestamp"`
	// Command-line arguments (including command name)
	Args []string `json:"args"`
	// Working directory where the command was run
	WorkDir string `json:"workdir"`
	// Exit code of the run
	ExitCode int `json:"exit_code"`
	// Duration of the whole run
	Duration time.Duration `json:"duration"`
	// Git information
	Git *Git `json:"git,omitempty"`
	// Execution environment
	Target *Target `json:"target,omitempty"`
	// Configuration shared by all arms, Layout holds the first arm
	Config TrialConfig `json:"config"`
	// Layouts that were measured
	Layouts []Layout `json:"layouts"`
	// Whether hardware counters were unavailable for the run
	TimingOnly bool `json:"timing_only"`
	// Every trial of every layout
	Results []TrialResult `json:"results"`
}

// Git contains git repository information
type Git struct {
	// Git commit hash at time of execution
	Commit string `json:"commit,omitempty"`
	// Git branch at time of execution
	Branch string `json:"branch,omitempty"`
}

// Target contains information about the execution environment
type Target struct {
	// Operating system of the execution environment
	OS string `json:"os,omitempty"`
	// CPU architecture of the execution environment
	Arch string `json:"arch,omitempty"`
	// Logical CPUs visible to the process
	NumCPU int `json:"num_cpu,omitempty"`
	// GOMAXPROCS at the time of the run
	GOMAXPROCS int `json:"gomaxprocs,omitempty"`
	// Cache line size the placement checks used
	CacheLineSize uint64 `json:"cache_line_size,omitempty"`
}
