package model

import (
	"errors"
	"time"
)

// Hardware counter names, spelled the way perf(1) spells them.
const (
	CounterCycles             = "cycles"
	CounterInstructions       = "instructions"
	CounterL1DCacheLoadMisses = "L1-dcache-load-misses"
	CounterLLCLoads           = "LLC-loads"
	CounterLLCLoadMisses      = "LLC-load-misses"
)

// CounterNames lists the sampled counters in report order.
var CounterNames = []string{
	CounterCycles,
	CounterInstructions,
	CounterL1DCacheLoadMisses,
	CounterLLCLoads,
	CounterLLCLoadMisses,
}

// TrialConfig is the immutable configuration of one benchmark arm.
type TrialConfig struct {
	// Number of reader threads inspecting the reference count
	Readers int `json:"readers"`
	// Iterations performed by every reader and by the writer
	Iterations uint64 `json:"iterations"`
	// Memory layout of the shared counter
	Layout Layout `json:"layout"`
	// Number of repeated trials
	Repeats uint32 `json:"repeats"`
	// Payload value the counter is created with
	InitialValue uint64 `json:"initial_value"`
	// Per-trial timeout, zero disables it
	Timeout time.Duration `json:"timeout,omitempty"`
	// Share one counter across all repeats instead of re-allocating
	ReuseCounter bool `json:"reuse_counter,omitempty"`
	// Pin every worker thread to its own CPU
	PinThreads bool `json:"pin_threads,omitempty"`
}

// Validate checks the configuration for values the harness cannot run.
func (c TrialConfig) Validate() error {
	var errs []error
	if c.Readers < 0 {
		errs = append(errs, errors.New("reader count must not be negative"))
	}
	if c.Iterations == 0 {
		errs = append(errs, errors.New("iteration count must be at least 1"))
	}
	if c.Repeats == 0 {
		errs = append(errs, errors.New("trial repeats must be at least 1"))
	}
	if !c.Layout.Valid() {
		errs = append(errs, errors.New("unknown layout"))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// WithLayout returns a copy of c using layout l.
func (c TrialConfig) WithLayout(l Layout) TrialConfig {
	c.Layout = l
	return c
}

// FailureKind classifies a failed trial.
type FailureKind string

const (
	FailureAllocation FailureKind = "allocation_failure"
	FailureTimeout    FailureKind = "trial_timeout"
	FailureJoin       FailureKind = "join_failure"
	FailureCancelled  FailureKind = "cancelled"
)

// Failure is an explicit failure entry for one trial.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Placement records where the reference count and the payload of a counter
// ended up in memory.
type Placement struct {
	RefAddr   uint64 `json:"ref_addr"`
	ValueAddr uint64 `json:"value_addr"`
	// Signed byte distance from the reference count to the payload
	Distance int64 `json:"distance"`
	// Cache line size used for the comparison
	LineSize uint64 `json:"line_size"`
	// Whether both words lie on the same cache line
	SameLine bool `json:"same_line"`
	// Whether SameLine matches what the layout is expected to produce
	AsExpected bool `json:"as_expected"`
}

// TrialResult is the outcome of one trial. It is never modified after the
// collector produced it.
type TrialResult struct {
	Layout Layout `json:"layout"`
	// Zero-based index of the trial within its layout
	Trial int `json:"trial"`
	// Wall-clock duration of the trial
	Elapsed time.Duration `json:"elapsed"`
	// Hardware counters, absent when the run is timing-only
	Counters map[string]uint64 `json:"counters,omitempty"`
	// Where the counter was placed, absent if allocation failed
	Placement *Placement `json:"placement,omitempty"`
	// Value folded from the workload so the loops stay observable
	Sink uint64 `json:"sink"`
	// Set when the trial did not produce a measurement
	Failure *Failure `json:"failure,omitempty"`
}

// Failed reports whether the trial carries a failure entry.
func (r TrialResult) Failed() bool {
	return r.Failure != nil
}

// GroupByLayout groups results by their layout tag, preserving order.
func GroupByLayout(results []TrialResult) map[Layout][]TrialResult {
	grouped := make(map[Layout][]TrialResult)
	for _, r := range results {
		grouped[r.Layout] = append(grouped[r.Layout], r)
	}
	return grouped
}
