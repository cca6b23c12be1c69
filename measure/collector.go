// Package measure brackets benchmark trials with a wall clock and, where the
// host allows it, hardware performance counters. It returns the raw per-trial
// results; aggregation is left to the report.
package measure

import (
	"context"
	"errors"
	"time"

	"github.com/perfgo/falseshare/model"
	"github.com/perfgo/falseshare/perf"
	"github.com/perfgo/falseshare/shared"
	"github.com/perfgo/falseshare/workload"
	"github.com/rs/zerolog"
)

// CounterSource starts hardware counter sessions.
type CounterSource interface {
	Check() error
	Start() (perf.Sampling, error)
}

// Outcome is what a trial reports besides its timing.
type Outcome struct {
	Sink      uint64
	Placement *model.Placement
}

// Trial runs one repeat of a workload. probe is nil for timing-only trials,
// otherwise it must be entered on every worker thread.
type Trial func(ctx context.Context, probe workload.Probe) (Outcome, error)

// Collector runs trials and records their results.
type Collector struct {
	logger     zerolog.Logger
	source     CounterSource
	timeout    time.Duration
	timingOnly bool
}

// NewCollector returns a collector sampling counters from source. A nil
// source, or one that fails its check, makes every trial timing-only. A
// positive timeout bounds every single trial.
func NewCollector(logger zerolog.Logger, source CounterSource, timeout time.Duration) *Collector {
	c := &Collector{
		logger:  logger,
		source:  source,
		timeout: timeout,
	}
	if source == nil {
		c.timingOnly = true
	} else if err := source.Check(); err != nil {
		c.disableCounters(err)
	}
	return c
}

// TimingOnly reports whether counters were unavailable for at least one
// trial, in which case no trial of the run carries counters.
func (c *Collector) TimingOnly() bool {
	return c.timingOnly
}

func (c *Collector) disableCounters(err error) {
	if c.timingOnly {
		return
	}
	c.timingOnly = true
	c.logger.Warn().Err(err).Msg("Hardware counters unavailable, falling back to timing only")
}

// Measure runs trial repeats times for layout. Timed-out trials are recorded
// and skipped. Any other failure, including cancellation of ctx, is recorded
// and stops the sequence; the results gathered so far are returned with the
// error.
func (c *Collector) Measure(ctx context.Context, layout model.Layout, repeats uint32, trial Trial) ([]model.TrialResult, error) {
	results := make([]model.TrialResult, 0, repeats)
	for i := 0; i < int(repeats); i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, err := c.runTrial(ctx, layout, i, trial)
		results = append(results, result)

		logEvent := c.logger.Debug()
		if err != nil {
			logEvent = c.logger.Warn().Err(err)
		}
		logEvent.
			Stringer("layout", layout).
			Int("trial", i).
			Dur("elapsed", result.Elapsed).
			Msg("Trial finished")

		if err != nil {
			if errors.Is(err, workload.ErrTrialTimeout) && ctx.Err() == nil {
				continue
			}
			return results, err
		}
	}
	return results, nil
}

func (c *Collector) runTrial(ctx context.Context, layout model.Layout, index int, trial Trial) (model.TrialResult, error) {
	result := model.TrialResult{Layout: layout, Trial: index}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var (
		sampling perf.Sampling
		probe    workload.Probe
	)
	if !c.timingOnly {
		s, err := c.source.Start()
		if err != nil {
			c.disableCounters(err)
		} else {
			sampling = s
			probe = s
		}
	}

	start := time.Now()
	outcome, err := trial(ctx, probe)
	result.Elapsed = time.Since(start)
	result.Sink = outcome.Sink
	result.Placement = outcome.Placement

	if sampling != nil {
		counts, serr := sampling.Stop()
		if serr != nil {
			c.disableCounters(serr)
		} else if err == nil && !c.timingOnly {
			result.Counters = counts
		}
	}

	if err != nil {
		result.Failure = &model.Failure{Kind: Classify(err), Message: err.Error()}
		return result, err
	}
	return result, nil
}

// Classify maps a trial error to its failure kind.
func Classify(err error) model.FailureKind {
	switch {
	case errors.Is(err, shared.ErrAllocation), errors.Is(err, shared.ErrUnknownLayout):
		return model.FailureAllocation
	case errors.Is(err, workload.ErrTrialTimeout), errors.Is(err, context.DeadlineExceeded):
		return model.FailureTimeout
	case errors.Is(err, context.Canceled):
		return model.FailureCancelled
	default:
		return model.FailureJoin
	}
}
