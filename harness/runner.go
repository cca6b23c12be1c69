// Package harness runs the benchmark arms. For every requested layout it
// allocates counters, drives the workload against them and lets the
// collector time each repeat.
package harness

import (
	"context"
	"fmt"

	"github.com/perfgo/falseshare/measure"
	"github.com/perfgo/falseshare/model"
	"github.com/perfgo/falseshare/shared"
	"github.com/perfgo/falseshare/workload"
	"github.com/rs/zerolog"
)

// Result holds the raw trials of a run.
type Result struct {
	// Trials per layout, in execution order
	Results map[model.Layout][]model.TrialResult
	// Set when hardware counters were unavailable for any trial
	TimingOnly bool
}

// All returns every trial ordered by layout, then by trial index.
func (r *Result) All() []model.TrialResult {
	var all []model.TrialResult
	for _, l := range model.AllLayouts {
		all = append(all, r.Results[l]...)
	}
	return all
}

// Failures returns the trials that carry a failure entry.
func (r *Result) Failures() []model.TrialResult {
	var failed []model.TrialResult
	for _, t := range r.All() {
		if t.Failed() {
			failed = append(failed, t)
		}
	}
	return failed
}

// Runner executes benchmark arms through a collector.
type Runner struct {
	logger    zerolog.Logger
	collector *measure.Collector
}

// New returns a runner measuring with collector.
func New(logger zerolog.Logger, collector *measure.Collector) *Runner {
	return &Runner{logger: logger, collector: collector}
}

// Run measures cfg once per layout, in the given order. On a fatal trial
// failure the results gathered so far are returned together with the error.
func (r *Runner) Run(ctx context.Context, cfg model.TrialConfig, layouts []model.Layout) (*Result, error) {
	if len(layouts) == 0 {
		layouts = []model.Layout{cfg.Layout}
	}
	for _, l := range layouts {
		if err := cfg.WithLayout(l).Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration for %s layout: %w", l, err)
		}
	}

	res := &Result{Results: make(map[model.Layout][]model.TrialResult, len(layouts))}
	var runErr error
	for _, l := range layouts {
		armCfg := cfg.WithLayout(l)
		r.logger.Info().
			Stringer("layout", l).
			Int("readers", armCfg.Readers).
			Uint64("iterations", armCfg.Iterations).
			Uint32("repeats", armCfg.Repeats).
			Msg("Measuring layout")

		results, err := r.runArm(ctx, armCfg)
		res.Results[l] = results
		if err != nil {
			runErr = fmt.Errorf("%s layout: %w", l, err)
			break
		}
	}

	res.TimingOnly = r.collector.TimingOnly()
	if res.TimingOnly {
		stripCounters(res.Results)
	}
	return res, runErr
}

func (r *Runner) runArm(ctx context.Context, cfg model.TrialConfig) ([]model.TrialResult, error) {
	a := &arm{logger: r.logger, cfg: cfg}
	if cfg.ReuseCounter {
		h, err := shared.Allocate(cfg.Layout, cfg.InitialValue)
		if err != nil {
			return []model.TrialResult{{
				Layout:  cfg.Layout,
				Failure: &model.Failure{Kind: model.FailureAllocation, Message: err.Error()},
			}}, err
		}
		a.reused = h
		defer func() {
			if _, err := h.Release(); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to release shared counter")
			}
		}()
	}
	return r.collector.Measure(ctx, cfg.Layout, cfg.Repeats, a.trial)
}

// stripCounters removes counters from every trial so a run never mixes
// counter-backed and timing-only trials.
func stripCounters(results map[model.Layout][]model.TrialResult) {
	for _, trials := range results {
		for i := range trials {
			trials[i].Counters = nil
		}
	}
}

// arm is one layout of a run.
type arm struct {
	logger zerolog.Logger
	cfg    model.TrialConfig
	// set when all repeats share one counter
	reused *shared.Handle
}

func (a *arm) trial(ctx context.Context, probe workload.Probe) (measure.Outcome, error) {
	h := a.reused
	if h == nil {
		var err error
		h, err = shared.Allocate(a.cfg.Layout, a.cfg.InitialValue)
		if err != nil {
			return measure.Outcome{}, err
		}
	}

	placement := h.Placement()
	if !placement.AsExpected {
		a.logger.Debug().
			Stringer("layout", a.cfg.Layout).
			Int64("distance", placement.Distance).
			Bool("same_line", placement.SameLine).
			Msg("Counter placement differs from layout")
	}
	outcome := measure.Outcome{Placement: &placement}

	var startRefs int64
	d := workload.Driver{
		Logger:  a.logger,
		Probe:   probe,
		OnStart: func(refs int64) { startRefs = refs },
	}
	before := h.Value()
	sink, err := d.Run(ctx, h, a.cfg)
	outcome.Sink = sink.Value()

	if err == nil {
		err = a.verify(h, before, startRefs)
	}
	if a.reused == nil {
		last, rerr := h.Release()
		if err == nil && rerr != nil {
			err = fmt.Errorf("%w: failed to release counter: %v", workload.ErrWorkerFault, rerr)
		} else if err == nil && !last {
			err = fmt.Errorf("%w: counter still referenced after join", workload.ErrWorkerFault)
		}
	}
	return outcome, err
}

func (a *arm) verify(h *shared.Handle, before uint64, startRefs int64) error {
	if want := int64(a.cfg.Readers) + 1; startRefs != want {
		return fmt.Errorf("%w: reference count at start was %d, expected %d", workload.ErrWorkerFault, startRefs, want)
	}
	if want := before + a.cfg.Iterations; h.Value() != want {
		return fmt.Errorf("%w: payload is %d after run, expected %d", workload.ErrWorkerFault, h.Value(), want)
	}
	if refs := h.RefCount(); refs != 1 {
		return fmt.Errorf("%w: reference count after join is %d", workload.ErrWorkerFault, refs)
	}
	return nil
}
