// Package report aggregates trial results per layout and renders them as a
// comparison table or as machine-readable records.
package report

import (
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/perfgo/falseshare/model"
)

// Metric aggregates the samples of one measurement.
type Metric struct {
	Samples  []float64 `json:"samples"`
	Mean     float64   `json:"mean"`
	Variance float64   `json:"variance"`
}

func newMetric(samples []float64) Metric {
	m := Metric{Samples: samples}
	if len(samples) == 0 {
		return m
	}
	data := stats.Float64Data(samples)
	m.Mean, _ = stats.Mean(data)
	if len(samples) > 1 {
		m.Variance, _ = stats.SampleVariance(data)
	}
	return m
}

// StdDev returns the sample standard deviation.
func (m Metric) StdDev() float64 {
	sd, err := stats.StandardDeviationSample(stats.Float64Data(m.Samples))
	if err != nil || len(m.Samples) < 2 {
		return 0
	}
	return sd
}

// FailureEntry is a failed trial as listed in the report.
type FailureEntry struct {
	Trial   int               `json:"trial"`
	Kind    model.FailureKind `json:"kind"`
	Message string            `json:"message"`
}

// Summary is the aggregate of all trials of one layout.
type Summary struct {
	Layout model.Layout `json:"layout"`
	// Number of trials, failed ones included
	Trials int `json:"trials"`
	// Elapsed wall-clock time of successful trials, in nanoseconds
	Elapsed Metric `json:"elapsed_ns"`
	// Hardware counters of successful trials
	Counters map[string]Metric `json:"counters,omitempty"`
	Failures []FailureEntry    `json:"failures,omitempty"`
	// Trials whose placement was recorded
	Placed int `json:"placed"`
	// Trials placed the way their layout is expected to place them
	PlacedAsExpected int `json:"placed_as_expected"`
}

// Succeeded returns the number of trials without a failure entry.
func (s Summary) Succeeded() int {
	return s.Trials - len(s.Failures)
}

// MeanElapsed returns the mean elapsed time as a duration.
func (s Summary) MeanElapsed() time.Duration {
	return time.Duration(s.Elapsed.Mean)
}

// Summarize computes one summary per layout, in model.AllLayouts order. The
// input is not modified.
func Summarize(results map[model.Layout][]model.TrialResult) []Summary {
	layouts := make([]model.Layout, 0, len(results))
	for l := range results {
		layouts = append(layouts, l)
	}
	sort.Slice(layouts, func(i, j int) bool { return layouts[i] < layouts[j] })

	summaries := make([]Summary, 0, len(layouts))
	for _, l := range layouts {
		summaries = append(summaries, summarize(l, results[l]))
	}
	return summaries
}

func summarize(layout model.Layout, trials []model.TrialResult) Summary {
	s := Summary{Layout: layout, Trials: len(trials)}

	var elapsed []float64
	counters := make(map[string][]float64)
	for _, t := range trials {
		if t.Placement != nil {
			s.Placed++
			if t.Placement.AsExpected {
				s.PlacedAsExpected++
			}
		}
		if t.Failure != nil {
			s.Failures = append(s.Failures, FailureEntry{
				Trial:   t.Trial,
				Kind:    t.Failure.Kind,
				Message: t.Failure.Message,
			})
			continue
		}
		elapsed = append(elapsed, float64(t.Elapsed.Nanoseconds()))
		for name, v := range t.Counters {
			counters[name] = append(counters[name], float64(v))
		}
	}

	s.Elapsed = newMetric(elapsed)
	if len(counters) > 0 {
		s.Counters = make(map[string]Metric, len(counters))
		for name, samples := range counters {
			s.Counters[name] = newMetric(samples)
		}
	}
	return s
}

// HasCounters reports whether any summary carries hardware counters.
func HasCounters(summaries []Summary) bool {
	for _, s := range summaries {
		if len(s.Counters) > 0 {
			return true
		}
	}
	return false
}

func find(summaries []Summary, l model.Layout) (Summary, bool) {
	for _, s := range summaries {
		if s.Layout == l {
			return s, true
		}
	}
	return Summary{}, false
}
