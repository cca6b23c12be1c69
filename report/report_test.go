package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/pprof/profile"
	"github.com/perfgo/falseshare/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trial(layout model.Layout, i int, elapsed time.Duration, misses uint64) model.TrialResult {
	t := model.TrialResult{
		Layout:  layout,
		Trial:   i,
		Elapsed: elapsed,
		Placement: &model.Placement{
			SameLine:   layout == model.LayoutCombined,
			AsExpected: true,
		},
	}
	if misses > 0 {
		t.Counters = map[string]uint64{
			model.CounterCycles:             misses * 10,
			model.CounterL1DCacheLoadMisses: misses,
		}
	}
	return t
}

func sampleResults() map[model.Layout][]model.TrialResult {
	return map[model.Layout][]model.TrialResult{
		model.LayoutCombined: {
			trial(model.LayoutCombined, 0, 20*time.Millisecond, 3000),
			trial(model.LayoutCombined, 1, 22*time.Millisecond, 5000),
			trial(model.LayoutCombined, 2, 24*time.Millisecond, 4000),
		},
		model.LayoutSplit: {
			trial(model.LayoutSplit, 0, 10*time.Millisecond, 1000),
			trial(model.LayoutSplit, 1, 10*time.Millisecond, 1000),
			trial(model.LayoutSplit, 2, 10*time.Millisecond, 1000),
		},
	}
}

func TestSummarize(t *testing.T) {
	summaries := Summarize(sampleResults())
	require.Len(t, summaries, 2)

	split, combined := summaries[0], summaries[1]
	assert.Equal(t, model.LayoutSplit, split.Layout)
	assert.Equal(t, model.LayoutCombined, combined.Layout)

	assert.Len(t, combined.Elapsed.Samples, 3)
	assert.InDelta(t, float64(22*time.Millisecond), combined.Elapsed.Mean, 1)
	// sample variance of {20, 22, 24} ms is 4 ms²
	assert.InDelta(t, 4e12, combined.Elapsed.Variance, 1)
	assert.InDelta(t, 4000, combined.Counters[model.CounterL1DCacheLoadMisses].Mean, 1e-9)

	assert.Zero(t, split.Elapsed.Variance)
	assert.Equal(t, 3, split.Placed)
	assert.Equal(t, 3, split.PlacedAsExpected)
}

func TestSummarizeSingleSample(t *testing.T) {
	summaries := Summarize(map[model.Layout][]model.TrialResult{
		model.LayoutSplit: {trial(model.LayoutSplit, 0, time.Millisecond, 0)},
	})
	require.Len(t, summaries, 1)
	assert.Zero(t, summaries[0].Elapsed.Variance)
	assert.Zero(t, summaries[0].Elapsed.StdDev())
	assert.Nil(t, summaries[0].Counters)
}

func TestSummarizeFailures(t *testing.T) {
	failed := model.TrialResult{
		Layout:  model.LayoutCombined,
		Trial:   1,
		Elapsed: time.Hour,
		Failure: &model.Failure{Kind: model.FailureTimeout, Message: "trial timed out"},
	}
	results := map[model.Layout][]model.TrialResult{
		model.LayoutCombined: {
			trial(model.LayoutCombined, 0, 10*time.Millisecond, 0),
			failed,
			trial(model.LayoutCombined, 2, 10*time.Millisecond, 0),
		},
	}

	s := Summarize(results)[0]
	assert.Equal(t, 3, s.Trials)
	assert.Equal(t, 2, s.Succeeded())
	assert.Len(t, s.Elapsed.Samples, 2, "failed trials contribute no samples")
	assert.InDelta(t, float64(10*time.Millisecond), s.Elapsed.Mean, 1)
	require.Len(t, s.Failures, 1)
	assert.Equal(t, FailureEntry{Trial: 1, Kind: model.FailureTimeout, Message: "trial timed out"}, s.Failures[0])
}

func TestSummarizeAllFailed(t *testing.T) {
	results := map[model.Layout][]model.TrialResult{
		model.LayoutSplit: {{
			Layout:  model.LayoutSplit,
			Failure: &model.Failure{Kind: model.FailureAllocation, Message: "out of memory"},
		}},
	}
	s := Summarize(results)[0]
	assert.Empty(t, s.Elapsed.Samples)
	assert.Zero(t, s.Elapsed.Mean)
	assert.Zero(t, s.Placed)
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleResults(), Options{Format: FormatTable}))
	out := buf.String()

	assert.NotContains(t, out, "timing-only")
	assert.Contains(t, out, model.CounterL1DCacheLoadMisses)
	assert.Contains(t, out, "combined/split elapsed: 2.20x")
	assert.Contains(t, out, "combined/split L1-dcache-load-misses: 4.00x")
	assert.Contains(t, out, "3/3 as expected")

	lines := strings.Split(out, "\n")
	var rows int
	for _, l := range lines {
		if strings.HasPrefix(l, "split ") || strings.HasPrefix(l, "combined ") {
			rows++
		}
	}
	assert.Equal(t, 2, rows, "one row per layout")
}

func TestRenderTimingOnly(t *testing.T) {
	results := map[model.Layout][]model.TrialResult{
		model.LayoutCombined: {
			trial(model.LayoutCombined, 0, 10*time.Millisecond, 0),
			trial(model.LayoutCombined, 1, 12*time.Millisecond, 0),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, results, Options{Format: FormatTable}))
	assert.Contains(t, buf.String(), "timing-only")
	assert.NotContains(t, buf.String(), model.CounterCycles)
	assert.Contains(t, buf.String(), "11ms")
}

func TestRenderForcedTimingOnlyHidesCounters(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleResults(), Options{Format: FormatTable, TimingOnly: true}))
	assert.Contains(t, buf.String(), "timing-only")
	assert.NotContains(t, buf.String(), model.CounterL1DCacheLoadMisses)
}

func TestRenderFailureEntries(t *testing.T) {
	results := sampleResults()
	results[model.LayoutSplit] = append(results[model.LayoutSplit], model.TrialResult{
		Layout:  model.LayoutSplit,
		Trial:   3,
		Failure: &model.Failure{Kind: model.FailureTimeout, Message: "trial timed out"},
	})

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, results, Options{Format: FormatMarkdown}))
	assert.Contains(t, buf.String(), "- split trial 3: trial_timeout: trial timed out")
	assert.Contains(t, buf.String(), "| Layout | Trials |")
}

func TestRenderPlacementMismatch(t *testing.T) {
	results := sampleResults()
	results[model.LayoutCombined][1].Placement = &model.Placement{AsExpected: false}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, results, Options{}))
	assert.Contains(t, buf.String(), "combined: 1 of 3 trials placed")
	assert.Contains(t, buf.String(), "2/3 as expected")
}

func TestRenderDoesNotMutate(t *testing.T) {
	results := sampleResults()
	before := sampleResults()

	for _, f := range Formats {
		require.NoError(t, Render(&bytes.Buffer{}, results, Options{Format: f, TimingOnly: true}))
	}
	assert.Equal(t, before, results)
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleResults(), Options{Format: FormatJSON}))

	var doc Document
	require.NoError(t, sonic.ConfigStd.Unmarshal(buf.Bytes(), &doc))
	assert.False(t, doc.TimingOnly)
	require.Len(t, doc.Summaries, 2)
	assert.Equal(t, model.LayoutCombined, doc.Summaries[1].Layout)
	assert.Len(t, doc.Trials, 6)
	assert.Contains(t, buf.String(), `"layout": "combined"`)
}

func TestRenderPprof(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleResults(), Options{Format: FormatPprof}))

	p, err := profile.Parse(&buf)
	require.NoError(t, err)
	require.Len(t, p.Sample, 6)
	assert.Equal(t, "elapsed", p.SampleType[0].Type)
	assert.Equal(t, model.CounterCycles, p.SampleType[1].Type)
	assert.Equal(t, model.CounterL1DCacheLoadMisses, p.SampleType[2].Type)
	assert.Len(t, p.Function, 2)

	var combined int64
	for _, s := range p.Sample {
		if s.Label["layout"][0] == "combined" {
			combined += s.Value[2]
		}
	}
	assert.Equal(t, int64(12000), combined)
}

func TestRenderEmpty(t *testing.T) {
	err := Render(&bytes.Buffer{}, nil, Options{})
	require.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "table", want: FormatTable},
		{in: "markdown", want: FormatMarkdown},
		{in: "json", want: FormatJSON},
		{in: "pprof", want: FormatPprof},
		{in: "csv", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{in: 0, want: "0"},
		{in: 999, want: "999"},
		{in: 1000, want: "1K"},
		{in: 1234567, want: "1.23M"},
		{in: 2.5e9, want: "2.5G"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatCount(tt.in))
		})
	}
}
