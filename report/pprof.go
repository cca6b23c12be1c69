package report

import (
	"fmt"
	"io"
	"time"

	"github.com/google/pprof/profile"
	"github.com/perfgo/falseshare/model"
)

// profileBuilder turns trial results into a pprof profile. Every successful
// trial becomes one sample below a synthetic frame named after its layout,
// so `pprof -top` compares the layouts directly.
type profileBuilder struct {
	profile   *profile.Profile
	counters  []string
	functions map[model.Layout]*profile.Function
	locations map[model.Layout]*profile.Location
}

func newProfileBuilder(counters []string) *profileBuilder {
	b := &profileBuilder{
		profile: &profile.Profile{
			SampleType: []*profile.ValueType{{Type: "elapsed", Unit: "nanoseconds"}},
			TimeNanos:  time.Now().UnixNano(),
			PeriodType: &profile.ValueType{Type: "trial", Unit: "count"},
			Period:     1,
		},
		counters:  counters,
		functions: make(map[model.Layout]*profile.Function),
		locations: make(map[model.Layout]*profile.Location),
	}
	for _, name := range counters {
		b.profile.SampleType = append(b.profile.SampleType, &profile.ValueType{Type: name, Unit: "count"})
	}
	return b
}

// getOrCreateLocation gets or creates the frame of a layout
func (b *profileBuilder) getOrCreateLocation(l model.Layout) *profile.Location {
	if loc, exists := b.locations[l]; exists {
		return loc
	}

	fn := &profile.Function{
		ID:         uint64(len(b.profile.Function) + 1),
		Name:       "falseshare." + l.String(),
		SystemName: "falseshare." + l.String(),
	}
	b.functions[l] = fn
	b.profile.Function = append(b.profile.Function, fn)

	loc := &profile.Location{
		ID:   uint64(len(b.profile.Location) + 1),
		Line: []profile.Line{{Function: fn}},
	}
	b.locations[l] = loc
	b.profile.Location = append(b.profile.Location, loc)
	return loc
}

func (b *profileBuilder) addTrial(t model.TrialResult) {
	if t.Failed() {
		return
	}

	values := make([]int64, 0, len(b.profile.SampleType))
	values = append(values, t.Elapsed.Nanoseconds())
	for _, name := range b.counters {
		values = append(values, int64(t.Counters[name]))
	}

	b.profile.Sample = append(b.profile.Sample, &profile.Sample{
		Location: []*profile.Location{b.getOrCreateLocation(t.Layout)},
		Value:    values,
		Label:    map[string][]string{"layout": {t.Layout.String()}},
		NumLabel: map[string][]int64{"trial": {int64(t.Trial)}},
	})
}

// BuildProfile builds the pprof profile of a report document.
func BuildProfile(doc Document) (*profile.Profile, error) {
	b := newProfileBuilder(counterColumns(doc))
	for _, t := range doc.Trials {
		b.addTrial(t)
	}
	if err := b.profile.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return b.profile, nil
}

func writePprof(w io.Writer, doc Document) error {
	p, err := BuildProfile(doc)
	if err != nil {
		return err
	}
	if err := p.Write(w); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}
