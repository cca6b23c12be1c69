package workload

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/perfgo/falseshare/model"
	"github.com/perfgo/falseshare/shared"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(readers int, iterations uint64, layout model.Layout) model.TrialConfig {
	return model.TrialConfig{
		Readers:    readers,
		Iterations: iterations,
		Layout:     layout,
		Repeats:    1,
	}
}

func TestRunPayloadAndRefCount(t *testing.T) {
	for _, layout := range model.AllLayouts {
		for _, readers := range []int{0, 1, 4} {
			t.Run(fmt.Sprintf("%s/%d_readers", layout, readers), func(t *testing.T) {
				h, err := shared.Allocate(layout, 7)
				require.NoError(t, err)

				var startRefs int64
				d := &Driver{
					Logger:  zerolog.Nop(),
					OnStart: func(refs int64) { startRefs = refs },
				}

				cfg := testConfig(readers, 10_000, layout)
				sink, err := d.Run(context.Background(), h, cfg)
				require.NoError(t, err)

				assert.Equal(t, int64(readers+1), startRefs, "all readers and the writer hold a reference at start")
				assert.Equal(t, uint64(7+10_000), h.Value(), "no writer increment may be lost")
				assert.Equal(t, int64(1), h.RefCount(), "readers release their references")
				assert.Zero(t, sink.Readers, "reader branch is never taken")
			})
		}
	}
}

func TestRunTimeout(t *testing.T) {
	h, err := shared.Allocate(model.LayoutCombined, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	before := runtime.NumGoroutine()
	d := &Driver{Logger: zerolog.Nop()}

	done := make(chan error, 1)
	go func() {
		_, err := d.Run(ctx, h, testConfig(2, ^uint64(0), model.LayoutCombined))
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrTrialTimeout)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after the timeout")
	}

	assert.Equal(t, int64(1), h.RefCount(), "readers were joined and released")
	assert.Less(t, h.Value(), ^uint64(0))

	// the goroutine running Run has returned too
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 10*time.Millisecond)
}

func TestRunExpiredContext(t *testing.T) {
	h, err := shared.Allocate(model.LayoutSplit, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &Driver{Logger: zerolog.Nop()}
	_, err = d.Run(ctx, h, testConfig(3, 1<<20, model.LayoutSplit))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTrialTimeout)
	assert.Equal(t, int64(1), h.RefCount())
}

func TestRunExpiredDeadline(t *testing.T) {
	h, err := shared.Allocate(model.LayoutCombined, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	d := &Driver{Logger: zerolog.Nop()}
	_, err = d.Run(ctx, h, testConfig(3, 1<<20, model.LayoutCombined))
	require.ErrorIs(t, err, ErrTrialTimeout)
	assert.NotErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), h.RefCount())
}

type panicProbe struct {
	entered atomic.Int64
	panicAt int64
}

func (p *panicProbe) Enter() func() {
	if p.entered.Add(1) == p.panicAt {
		panic("probe failure")
	}
	return func() {}
}

func TestRunWorkerFault(t *testing.T) {
	h, err := shared.Allocate(model.LayoutCombined, 0)
	require.NoError(t, err)

	d := &Driver{
		Logger: zerolog.Nop(),
		Probe:  &panicProbe{panicAt: 1},
	}
	_, err = d.Run(context.Background(), h, testConfig(3, 1<<20, model.LayoutCombined))
	require.ErrorIs(t, err, ErrWorkerFault)
	assert.Equal(t, int64(1), h.RefCount(), "faulted workers still release their references")
}

type countingProbe struct {
	entered atomic.Int64
	left    atomic.Int64
}

func (p *countingProbe) Enter() func() {
	p.entered.Add(1)
	return func() { p.left.Add(1) }
}

func TestRunProbeEveryThread(t *testing.T) {
	h, err := shared.Allocate(model.LayoutSplit, 0)
	require.NoError(t, err)

	probe := &countingProbe{}
	d := &Driver{Logger: zerolog.Nop(), Probe: probe}
	_, err = d.Run(context.Background(), h, testConfig(4, 1000, model.LayoutSplit))
	require.NoError(t, err)

	assert.Equal(t, int64(5), probe.entered.Load(), "four readers and the writer")
	assert.Equal(t, int64(5), probe.left.Load())
}

func TestRunPinned(t *testing.T) {
	h, err := shared.Allocate(model.LayoutCombined, 0)
	require.NoError(t, err)

	cfg := testConfig(2, 1000, model.LayoutCombined)
	cfg.PinThreads = true

	d := &Driver{Logger: zerolog.Nop()}
	_, err = d.Run(context.Background(), h, cfg)
	require.NoError(t, err, "pinning failures are not fatal")
	assert.Equal(t, uint64(1000), h.Value())
}
