package shared

import (
	"sync"
	"testing"

	"github.com/perfgo/falseshare/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateValue(t *testing.T) {
	for _, layout := range model.AllLayouts {
		for _, v := range []uint64{0, 1, 42, ^uint64(0)} {
			h, err := Allocate(layout, v)
			require.NoError(t, err)
			assert.Equal(t, v, h.Value(), "layout %s", layout)
			assert.Equal(t, v, h.Initial(), "layout %s", layout)
			assert.Equal(t, int64(1), h.RefCount())
			assert.Equal(t, layout, h.Layout())
		}
	}
}

func TestAllocateUnknownLayout(t *testing.T) {
	h, err := Allocate(model.Layout(7), 0)
	require.ErrorIs(t, err, ErrUnknownLayout)
	assert.Nil(t, h)
}

func TestCloneRelease(t *testing.T) {
	h, err := Allocate(model.LayoutCombined, 5)
	require.NoError(t, err)

	a := h.Clone()
	b := a.Clone()
	assert.Equal(t, int64(3), h.RefCount())

	last, err := a.Release()
	require.NoError(t, err)
	assert.False(t, last)
	assert.Equal(t, int64(2), b.RefCount())

	_, err = a.Release()
	require.ErrorIs(t, err, ErrReleased)
	assert.Equal(t, int64(2), h.RefCount(), "double release must not change the count")

	last, err = b.Release()
	require.NoError(t, err)
	assert.False(t, last)

	last, err = h.Release()
	require.NoError(t, err)
	assert.True(t, last)
	assert.True(t, h.Released())
}

func TestCloneReleasedPanics(t *testing.T) {
	h, err := Allocate(model.LayoutSplit, 0)
	require.NoError(t, err)
	_, err = h.Release()
	require.NoError(t, err)
	assert.Panics(t, func() { h.Clone() })
}

func TestIncrement(t *testing.T) {
	for _, layout := range model.AllLayouts {
		h, err := Allocate(layout, 10)
		require.NoError(t, err)
		for i := uint64(1); i <= 100; i++ {
			assert.Equal(t, 10+i, h.Increment())
		}
		assert.Equal(t, uint64(110), h.Value())
		assert.Equal(t, uint64(10), h.Initial())
	}
}

func TestConcurrentCloneRelease(t *testing.T) {
	h, err := Allocate(model.LayoutCombined, 0)
	require.NoError(t, err)

	const workers = 16
	const rounds = 1000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				c := h.Clone()
				_, err := c.Release()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), h.RefCount())
}

func TestSplitPlacement(t *testing.T) {
	for i := 0; i < 64; i++ {
		h, err := Allocate(model.LayoutSplit, 0)
		require.NoError(t, err)
		p := h.Placement()

		distance := p.Distance
		if distance < 0 {
			distance = -distance
		}
		require.GreaterOrEqual(t, uint64(distance), CacheLineSize,
			"split words must be at least a cache line apart")
		assert.False(t, p.SameLine)
		assert.True(t, p.AsExpected)
	}
}

func TestCombinedPlacement(t *testing.T) {
	for i := 0; i < 64; i++ {
		h, err := Allocate(model.LayoutCombined, 0)
		require.NoError(t, err)
		p := h.Placement()

		// the payload directly follows the two control words
		assert.Equal(t, int64(16), p.Distance)
		assert.Equal(t, SameLine(p.RefAddr, p.ValueAddr, CacheLineSize), p.SameLine)
		assert.Equal(t, p.SameLine, p.AsExpected)
		assert.Equal(t, CacheLineSize, p.LineSize)
	}
}

func TestSameLine(t *testing.T) {
	tests := []struct {
		name string
		a, b uint64
		want bool
	}{
		{name: "same address", a: 128, b: 128, want: true},
		{name: "start and end of line", a: 64, b: 127, want: true},
		{name: "adjacent across boundary", a: 120, b: 128, want: false},
		{name: "far apart", a: 0, b: 4096, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SameLine(tt.a, tt.b, 64))
		})
	}
}
