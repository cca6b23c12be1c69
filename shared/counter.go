// Package shared provides a reference-counted counter whose control block and
// payload can be laid out either in separate allocations or in one allocation.
// The two layouts are logically identical; they differ only in whether the
// reference count and the payload are likely to share a cache line.
package shared

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/perfgo/falseshare/model"
	"golang.org/x/sys/cpu"
)

// CacheLineSize is the cache line size used for padding and placement checks.
const CacheLineSize = uint64(unsafe.Sizeof(cpu.CacheLinePad{}))

var (
	// ErrUnknownLayout is returned for a layout outside model.AllLayouts.
	ErrUnknownLayout = errors.New("unknown layout")
	// ErrAllocation marks a failed allocation. It is fatal for the run.
	ErrAllocation = errors.New("allocation failure")
	// ErrReleased is returned when a handle is released twice.
	ErrReleased = errors.New("handle already released")
)

// control is the control block: the reference count plus the value the
// payload started with.
type control struct {
	refs    atomic.Int64
	initial uint64
}

// combinedBlock is the single allocation of the combined layout. The payload
// directly follows the control block.
type combinedBlock struct {
	control
	value uint64
}

type splitControl struct {
	control
	_ cpu.CacheLinePad
}

type splitPayload struct {
	_     cpu.CacheLinePad
	value uint64
	_     cpu.CacheLinePad
}

// counter is the state every handle of one allocation points to. It is only
// written during Allocate.
type counter struct {
	layout model.Layout
	ctl    *control
	value  *uint64
}

// Handle is one owning reference to a shared counter.
type Handle struct {
	c        *counter
	released atomic.Bool
}

// Allocate creates a counter holding initial under the given layout and
// returns the first owning handle.
func Allocate(layout model.Layout, initial uint64) (h *Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			h = nil
			err = fmt.Errorf("%w: %s layout: %v", ErrAllocation, layout, r)
		}
	}()

	c := &counter{layout: layout}
	switch layout {
	case model.LayoutSplit:
		ctl := new(splitControl)
		payload := new(splitPayload)
		c.ctl = &ctl.control
		c.value = &payload.value
	case model.LayoutCombined:
		block := new(combinedBlock)
		c.ctl = &block.control
		c.value = &block.value
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownLayout, layout)
	}

	c.ctl.initial = initial
	*c.value = initial
	c.ctl.refs.Store(1)
	return &Handle{c: c}, nil
}

// Clone acquires a new owning reference to the same counter.
func (h *Handle) Clone() *Handle {
	if h.released.Load() {
		panic("shared: Clone on released handle")
	}
	h.c.ctl.refs.Add(1)
	return &Handle{c: h.c}
}

// Release drops this handle's reference. It reports whether this was the last
// owner, in which case the counter is gone.
func (h *Handle) Release() (bool, error) {
	if !h.released.CompareAndSwap(false, true) {
		return false, ErrReleased
	}
	remaining := h.c.ctl.refs.Add(-1)
	if remaining < 0 {
		panic("shared: reference count below zero")
	}
	return remaining == 0, nil
}

// Released reports whether Release was called on this handle.
func (h *Handle) Released() bool {
	return h.released.Load()
}

// RefCount returns the current number of owning handles.
func (h *Handle) RefCount() int64 {
	return h.c.ctl.refs.Load()
}

// Value returns the payload. Only the writer may call it while a workload
// is running.
func (h *Handle) Value() uint64 {
	return *h.c.value
}

// Initial returns the value the counter was allocated with.
func (h *Handle) Initial() uint64 {
	return h.c.ctl.initial
}

// Layout returns the layout the counter was allocated with.
func (h *Handle) Layout() model.Layout {
	return h.c.layout
}

// Increment adds one to the payload and returns the new value.
//
//go:noinline
func (h *Handle) Increment() uint64 {
	*h.c.value++
	return *h.c.value
}

// Placement reports where the reference count and the payload live.
func (h *Handle) Placement() model.Placement {
	refAddr := uint64(uintptr(unsafe.Pointer(&h.c.ctl.refs)))
	valueAddr := uint64(uintptr(unsafe.Pointer(h.c.value)))
	p := model.Placement{
		RefAddr:   refAddr,
		ValueAddr: valueAddr,
		Distance:  int64(valueAddr) - int64(refAddr),
		LineSize:  CacheLineSize,
		SameLine:  SameLine(refAddr, valueAddr, CacheLineSize),
	}
	p.AsExpected = p.SameLine == (h.c.layout == model.LayoutCombined)
	return p
}

// SameLine reports whether two addresses fall on the same cache line.
func SameLine(a, b, lineSize uint64) bool {
	return a/lineSize == b/lineSize
}
