//go:build !linux

package perf

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
)

func defaultEvents() []event {
	return nil
}

func probeEvents(zerolog.Logger, []event) ([]event, error) {
	return nil, fmt.Errorf("%w: not supported on %s", ErrUnavailable, runtime.GOOS)
}

type threadCounters struct{}

func openThread([]event) (*threadCounters, error) {
	return nil, fmt.Errorf("%w: not supported on %s", ErrUnavailable, runtime.GOOS)
}

func (*threadCounters) enable() error { return nil }

func (*threadCounters) read() (map[string]uint64, error) { return nil, nil }

func (*threadCounters) close() {}
