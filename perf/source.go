// Package perf samples hardware performance counters for the worker threads
// of a trial. On Linux the counters come from perf_event_open(2); everywhere
// else, and wherever the kernel refuses access, the source reports
// ErrUnavailable and callers fall back to timing only.
package perf

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrUnavailable is returned when hardware counters cannot be sampled.
var ErrUnavailable = errors.New("hardware counters unavailable")

// Sampling is an active counter session. Enter is called on every worker
// thread, Stop returns the counts summed over all threads.
type Sampling interface {
	Enter() (leave func())
	Stop() (map[string]uint64, error)
}

// event describes one counter as the kernel expects it.
type event struct {
	name   string
	typ    uint32
	config uint64
}

// Source opens counter sessions.
type Source struct {
	logger zerolog.Logger
	events []event
}

// NewSource returns a source for all default counters. Call Check before
// Start to narrow it down to the counters the host supports.
func NewSource(logger zerolog.Logger) *Source {
	return &Source{
		logger: logger,
		events: defaultEvents(),
	}
}

// Events returns the names of the counters sessions will sample.
func (s *Source) Events() []string {
	names := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		names = append(names, ev.name)
	}
	return names
}

// Check opens every counter once on the calling thread and keeps the ones the
// host supports. It returns ErrUnavailable if none is supported.
func (s *Source) Check() error {
	supported, err := probeEvents(s.logger, s.events)
	if err != nil {
		return err
	}
	s.events = supported
	s.logger.Debug().Strs("events", s.Events()).Msg("Hardware counters available")
	return nil
}

// Start begins a new session.
func (s *Source) Start() (Sampling, error) {
	if len(s.events) == 0 {
		return nil, fmt.Errorf("%w: no supported events", ErrUnavailable)
	}
	return &Session{
		events: s.events,
		totals: make(map[string]uint64, len(s.events)),
	}, nil
}

// Session accumulates counts from every thread that entered it.
type Session struct {
	events []event

	mu      sync.Mutex
	totals  map[string]uint64
	errs    []error
	entered int
	left    int
	stopped bool
}

// Enter opens the counters on the calling thread, which must be locked with
// runtime.LockOSThread until the returned function has run.
func (s *Session) Enter() func() {
	s.mu.Lock()
	s.entered++
	s.mu.Unlock()

	tc, err := openThread(s.events)
	if err != nil {
		s.record(nil, err)
		return func() {}
	}
	if err := tc.enable(); err != nil {
		tc.close()
		s.record(nil, err)
		return func() {}
	}
	return func() {
		counts, err := tc.read()
		tc.close()
		s.record(counts, err)
	}
}

func (s *Session) record(counts map[string]uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left++
	if err != nil {
		s.errs = append(s.errs, err)
		return
	}
	for name, v := range counts {
		s.totals[name] += v
	}
}

// Stop returns the counts summed over every thread that left the session.
// Counts are only trusted when every thread that entered has also left.
func (s *Session) Stop() (map[string]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, errors.New("session already stopped")
	}
	s.stopped = true

	if len(s.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(s.errs...))
	}
	if s.left != s.entered {
		return nil, fmt.Errorf("%w: %d of %d threads left the session", ErrUnavailable, s.left, s.entered)
	}
	out := make(map[string]uint64, len(s.totals))
	for k, v := range s.totals {
		out[k] = v
	}
	return out, nil
}

// scale extrapolates a multiplexed counter to the full enabled time.
func scale(value, enabled, running uint64) uint64 {
	if running == 0 {
		return 0
	}
	if running >= enabled {
		return value
	}
	return uint64(float64(value) * float64(enabled) / float64(running))
}
