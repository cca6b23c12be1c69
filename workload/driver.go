// Package workload drives one writer and a configurable number of readers
// against a shared counter. Readers only inspect the reference count while
// the writer only mutates the payload, so any slowdown between layouts comes
// from the two words sharing a cache line.
package workload

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/perfgo/falseshare/model"
	"github.com/perfgo/falseshare/shared"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/cpu"
)

var (
	// ErrTrialTimeout is returned when the trial context expired before all
	// loops finished. Every worker has been joined when it is returned.
	ErrTrialTimeout = errors.New("trial timed out")
	// ErrWorkerFault is returned when a worker panicked. The trial cannot be
	// trusted and the run should stop.
	ErrWorkerFault = errors.New("worker fault")
)

// checkMask controls how often loops poll the stop flag.
const checkMask = 1<<12 - 1

// Probe observes worker threads. Enter is called on the locked OS thread
// before the loop starts; the returned function is called on the same thread
// after the loop ends.
type Probe interface {
	Enter() (leave func())
}

// Sink holds the values folded out of the loops so they cannot be
// eliminated.
type Sink struct {
	Writer  uint64
	Readers uint64
}

// Value folds the sink into a single word.
func (s Sink) Value() uint64 {
	return s.Writer ^ s.Readers
}

// Driver runs the reader/writer workload.
type Driver struct {
	Logger zerolog.Logger
	// Probe is entered on every worker thread, nil disables it
	Probe Probe
	// OnStart is called once all handles are acquired and before any worker
	// starts its loop, with the reference count at that moment
	OnStart func(refs int64)
}

// stopFlag sits on its own cache line so polling it does not add to the
// contention being measured.
type stopFlag struct {
	_ cpu.CacheLinePad
	v atomic.Bool
	_ cpu.CacheLinePad
}

// Run drives cfg.Readers readers and one writer against h until every loop
// has completed or ctx expires. The calling goroutine is the writer. Run
// returns only after all readers are joined.
func (d *Driver) Run(ctx context.Context, h *shared.Handle, cfg model.TrialConfig) (Sink, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	stop := new(stopFlag)
	start := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	var (
		ready       sync.WaitGroup
		readerSink  atomic.Uint64
		interrupted atomic.Int64
	)

	ready.Add(cfg.Readers)
	for i := 0; i < cfg.Readers; i++ {
		owned := h.Clone()
		g.Go(func() (err error) {
			signal := sync.OnceFunc(ready.Done)
			defer signal()
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: reader %d: %v", ErrWorkerFault, i, r)
				}
			}()
			defer func() {
				if _, err := owned.Release(); err != nil {
					panic(err)
				}
			}()

			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			leave := d.enterThread(i+1, cfg.PinThreads)
			defer leave()

			signal()
			select {
			case <-start:
			case <-gctx.Done():
				interrupted.Add(1)
				return nil
			}

			seen, done := readLoop(owned, cfg.Iterations, stop)
			readerSink.Add(seen)
			if done < cfg.Iterations {
				interrupted.Add(1)
			}
			return nil
		})
	}

	ready.Wait()
	if ctx.Err() != nil {
		stop.v.Store(true)
	}
	if d.OnStart != nil {
		d.OnStart(h.RefCount())
	}

	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		<-gctx.Done()
		stop.v.Store(true)
	}()

	d.Logger.Debug().
		Int("readers", cfg.Readers).
		Uint64("iterations", cfg.Iterations).
		Stringer("layout", h.Layout()).
		Msg("Starting workload")

	close(start)
	writerSink, written, writerErr := d.write(h, cfg, stop)
	if writerErr != nil {
		stop.v.Store(true)
	}

	waitErr := g.Wait()
	<-watcherDone

	sink := Sink{Writer: writerSink, Readers: readerSink.Load()}
	if err := errors.Join(writerErr, waitErr); err != nil {
		return sink, err
	}
	if written < cfg.Iterations || interrupted.Load() > 0 {
		if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
			return sink, fmt.Errorf("%w: writer finished %d of %d iterations: %v", ErrTrialTimeout, written, cfg.Iterations, err)
		} else if err != nil {
			return sink, fmt.Errorf("workload cancelled after %d of %d iterations: %w", written, cfg.Iterations, err)
		}
		return sink, fmt.Errorf("%w: workload stopped early", ErrWorkerFault)
	}
	return sink, nil
}

func (d *Driver) write(h *shared.Handle, cfg model.TrialConfig, stop *stopFlag) (sink, done uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: writer: %v", ErrWorkerFault, r)
		}
	}()

	leave := d.enterThread(0, cfg.PinThreads)
	defer leave()

	sink, done = writeLoop(h, cfg.Iterations, stop)
	return sink, done, nil
}

// enterThread prepares the current locked thread for a worker: pins it when
// requested and enters the probe. The returned function undoes both.
func (d *Driver) enterThread(slot int, pin bool) func() {
	var undo []func()
	if pin {
		restore, err := pinThread(slot)
		if err != nil {
			d.Logger.Debug().Err(err).Int("slot", slot).Msg("Failed to pin worker thread")
		} else {
			undo = append(undo, restore)
		}
	}
	if d.Probe != nil {
		undo = append(undo, d.Probe.Enter())
	}
	return func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
}

func readLoop(h *shared.Handle, n uint64, stop *stopFlag) (seen, done uint64) {
	for done = 0; done < n; done++ {
		if done&checkMask == 0 && stop.v.Load() {
			return seen, done
		}
		// never true while the writer holds its reference
		if h.RefCount() == 1 {
			seen++
		}
	}
	return seen, done
}

func writeLoop(h *shared.Handle, n uint64, stop *stopFlag) (sink, done uint64) {
	for done = 0; done < n; done++ {
		if done&checkMask == 0 && stop.v.Load() {
			return sink, done
		}
		sink ^= h.Increment()
	}
	return sink, done
}
