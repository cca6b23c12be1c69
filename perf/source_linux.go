//go:build linux

package perf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"unsafe"

	"github.com/perfgo/falseshare/model"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

func hwCache(id, op, result uint64) uint64 {
	return id | op<<8 | result<<16
}

func defaultEvents() []event {
	return []event{
		{name: model.CounterCycles, typ: unix.PERF_TYPE_HARDWARE, config: unix.PERF_COUNT_HW_CPU_CYCLES},
		{name: model.CounterInstructions, typ: unix.PERF_TYPE_HARDWARE, config: unix.PERF_COUNT_HW_INSTRUCTIONS},
		{
			name:   model.CounterL1DCacheLoadMisses,
			typ:    unix.PERF_TYPE_HW_CACHE,
			config: hwCache(unix.PERF_COUNT_HW_CACHE_L1D, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_MISS),
		},
		{
			name:   model.CounterLLCLoads,
			typ:    unix.PERF_TYPE_HW_CACHE,
			config: hwCache(unix.PERF_COUNT_HW_CACHE_LL, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_ACCESS),
		},
		{
			name:   model.CounterLLCLoadMisses,
			typ:    unix.PERF_TYPE_HW_CACHE,
			config: hwCache(unix.PERF_COUNT_HW_CACHE_LL, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_MISS),
		},
	}
}

// openEvent opens a disabled, user-space only counter for the calling thread.
func openEvent(ev event) (int, error) {
	attr := unix.PerfEventAttr{
		Type:        ev.typ,
		Size:        uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Config:      ev.config,
		Read_format: unix.PERF_FORMAT_TOTAL_TIME_ENABLED | unix.PERF_FORMAT_TOTAL_TIME_RUNNING,
		Bits:        unix.PerfBitDisabled | unix.PerfBitExcludeKernel | unix.PerfBitExcludeHv,
	}
	fd, err := unix.PerfEventOpen(&attr, 0, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("perf_event_open %s: %w", ev.name, err)
	}
	return fd, nil
}

func probeEvents(logger zerolog.Logger, events []event) ([]event, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var (
		supported []event
		errs      []error
	)
	for _, ev := range events {
		fd, err := openEvent(ev)
		if err != nil {
			logger.Debug().Err(err).Str("event", ev.name).Msg("Hardware counter not supported")
			errs = append(errs, err)
			continue
		}
		unix.Close(fd)
		supported = append(supported, ev)
	}

	if len(supported) == 0 {
		err := errors.Join(errs...)
		if level, ok := paranoidLevel(); ok {
			err = fmt.Errorf("%w (kernel.perf_event_paranoid=%s)", err, level)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return supported, nil
}

func paranoidLevel() (string, bool) {
	data, err := os.ReadFile("/proc/sys/kernel/perf_event_paranoid")
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// threadCounters are the open counters of one thread.
type threadCounters struct {
	names []string
	fds   []int
}

func openThread(events []event) (*threadCounters, error) {
	tc := &threadCounters{}
	for _, ev := range events {
		fd, err := openEvent(ev)
		if err != nil {
			tc.close()
			return nil, err
		}
		tc.names = append(tc.names, ev.name)
		tc.fds = append(tc.fds, fd)
	}
	return tc, nil
}

func (tc *threadCounters) enable() error {
	for i, fd := range tc.fds {
		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_RESET, 0); err != nil {
			return fmt.Errorf("reset %s: %w", tc.names[i], err)
		}
		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
			return fmt.Errorf("enable %s: %w", tc.names[i], err)
		}
	}
	return nil
}

func (tc *threadCounters) read() (map[string]uint64, error) {
	for i, fd := range tc.fds {
		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_DISABLE, 0); err != nil {
			return nil, fmt.Errorf("disable %s: %w", tc.names[i], err)
		}
	}

	counts := make(map[string]uint64, len(tc.fds))
	var buf [24]byte
	for i, fd := range tc.fds {
		n, err := unix.Read(fd, buf[:])
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", tc.names[i], err)
		}
		if n != len(buf) {
			return nil, fmt.Errorf("read %s: short read of %d bytes", tc.names[i], n)
		}
		value := binary.NativeEndian.Uint64(buf[0:8])
		enabled := binary.NativeEndian.Uint64(buf[8:16])
		running := binary.NativeEndian.Uint64(buf[16:24])
		counts[tc.names[i]] = scale(value, enabled, running)
	}
	return counts, nil
}

func (tc *threadCounters) close() {
	for _, fd := range tc.fds {
		unix.Close(fd)
	}
	tc.fds = nil
	tc.names = nil
}
