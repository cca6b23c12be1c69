//go:build linux

package workload

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const maxCPUs = 1024

// pinThread restricts the calling OS thread to the slot-th CPU it is allowed
// to run on, wrapping around when there are more slots than CPUs. The
// returned function restores the previous affinity.
func pinThread(slot int) (func(), error) {
	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		return nil, fmt.Errorf("failed to read thread affinity: %w", err)
	}

	var allowed []int
	for cpu := 0; cpu < maxCPUs; cpu++ {
		if prev.IsSet(cpu) {
			allowed = append(allowed, cpu)
		}
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("thread affinity mask is empty")
	}

	cpu := allowed[slot%len(allowed)]
	var set unix.CPUSet
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("failed to pin thread to cpu %d: %w", cpu, err)
	}

	return func() {
		_ = unix.SchedSetaffinity(0, &prev)
	}, nil
}
