//go:build !linux

package workload

import (
	"fmt"
	"runtime"
)

func pinThread(int) (func(), error) {
	return nil, fmt.Errorf("thread pinning is not supported on %s", runtime.GOOS)
}
