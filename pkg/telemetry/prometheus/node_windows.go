//go:build windows

package prometheus

import (
	"runtime"

	"github.com/mackerelio/go-osstat/loadavg"
)

// load averages and cumulative CPU counters are not exposed on windows
func getLoadAvg() (*loadavg.Stats, error) {
	return &loadavg.Stats{}, nil
}

func getCPUStats() (float32, uint32, error) {
	return 0, uint32(runtime.NumCPU()), nil
}
