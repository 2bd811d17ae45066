//go:build !windows

/*
 * Copyright 2023 LiveKit, Inc
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package prometheus

import (
	"runtime"
	"sync"

	"github.com/mackerelio/go-osstat/cpu"
	"github.com/mackerelio/go-osstat/loadavg"
)

// cpuSampler turns cumulative CPU counters into utilization between calls.
type cpuSampler struct {
	mu        sync.Mutex
	lastTotal uint64
	lastIdle  uint64
}

var hostCPU cpuSampler

func (s *cpuSampler) sample() (float32, error) {
	stats, err := cpu.Get()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var load float32
	// first call has no baseline
	if s.lastTotal > 0 && s.lastTotal < stats.Total {
		load = 1 - float32(stats.Idle-s.lastIdle)/float32(stats.Total-s.lastTotal)
	}
	s.lastTotal = stats.Total
	s.lastIdle = stats.Idle
	return load, nil
}

func getLoadAvg() (*loadavg.Stats, error) {
	return loadavg.Get()
}

func getCPUStats() (float32, uint32, error) {
	load, err := hostCPU.sample()
	if err != nil {
		return 0, 0, err
	}
	return load, uint32(runtime.NumCPU()), nil
}
