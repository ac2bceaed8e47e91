/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tick abstracts the hot-path cycle counter the executor measures
// phase execution against (spec glossary: the "chatman constant" is a tick
// budget, nominally a serialized-cycle-counter read such as RDTSCP). True
// RDTSCP access needs cgo or an assembly stub; Counter lets a calibrated
// wall-clock estimator stand in without the executor depending on which
// implementation is active.
package tick

import "time"

// Counter measures elapsed ticks for one unit of work.
type Counter interface {
	// Start begins a measurement and returns a Stop function that reports
	// the elapsed tick count.
	Start() func() uint32
}

// WallClockCounter estimates ticks from a wall-clock duration divided by a
// calibrated nanoseconds-per-tick constant. NanosPerTick defaults to a
// conservative modern-CPU estimate (roughly one tick per 0.3ns at ~3GHz) if
// left zero.
type WallClockCounter struct {
	NanosPerTick float64
}

const defaultNanosPerTick = 0.3

// Start implements Counter.
func (c WallClockCounter) Start() func() uint32 {
	nanosPerTick := c.NanosPerTick
	if nanosPerTick <= 0 {
		nanosPerTick = defaultNanosPerTick
	}
	begin := time.Now()
	return func() uint32 {
		elapsed := time.Since(begin)
		ticks := float64(elapsed.Nanoseconds()) / nanosPerTick
		if ticks < 0 {
			return 0
		}
		return uint32(ticks)
	}
}

// FixedCounter always reports Ticks, regardless of elapsed wall-clock time.
// Used in tests that need deterministic tick counts independent of
// scheduling jitter.
type FixedCounter struct {
	Ticks uint32
}

// Start implements Counter.
func (c FixedCounter) Start() func() uint32 {
	return func() uint32 {
		return c.Ticks
	}
}
