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

package tick

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedCounterReportsItsConfiguredTicks(t *testing.T) {
	c := FixedCounter{Ticks: 4}
	stop := c.Start()
	assert.EqualValues(t, 4, stop())
}

func TestWallClockCounterReportsNonNegativeTicks(t *testing.T) {
	c := WallClockCounter{}
	stop := c.Start()
	time.Sleep(time.Microsecond)
	ticks := stop()
	assert.GreaterOrEqual(t, ticks, uint32(0))
}

func TestWallClockCounterHonorsACustomCalibration(t *testing.T) {
	c := WallClockCounter{NanosPerTick: 1_000_000} // 1 tick per ms
	stop := c.Start()
	time.Sleep(5 * time.Millisecond)
	ticks := stop()
	assert.GreaterOrEqual(t, ticks, uint32(3))
	assert.LessOrEqual(t, ticks, uint32(20))
}
