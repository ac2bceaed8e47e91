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

package dispatcher

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingPushPopPreservesFIFOOrder(t *testing.T) {
	r := newRing[int](4)
	for i := 0; i < 4; i++ {
		assert.True(t, r.push(i))
	}
	for i := 0; i < 4; i++ {
		v, ok := r.pop()
		assert.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestRingPushFailsWhenFull(t *testing.T) {
	r := newRing[int](2)
	assert.True(t, r.push(1))
	assert.True(t, r.push(2))
	assert.False(t, r.push(3))
}

func TestRingPopFailsWhenEmpty(t *testing.T) {
	r := newRing[int](2)
	_, ok := r.pop()
	assert.False(t, ok)
}

func TestRingRoundsCapacityUpToAPowerOfTwo(t *testing.T) {
	r := newRing[int](3)
	assert.Equal(t, 4, len(r.buffer))
}

func TestRingSurvivesConcurrentProducersAndConsumers(t *testing.T) {
	r := newRing[int](64)
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pushed := 0
		for pushed < n {
			if r.push(pushed) {
				pushed++
			}
		}
	}()

	received := make([]int, 0, n)
	go func() {
		defer wg.Done()
		for len(received) < n {
			if v, ok := r.pop(); ok {
				received = append(received, v)
			}
		}
	}()
	wg.Wait()

	assert.Len(t, received, n)
}

func TestRingLenReflectsOccupancy(t *testing.T) {
	r := newRing[int](8)
	assert.Equal(t, 0, r.len())
	r.push(1)
	r.push(2)
	assert.Equal(t, 2, r.len())
	r.pop()
	assert.Equal(t, 1, r.len())
}
