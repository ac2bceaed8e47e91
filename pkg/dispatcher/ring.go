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

import "sync/atomic"

// ring is a bounded, lock-free multi-producer multi-consumer queue
// (Dmitry Vyukov's MPMC ring buffer algorithm). The pack has no ready-made
// lock-free ring buffer — golang.org/x/sync's primitives (singleflight,
// errgroup, semaphore) are mutex/channel based, not a ring — so this is a
// justified stdlib-only component; see DESIGN.md.
type ring[T any] struct {
	mask       uint64
	buffer     []cell[T]
	enqueuePos atomic.Uint64
	dequeuePos atomic.Uint64
}

type cell[T any] struct {
	seq   atomic.Uint64
	value T
}

// newRing builds a ring of the smallest power of two ≥ capacity.
func newRing[T any](capacity int) *ring[T] {
	size := 1
	for size < capacity {
		size <<= 1
	}
	r := &ring[T]{
		mask:   uint64(size - 1),
		buffer: make([]cell[T], size),
	}
	for i := range r.buffer {
		r.buffer[i].seq.Store(uint64(i))
	}
	return r
}

// push enqueues v, returning false if the ring is full.
func (r *ring[T]) push(v T) bool {
	pos := r.enqueuePos.Load()
	for {
		c := &r.buffer[pos&r.mask]
		seq := c.seq.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if r.enqueuePos.CompareAndSwap(pos, pos+1) {
				c.value = v
				c.seq.Store(pos + 1)
				return true
			}
			pos = r.enqueuePos.Load()
		case diff < 0:
			return false
		default:
			pos = r.enqueuePos.Load()
		}
	}
}

// pop dequeues the oldest value, returning false if the ring is empty.
func (r *ring[T]) pop() (T, bool) {
	pos := r.dequeuePos.Load()
	for {
		c := &r.buffer[pos&r.mask]
		seq := c.seq.Load()
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if r.dequeuePos.CompareAndSwap(pos, pos+1) {
				v := c.value
				var zero T
				c.value = zero
				c.seq.Store(pos + r.mask + 1)
				return v, true
			}
			pos = r.dequeuePos.Load()
		case diff < 0:
			var zero T
			return zero, false
		default:
			pos = r.dequeuePos.Load()
		}
	}
}

// len reports an approximate occupancy: safe to call concurrently with
// push/pop, but may be stale by the time the caller reads it.
func (r *ring[T]) len() int {
	enq := r.enqueuePos.Load()
	deq := r.dequeuePos.Load()
	if enq < deq {
		return 0
	}
	return int(enq - deq)
}
