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

// Package dispatcher routes admitted tasks to one of three execution
// strata — hot, warm, cold — and drains each stratum's queue under its own
// tick budget (spec §4.4). Hot and warm queues are lock-free bounded rings;
// the cold queue is an unbounded mutex-guarded slice, matching the
// teacher's pack-wide preference for explicit synchronization primitives
// over ad-hoc lock-free structures everywhere except the one place a ring
// buffer is actually load-bearing.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/pkg/executor"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// Executor is the subset of pkg/executor.Executor the dispatcher drives.
type Executor interface {
	Run(ctx context.Context, task executor.Task, descriptor *types.Descriptor) (types.Receipt, error)
}

// DescriptorSource supplies the currently promoted descriptor tasks
// execute against.
type DescriptorSource interface {
	Current() *types.Descriptor
}

// AndonRaiser is the subset of pkg/andon.Monitor the dispatcher reports
// execution faults to.
type AndonRaiser interface {
	ReportFault(stageName string)
}

// Config configures a Dispatcher.
type Config struct {
	Executor    Executor
	Descriptors DescriptorSource
	Andon       AndonRaiser
}

// queuedTask is one task waiting in a stratum's queue.
type queuedTask struct {
	task executor.Task
}

// Stats accumulates counters across every stratum's poll loop.
type Stats struct {
	HotExecutions    atomic.Uint64
	WarmExecutions   atomic.Uint64
	ColdExecutions   atomic.Uint64
	StratumDemotions atomic.Uint64
}

// Dispatcher drains the hot, warm, and cold queues concurrently, demoting
// a task to the next stratum down whenever it exceeds its current
// stratum's tick budget.
type Dispatcher struct {
	log         logr.Logger
	exec        Executor
	descriptors DescriptorSource
	andon       AndonRaiser

	hot  *ring[queuedTask]
	warm *ring[queuedTask]

	coldMu sync.Mutex
	cold   []queuedTask

	stats Stats
}

// New constructs a Dispatcher with a HotQueueCapacity-sized hot ring and a
// WarmQueueCapacity-sized warm ring.
func New(log logr.Logger, cfg Config) *Dispatcher {
	return &Dispatcher{
		log:         log,
		exec:        cfg.Executor,
		descriptors: cfg.Descriptors,
		andon:       cfg.Andon,
		hot:         newRing[queuedTask](HotQueueCapacity),
		warm:        newRing[queuedTask](WarmQueueCapacity),
	}
}

// Submit enqueues task onto stratum's queue. Hot and warm queues reject a
// submission once full (backpressure); the cold queue never rejects.
func (d *Dispatcher) Submit(task executor.Task, stratum Stratum) error {
	qt := queuedTask{task: task}
	switch stratum {
	case StratumHot:
		if !d.hot.push(qt) {
			return errFull(stratum)
		}
	case StratumWarm:
		if !d.warm.push(qt) {
			return errFull(stratum)
		}
	default:
		d.coldMu.Lock()
		d.cold = append(d.cold, qt)
		d.coldMu.Unlock()
	}
	return nil
}

// QueueDepths reports the current approximate occupancy of each stratum's
// queue, for metrics.
func (d *Dispatcher) QueueDepths() (hot, warm, cold int) {
	d.coldMu.Lock()
	cold = len(d.cold)
	d.coldMu.Unlock()
	return d.hot.len(), d.warm.len(), cold
}

// Stats returns a snapshot of accumulated execution counters.
func (d *Dispatcher) Stats() (hot, warm, coldN, demotions uint64) {
	return d.stats.HotExecutions.Load(), d.stats.WarmExecutions.Load(), d.stats.ColdExecutions.Load(), d.stats.StratumDemotions.Load()
}

// Run drains all three strata until ctx is cancelled, one goroutine per
// stratum under a single cancellable errgroup, each backing off with a
// doubling, capped sleep whenever its queue comes up empty.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.pollHot(ctx) })
	g.Go(func() error { return d.pollWarm(ctx) })
	g.Go(func() error { return d.pollCold(ctx) })
	return g.Wait()
}

const (
	minBackoff = time.Millisecond
	maxBackoff = 50 * time.Millisecond
)

func (d *Dispatcher) pollHot(ctx context.Context) error {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		processed := 0
		for processed < HotBatchSize {
			qt, ok := d.hot.pop()
			if !ok {
				break
			}
			processed++
			d.execute(ctx, qt.task, StratumHot, HotTickBudget, d.warm.push)
		}
		backoff = d.sleepOrReset(ctx, processed, backoff)
	}
}

func (d *Dispatcher) pollWarm(ctx context.Context) error {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		processed := 0
		for processed < WarmBatchSize {
			qt, ok := d.warm.pop()
			if !ok {
				break
			}
			processed++
			d.execute(ctx, qt.task, StratumWarm, WarmTickBudget, func(t queuedTask) bool {
				d.coldMu.Lock()
				d.cold = append(d.cold, t)
				d.coldMu.Unlock()
				return true
			})
		}
		backoff = d.sleepOrReset(ctx, processed, backoff)
	}
}

func (d *Dispatcher) pollCold(ctx context.Context) error {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		processed := 0
		for processed < ColdBatchSize {
			d.coldMu.Lock()
			if len(d.cold) == 0 {
				d.coldMu.Unlock()
				break
			}
			qt := d.cold[len(d.cold)-1]
			d.cold = d.cold[:len(d.cold)-1]
			d.coldMu.Unlock()

			processed++
			d.execute(ctx, qt.task, StratumCold, 0, nil)
		}
		backoff = d.sleepOrReset(ctx, processed, backoff)
	}
}

// execute runs task against the current descriptor. If budget is nonzero
// and the receipt's tick count exceeds it, the task is demoted via demote
// (nil for the cold stratum, which has nowhere further to go).
func (d *Dispatcher) execute(ctx context.Context, task executor.Task, stratum Stratum, budget uint32, demote func(queuedTask) bool) {
	descriptor := d.descriptors.Current()
	if descriptor == nil {
		d.raiseFault("no_descriptor")
		return
	}

	receipt, err := d.exec.Run(ctx, task, descriptor)
	if err != nil {
		d.raiseFault("execution")
		d.log.Error(err, "dispatcher: task execution failed", "stratum", stratum.String())
		return
	}

	d.countExecution(stratum)

	if budget > 0 && receipt.TicksUsed > budget && demote != nil {
		d.stats.StratumDemotions.Add(1)
		demote(queuedTask{task: task})
	}
}

func (d *Dispatcher) countExecution(stratum Stratum) {
	switch stratum {
	case StratumHot:
		d.stats.HotExecutions.Add(1)
	case StratumWarm:
		d.stats.WarmExecutions.Add(1)
	case StratumCold:
		d.stats.ColdExecutions.Add(1)
	}
}

func (d *Dispatcher) raiseFault(stage string) {
	if d.andon != nil {
		d.andon.ReportFault(stage)
	}
}

func errFull(stratum Stratum) error {
	return kherrors.Newf(kherrors.ErrorTypeReject, "dispatcher: %s queue is full", stratum)
}

// sleepOrReset sleeps for backoff and doubles it (capped) when processed is
// zero, or resets to minBackoff when work was done.
func (d *Dispatcher) sleepOrReset(ctx context.Context, processed int, backoff time.Duration) time.Duration {
	if processed > 0 {
		return minBackoff
	}
	select {
	case <-ctx.Done():
	case <-time.After(backoff):
	}
	next := backoff * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}
