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

// Package executor runs one compiled pattern's phase chain against an
// admitted observation and produces the receipt proving A = μ(O) (spec
// §4.4). The executor performs no I/O of its own: effect phases delegate to
// a host-supplied SideEffectPort, and every receipt is handed to a
// ReceiptSink rather than persisted here.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/pkg/executor/tick"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// RuntimeClass names the SLO bucket a single pattern execution fell into,
// by wall-clock duration: R1 is the hot path, W1 warm, C1 cold.
type RuntimeClass string

const (
	RuntimeClassR1 RuntimeClass = "R1"
	RuntimeClassW1 RuntimeClass = "W1"
	RuntimeClassC1 RuntimeClass = "C1"
)

// r1Threshold and w1Threshold bound RuntimeClassR1 and RuntimeClassW1
// respectively; anything slower is RuntimeClassC1.
const (
	r1Threshold = 2 * time.Microsecond
	w1Threshold = time.Millisecond
)

// ClassifyRuntime buckets an execution's wall-clock duration into a
// RuntimeClass.
func ClassifyRuntime(elapsed time.Duration) RuntimeClass {
	switch {
	case elapsed <= r1Threshold:
		return RuntimeClassR1
	case elapsed <= w1Threshold:
		return RuntimeClassW1
	default:
		return RuntimeClassC1
	}
}

// SideEffectPort performs one named side effect on the executor's behalf.
// The executor never touches the network, disk, or any other I/O directly;
// every HandlerEffect phase is a call through this port.
type SideEffectPort interface {
	Invoke(ctx context.Context, port string, payload []byte) ([]byte, error)
}

// ReceiptSink is the subset of the receipt log the executor appends to.
type ReceiptSink interface {
	Append(ctx context.Context, r types.Receipt) (string, error)
}

// AndonRaiser is the subset of pkg/andon.Monitor the executor reports
// pattern-lookup, side-effect-port, side-effect and tick-budget faults to.
type AndonRaiser interface {
	ReportFault(stageName string)
}

// Task is one unit of execution: an admitted observation bound to a
// pattern, scoped to a workflow instance.
type Task struct {
	WorkflowInstanceID string
	SnapshotID         string
	PatternID          uint8
	Observation        types.Observation
}

// Config configures an Executor.
type Config struct {
	Effects  SideEffectPort
	Receipts ReceiptSink
	Andon    AndonRaiser
	Counter  tick.Counter
}

// Executor runs compiled pattern phase chains. Run is safe for concurrent
// use across distinct tasks; it holds no mutable state of its own beyond
// its collaborators.
type Executor struct {
	log      logr.Logger
	effects  SideEffectPort
	receipts ReceiptSink
	andon    AndonRaiser
	counter  tick.Counter
}

// New constructs an Executor. A nil Counter falls back to
// tick.WallClockCounter{}.
func New(log logr.Logger, cfg Config) *Executor {
	counter := cfg.Counter
	if counter == nil {
		counter = tick.WallClockCounter{}
	}
	return &Executor{
		log:      log,
		effects:  cfg.Effects,
		receipts: cfg.Receipts,
		andon:    cfg.Andon,
		counter:  counter,
	}
}

// decodedPhase is one phase decoded from a descriptor's code segment: a
// handler kind and its compile-time tick estimate.
type decodedPhase struct {
	kind         types.HandlerKind
	tickEstimate int
}

// phasesFor decodes the phase chain for patternID out of descriptor, using
// the symbol table to find the phase count at the pattern's entry address.
func phasesFor(descriptor *types.Descriptor, patternID uint8) ([]decodedPhase, error) {
	addr, ok := descriptor.EntryPointFor(patternID)
	if !ok {
		return nil, kherrors.Newf(kherrors.ErrorTypeRuntime, "executor: no entry point for pattern %d", patternID)
	}
	var count uint32
	found := false
	for _, sym := range descriptor.Symbols {
		if sym.Type == types.SymbolPattern && sym.Address == addr {
			count = sym.Size
			found = true
			break
		}
	}
	if !found {
		return nil, kherrors.Newf(kherrors.ErrorTypeRuntime, "executor: no symbol table entry for pattern %d at address %d", patternID, addr)
	}

	phases := make([]decodedPhase, 0, count)
	offset := addr
	for i := uint32(0); i < count; i++ {
		if int(offset)+1 >= len(descriptor.Code) {
			return nil, kherrors.Newf(kherrors.ErrorTypeRuntime, "executor: pattern %d code segment truncated at phase %d", patternID, i)
		}
		phases = append(phases, decodedPhase{
			kind:         types.HandlerKind(descriptor.Code[offset]),
			tickEstimate: int(descriptor.Code[offset+1]),
		})
		offset += 2
	}
	return phases, nil
}

// Run executes task's pattern against descriptor, phase by phase, measures
// elapsed ticks, and produces the receipt proving A = μ(O). Run never
// performs I/O itself: HandlerEffect phases call through the Executor's
// SideEffectPort.
func (e *Executor) Run(ctx context.Context, task Task, descriptor *types.Descriptor) (types.Receipt, error) {
	wallStart := time.Now()
	stopTicks := e.counter.Start()

	phases, err := phasesFor(descriptor, task.PatternID)
	if err != nil {
		e.raiseFault("pattern_lookup")
		return types.Receipt{}, err
	}

	action := types.Action{VariableUpdates: map[string]string{}}
	var guardsChecked []string

	for i, ph := range phases {
		switch ph.kind {
		case types.HandlerPure:
			action.VariableUpdates[phaseVarKey(task.PatternID, i)] = "ok"
		case types.HandlerEffect:
			if e.effects == nil {
				e.raiseFault("missing_side_effect_port")
				return types.Receipt{}, kherrors.Newf(kherrors.ErrorTypeRuntime, "executor: pattern %d phase %d is an effect handler but no SideEffectPort is configured", task.PatternID, i)
			}
			port := phaseVarKey(task.PatternID, i)
			out, err := e.effects.Invoke(ctx, port, task.Observation.Payload)
			if err != nil {
				e.raiseFault("side_effect")
				return types.Receipt{}, kherrors.Wrapf(err, kherrors.ErrorTypeRuntime, "executor: side effect port %q failed", port)
			}
			action.Effects = append(action.Effects, types.EffectRecord{Port: port, Payload: out})
		case types.HandlerReceiptEmitting:
			guardsChecked = append(guardsChecked, phaseVarKey(task.PatternID, i))
		}
	}
	action.Terminated = true

	ticksUsed := stopTicks()
	elapsed := time.Since(wallStart)
	runtimeClass := ClassifyRuntime(elapsed)

	receipt := types.Receipt{
		ID:                 uuid.NewString(),
		SnapshotID:         task.SnapshotID,
		PatternID:          task.PatternID,
		OInHash:            task.Observation.Hash(),
		AOutHash:           action.Hash(),
		GuardsChecked:      guardsChecked,
		TicksUsed:          ticksUsed,
		Timestamp:          time.Now(),
		WorkflowInstanceID: task.WorkflowInstanceID,
		Success:            ticksUsed <= types.ChatmanConstant,
	}
	if !receipt.Success {
		receipt.GuardsFailed = append(receipt.GuardsFailed, types.ChatmanConstantFailure)
		e.raiseFault("tick_budget")
	}

	e.log.V(1).Info("executed pattern",
		"pattern_id", task.PatternID,
		"ticks_used", ticksUsed,
		"runtime_class", runtimeClass,
		"success", receipt.Success,
	)

	if e.receipts != nil {
		if _, err := e.receipts.Append(ctx, receipt); err != nil {
			return receipt, kherrors.Wrap(err, kherrors.ErrorTypeRuntime, "executor: appending receipt failed")
		}
	}

	return receipt, nil
}

func (e *Executor) raiseFault(stage string) {
	if e.andon != nil {
		e.andon.ReportFault(stage)
	}
}

// phaseVarKey names the side-effect port / pure-phase variable key for
// patternID's i-th phase. The key is positional (pattern ID plus phase
// index) because phase names are not retained in the binary form; the
// symbol table pkg/compiler emits names patterns, not these keys.
func phaseVarKey(patternID uint8, phaseIndex int) string {
	return fmt.Sprintf("phase_%d_%d", patternID, phaseIndex)
}
