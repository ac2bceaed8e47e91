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

// Package receiptlog is the append-only store of executor receipts (spec
// §4.4, §6). MemoryLog assigns each appended receipt the next global
// sequence number and hash-chains it to the previous receipt in the same
// workflow instance's partition; SQLLog stores receipts with a sequence
// number but keeps no chain digest. ByWorkflow and BySnapshot answer the two
// access patterns an operator or the MAPE-K loop actually needs.
package receiptlog

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"sync"
	"sync/atomic"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// Log is the receipt store contract every backend implements.
type Log interface {
	Append(ctx context.Context, r types.Receipt) (string, error)
	Get(ctx context.Context, id string) (types.Receipt, error)
	ByWorkflow(ctx context.Context, workflowInstanceID string) ([]types.Receipt, error)
	BySnapshot(ctx context.Context, snapshotID string) ([]types.Receipt, error)
	GetViolations(ctx context.Context) ([]types.Receipt, error)
	Stats(ctx context.Context) (Stats, error)
}

// Stats summarizes a log's contents for the admission dashboard and the
// MAPE-K Monitor phase.
type Stats struct {
	Total       uint64
	Violations  uint64
	TickSum     uint64
	ByWorkflow  map[string]uint64
	PerPattern  map[uint8]PatternAccum
	MergedAccum types.MergedReceipt
}

// PatternAccum is the per-pattern-id rollup Stats builds across every
// receipt in the log, letting Analyze rank patterns by wall-time share
// (spec §4.5's 80/20 hot-spot detector) without re-scanning the log itself.
type PatternAccum struct {
	Count    uint64
	TickSum  uint64
	MaxTicks uint32
}

// entry is one receipt plus its position in the hash chain.
type entry struct {
	receipt      types.Receipt
	sequence     uint64
	chainDigest  [32]byte
}

// MemoryLog is an in-memory receipt log partitioned by workflow instance ID
// behind a single RWMutex, with a global atomic sequence counter giving a
// total order across partitions.
type MemoryLog struct {
	sequence atomic.Uint64

	mu          sync.RWMutex
	byID        map[string]*entry
	byWorkflow  map[string][]*entry
	bySnapshot  map[string][]*entry
	lastDigest  map[string][32]byte // per-workflow chain tail
}

// NewMemoryLog constructs an empty in-memory receipt log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		byID:       make(map[string]*entry),
		byWorkflow: make(map[string][]*entry),
		bySnapshot: make(map[string][]*entry),
		lastDigest: make(map[string][32]byte),
	}
}

// chainDigest computes sha256(prevDigest || oInHash || aOutHash), linking r
// to the previous receipt recorded for the same workflow instance. The
// first receipt in a partition chains from the zero digest.
func chainDigest(prev [32]byte, r types.Receipt) [32]byte {
	h := sha256.New()
	h.Write(prev[:])
	h.Write(r.OInHash[:])
	h.Write(r.AOutHash[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Append assigns r the next global sequence number, chains it into its
// workflow instance's partition, and indexes it by ID, workflow, and
// snapshot. Append does not call types.Receipt.Validate, so it never
// rejects a structurally invalid receipt, but it does reject a duplicate ID.
func (l *MemoryLog) Append(_ context.Context, r types.Receipt) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[r.ID]; exists {
		return "", kherrors.Newf(kherrors.ErrorTypeValidation, "receiptlog: receipt %s already appended", r.ID)
	}

	r.Sequence = l.sequence.Add(1)
	prev := l.lastDigest[r.WorkflowInstanceID]
	digest := chainDigest(prev, r)
	l.lastDigest[r.WorkflowInstanceID] = digest

	e := &entry{receipt: r, sequence: r.Sequence, chainDigest: digest}
	l.byID[r.ID] = e
	l.byWorkflow[r.WorkflowInstanceID] = append(l.byWorkflow[r.WorkflowInstanceID], e)
	l.bySnapshot[r.SnapshotID] = append(l.bySnapshot[r.SnapshotID], e)

	return r.ID, nil
}

// Get returns the receipt with the given ID.
func (l *MemoryLog) Get(_ context.Context, id string) (types.Receipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.byID[id]
	if !ok {
		return types.Receipt{}, kherrors.Newf(kherrors.ErrorTypeValidation, "receiptlog: no receipt %s", id)
	}
	return e.receipt, nil
}

// ByWorkflow returns every receipt recorded for a workflow instance, in
// chain order.
func (l *MemoryLog) ByWorkflow(_ context.Context, workflowInstanceID string) ([]types.Receipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.byWorkflow[workflowInstanceID]
	out := make([]types.Receipt, len(entries))
	for i, e := range entries {
		out[i] = e.receipt
	}
	return out, nil
}

// BySnapshot returns every receipt produced against a given snapshot ID,
// ordered by global sequence number.
func (l *MemoryLog) BySnapshot(_ context.Context, snapshotID string) ([]types.Receipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := append([]*entry(nil), l.bySnapshot[snapshotID]...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].sequence < entries[j].sequence })

	out := make([]types.Receipt, len(entries))
	for i, e := range entries {
		out[i] = e.receipt
	}
	return out, nil
}

// GetViolations returns every receipt recorded with Success=false, ordered
// by global sequence number.
func (l *MemoryLog) GetViolations(_ context.Context) ([]types.Receipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []types.Receipt
	for _, e := range l.byID {
		if !e.receipt.Success {
			out = append(out, e.receipt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// Stats computes a snapshot of the log's contents, folding every receipt
// through the ⊕-merge so callers get an associative summary regardless of
// how Stats happens to iterate the underlying map.
func (l *MemoryLog) Stats(_ context.Context) (Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := Stats{
		ByWorkflow: make(map[string]uint64, len(l.byWorkflow)),
		PerPattern: make(map[uint8]PatternAccum),
	}
	all := make([]types.Receipt, 0, len(l.byID))
	for wfID, entries := range l.byWorkflow {
		out.ByWorkflow[wfID] = uint64(len(entries))
	}
	for _, e := range l.byID {
		out.Total++
		out.TickSum += uint64(e.receipt.TicksUsed)
		if !e.receipt.Success {
			out.Violations++
		}
		pa := out.PerPattern[e.receipt.PatternID]
		pa.Count++
		pa.TickSum += uint64(e.receipt.TicksUsed)
		if e.receipt.TicksUsed > pa.MaxTicks {
			pa.MaxTicks = e.receipt.TicksUsed
		}
		out.PerPattern[e.receipt.PatternID] = pa
		all = append(all, e.receipt)
	}
	out.MergedAccum = types.Merge(all)
	return out, nil
}

// VerifyChain recomputes the hash chain for a workflow instance's receipts
// and reports whether it matches what Append recorded, detecting any
// receipt that was inserted, removed, or reordered after the fact.
func (l *MemoryLog) VerifyChain(workflowInstanceID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.byWorkflow[workflowInstanceID]
	var prev [32]byte
	for _, e := range entries {
		want := chainDigest(prev, e.receipt)
		if want != e.chainDigest {
			return false
		}
		prev = want
	}
	return true
}

// sequenceKey renders a sequence number as a fixed-width big-endian byte
// string, suitable as a sort key or a disk-backend cursor.
func sequenceKey(seq uint64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b
}
