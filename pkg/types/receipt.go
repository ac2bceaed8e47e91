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

package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// ChatmanConstantFailure is the guard name recorded whenever a step's ticks
// exceed the chatman constant (spec P1).
const ChatmanConstantFailure = "CHATMAN_CONSTANT"

// CancelledFailure is the marker recorded on a receipt for a task cancelled
// at a phase boundary (spec §4.3).
const CancelledFailure = "CANCELLED"

// TimeoutFailure is the marker recorded on a receipt for a task whose
// deadline elapsed (spec §5).
const TimeoutFailure = "TIMEOUT"

// Receipt is the immutable proof of one executor step (spec §3, §6).
type Receipt struct {
	ID                 string
	SnapshotID         string
	PatternID          uint8
	OInHash            [32]byte
	AOutHash           [32]byte
	GuardsChecked      []string
	GuardsFailed       []string
	TicksUsed          uint32
	Timestamp          time.Time
	WorkflowInstanceID string
	Success            bool
	SpanID             uint64
	Lanes              uint32
	Sequence           uint64
}

// OInHashHex renders OInHash as the wire-format "sha3-256:<hex>" string.
func (r Receipt) OInHashHex() string {
	return "sha3-256:" + hex.EncodeToString(r.OInHash[:])
}

// AOutHashHex renders AOutHash as the wire-format "sha3-256:<hex>" string.
func (r Receipt) AOutHashHex() string {
	return "sha3-256:" + hex.EncodeToString(r.AOutHash[:])
}

// hasGuard reports whether name is present in list.
func hasGuard(list []string, name string) bool {
	for _, g := range list {
		if g == name {
			return true
		}
	}
	return false
}

// Validate checks P1: success=true implies guards_failed is empty and
// ticks≤8; ticks>8 implies CHATMAN_CONSTANT is recorded and success=false.
func (r Receipt) Validate() error {
	if r.Success {
		if len(r.GuardsFailed) != 0 {
			return fmt.Errorf("types: receipt %s: success=true but guards_failed is non-empty", r.ID)
		}
		if r.TicksUsed > ChatmanConstant {
			return fmt.Errorf("types: receipt %s: success=true but ticks_used %d exceeds chatman constant", r.ID, r.TicksUsed)
		}
		return nil
	}
	if r.TicksUsed > ChatmanConstant && !hasGuard(r.GuardsFailed, ChatmanConstantFailure) {
		return fmt.Errorf("types: receipt %s: ticks_used %d exceeds chatman constant but %s is not recorded", r.ID, r.TicksUsed, ChatmanConstantFailure)
	}
	return nil
}

// VerifyProvenance recomputes hash(O) and hash(A) and compares them against
// the recorded OInHash/AOutHash, proving A = μ(O) for this receipt (spec P2).
func (r Receipt) VerifyProvenance(o Observation, a Action) bool {
	return o.Hash() == r.OInHash && a.Hash() == r.AOutHash
}

// MergedReceipt is the result of ⊕-merging a set of receipts: max over
// ticks, sum over lane counts, XOR over span-id and hash-fragment (spec §4.4).
type MergedReceipt struct {
	MaxTicks     uint32
	LaneSum      uint32
	SpanXOR      uint64
	HashFragment uint64
}

// hashFragment reduces a receipt's content hashes to a single 64-bit word
// for the ⊕-merge's XOR accumulator.
func hashFragment(r Receipt) uint64 {
	return binary.BigEndian.Uint64(r.OInHash[:8]) ^ binary.BigEndian.Uint64(r.AOutHash[:8])
}

// Merge folds receipts with ⊕: associative and commutative, so merging is
// safe across threads and independent of receipt order (spec round-trip
// law). Merge of an empty set is the zero MergedReceipt.
func Merge(receipts []Receipt) MergedReceipt {
	var out MergedReceipt
	for _, r := range receipts {
		if r.TicksUsed > out.MaxTicks {
			out.MaxTicks = r.TicksUsed
		}
		out.LaneSum += r.Lanes
		out.SpanXOR ^= r.SpanID
		out.HashFragment ^= hashFragment(r)
	}
	return out
}

// MergeTwo combines two already-merged results. Associativity of Merge
// follows from this operation being applied pairwise: MergeTwo(a, b) ==
// MergeTwo(b, a), and MergeTwo(MergeTwo(a,b),c) == MergeTwo(a,MergeTwo(b,c)).
func MergeTwo(a, b MergedReceipt) MergedReceipt {
	max := a.MaxTicks
	if b.MaxTicks > max {
		max = b.MaxTicks
	}
	return MergedReceipt{
		MaxTicks:     max,
		LaneSum:      a.LaneSum + b.LaneSum,
		SpanXOR:      a.SpanXOR ^ b.SpanXOR,
		HashFragment: a.HashFragment ^ b.HashFragment,
	}
}
