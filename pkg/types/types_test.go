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
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotContentHashIsOrderIndependent(t *testing.T) {
	triples := []Triple{
		{Subject: "s1", Predicate: "p1", Object: "o1"},
		{Subject: "s2", Predicate: "p2", Object: "o2"},
		{Subject: "s3", Predicate: "p3", Object: "o3"},
	}
	reversed := []Triple{triples[2], triples[1], triples[0]}

	a, err := NewSnapshot("snap-a", 1, "", SnapshotMeta{}, triples, nil)
	require.NoError(t, err)
	b, err := NewSnapshot("snap-b", 1, "", SnapshotMeta{}, reversed, nil)
	require.NoError(t, err)

	assert.Equal(t, a.ContentHash(), b.ContentHash())
}

func TestSnapshotRejectsSchemaViolation(t *testing.T) {
	schema := ClosedShape{Predicates: map[string]PredicateConstraint{
		"knows": {MinCount: 1},
	}}
	_, err := NewSnapshot("snap", 1, "", SnapshotMeta{}, []Triple{
		{Subject: "s", Predicate: "unknown-predicate", Object: "o"},
	}, schema)
	assert.Error(t, err)
}

func TestSnapshotAcceptsConformingTriples(t *testing.T) {
	schema := ClosedShape{Predicates: map[string]PredicateConstraint{
		"knows": {MinCount: 1},
	}}
	snap, err := NewSnapshot("snap", 1, "", SnapshotMeta{}, []Triple{
		{Subject: "s", Predicate: "knows", Object: "o"},
	}, schema)
	require.NoError(t, err)
	assert.Len(t, snap.Triples(), 1)
}

func TestPatternValidateBoundary(t *testing.T) {
	makePhases := func(n int) []Phase {
		phases := make([]Phase, n)
		for i := range phases {
			phases[i] = Phase{Name: "p", TickEstimate: 0}
		}
		if n > 0 {
			phases[0].TickEstimate = ChatmanConstant
		}
		return phases
	}

	eight := Pattern{Name: "eight-phase", Phases: makePhases(8)}
	assert.NoError(t, eight.Validate())

	nine := Pattern{Name: "nine-phase", Phases: makePhases(9)}
	assert.Error(t, nine.Validate())
}

func TestPatternValidateRejectsOverBudgetTicks(t *testing.T) {
	p := Pattern{Name: "over-budget", Phases: []Phase{{TickEstimate: 9}}}
	assert.Error(t, p.Validate())
}

func TestReceiptValidateBoundary(t *testing.T) {
	eightTicks := Receipt{ID: "r1", Success: true, TicksUsed: 8}
	assert.NoError(t, eightTicks.Validate())

	nineTicksNoFailure := Receipt{ID: "r2", Success: false, TicksUsed: 9}
	assert.Error(t, nineTicksNoFailure.Validate())

	nineTicksRecorded := Receipt{ID: "r3", Success: false, TicksUsed: 9, GuardsFailed: []string{ChatmanConstantFailure}}
	assert.NoError(t, nineTicksRecorded.Validate())

	successWithFailedGuard := Receipt{ID: "r4", Success: true, GuardsFailed: []string{"g1"}}
	assert.Error(t, successWithFailedGuard.Validate())
}

func TestReceiptVerifyProvenance(t *testing.T) {
	o := Observation{Payload: []byte("payload"), PatternByte: 1, Timestamp: time.Unix(0, 0)}
	a := Action{Terminated: true}
	r := Receipt{OInHash: o.Hash(), AOutHash: a.Hash()}
	assert.True(t, r.VerifyProvenance(o, a))

	tampered := Action{Terminated: false}
	assert.False(t, r.VerifyProvenance(o, tampered))
}

func TestMergeIsAssociativeAndCommutative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randomReceipt := func() Receipt {
		return Receipt{
			TicksUsed: uint32(rng.Intn(20)),
			Lanes:     uint32(rng.Intn(5)),
			SpanID:    rng.Uint64(),
			OInHash:   randHash(rng),
			AOutHash:  randHash(rng),
		}
	}

	for i := 0; i < 50; i++ {
		a, b, c := randomReceipt(), randomReceipt(), randomReceipt()

		commutative1 := MergeTwo(Merge([]Receipt{a}), Merge([]Receipt{b}))
		commutative2 := MergeTwo(Merge([]Receipt{b}), Merge([]Receipt{a}))
		assert.Equal(t, commutative1, commutative2)

		lhs := MergeTwo(MergeTwo(Merge([]Receipt{a}), Merge([]Receipt{b})), Merge([]Receipt{c}))
		rhs := MergeTwo(Merge([]Receipt{a}), MergeTwo(Merge([]Receipt{b}), Merge([]Receipt{c})))
		assert.Equal(t, lhs, rhs)

		whole := Merge([]Receipt{a, b, c})
		assert.Equal(t, whole, lhs)
	}
}

func randHash(rng *rand.Rand) [32]byte {
	var h [32]byte
	rng.Read(h[:])
	return h
}

func TestOverlayScopeIntersects(t *testing.T) {
	a := OverlayScope{PatternIDs: []uint8{1, 2}}
	b := OverlayScope{PatternIDs: []uint8{2, 3}}
	c := OverlayScope{PatternIDs: []uint8{4}}

	assert.True(t, a.Intersects(b))
	assert.False(t, a.Intersects(c))
}

func TestInternerStableRoundTrip(t *testing.T) {
	in := NewInterner()
	h1 := in.Intern("http://example.org/a")
	h2 := in.Intern("http://example.org/b")
	h1Again := in.Intern("http://example.org/a")

	assert.Equal(t, h1, h1Again)
	assert.NotEqual(t, h1, h2)

	name, err := in.Resolve(h1)
	require.NoError(t, err)
	assert.Equal(t, "http://example.org/a", name)

	_, err = in.Resolve(Handle(1000))
	assert.Error(t, err)
}
