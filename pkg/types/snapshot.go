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
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"
)

// SnapshotMeta carries the non-content metadata a Snapshot (Σ) is created
// with: who made it, when, and why. The snapshot it evolved from is recorded
// on Snapshot.ParentID, not here.
type SnapshotMeta struct {
	Creator     string
	Timestamp   time.Time
	Description string
}

// Snapshot (Σ) is an immutable set of triples with a deterministic content
// hash, a monotone version number, an optional parent reference, and
// metadata. Snapshots are never mutated after creation (spec §3 invariant c).
type Snapshot struct {
	ID       string
	Version  uint64
	ParentID string // "" for a root snapshot
	Meta     SnapshotMeta

	triples []Triple
	hash    [32]byte
}

// NewSnapshot type-checks triples against schema (invariant a), then builds
// an immutable Snapshot with a deterministic content hash (invariant b).
// triples is copied; the caller's slice may be freely mutated afterward.
func NewSnapshot(id string, version uint64, parentID string, meta SnapshotMeta, triples []Triple, schema ShapeSchema) (*Snapshot, error) {
	if schema != nil {
		if err := schema.Validate(triples); err != nil {
			return nil, err
		}
	}

	sorted := SortTriples(triples)
	frozen := make([]Triple, len(sorted))
	copy(frozen, sorted)

	return &Snapshot{
		ID:       id,
		Version:  version,
		ParentID: parentID,
		Meta:     meta,
		triples:  frozen,
		hash:     hashQuads(frozen),
	}, nil
}

// Triples returns a defensive copy of the snapshot's triples in canonical
// order. Snapshots are immutable: mutating the returned slice never affects
// the Snapshot.
func (s *Snapshot) Triples() []Triple {
	out := make([]Triple, len(s.triples))
	copy(out, s.triples)
	return out
}

// ContentHash is the SHA3-256 digest over the canonically sorted quad form.
// Two snapshots built from the same triple set always produce the same
// ContentHash, regardless of the order triples were supplied in.
func (s *Snapshot) ContentHash() [32]byte {
	return s.hash
}

// ContentHashHex renders ContentHash as a lowercase hex string.
func (s *Snapshot) ContentHashHex() string {
	return hex.EncodeToString(s.hash[:])
}

func hashQuads(sorted []Triple) [32]byte {
	h := sha3.New256()
	for _, t := range sorted {
		h.Write([]byte(t.Quad()))
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// ShapeSchema type-checks a candidate triple set: min-count per predicate,
// datatype constraints on object values, and (if closed) a fixed allow-list
// of predicates. Both the admission gate's shape-validation stage and the
// compiler's semantic-validation phase validate against a ShapeSchema.
type ShapeSchema interface {
	Validate(triples []Triple) error
}

// ClosedShape is a ShapeSchema that only admits a declared set of predicates,
// each with a minimum occurrence count and an optional datatype check.
type ClosedShape struct {
	// Predicates lists every predicate this shape allows. A triple whose
	// predicate is not in this set fails validation (closed-shape).
	Predicates map[string]PredicateConstraint
}

// PredicateConstraint bounds how a single predicate may appear.
type PredicateConstraint struct {
	MinCount int
	// DatatypeCheck, if non-nil, must accept every object value used with
	// this predicate.
	DatatypeCheck func(object string) bool
}

// ErrUnknownPredicate is the sentinel underlying message used when a triple's
// predicate is not declared by a ClosedShape.
const ErrUnknownPredicate = "predicate not declared by shape"

// Validate implements ShapeSchema.
func (c ClosedShape) Validate(triples []Triple) error {
	counts := make(map[string]int, len(c.Predicates))
	for _, t := range triples {
		constraint, ok := c.Predicates[t.Predicate]
		if !ok {
			return fmt.Errorf("types: %s: %q", ErrUnknownPredicate, t.Predicate)
		}
		if constraint.DatatypeCheck != nil && !constraint.DatatypeCheck(t.Object) {
			return fmt.Errorf("types: predicate %q: object %q fails datatype check", t.Predicate, t.Object)
		}
		counts[t.Predicate]++
	}
	for pred, constraint := range c.Predicates {
		if counts[pred] < constraint.MinCount {
			return fmt.Errorf("types: predicate %q: got %d occurrences, want at least %d", pred, counts[pred], constraint.MinCount)
		}
	}
	return nil
}
