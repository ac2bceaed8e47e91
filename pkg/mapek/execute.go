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

package mapek

import (
	"context"
	"fmt"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/pkg/byzantine"
	"github.com/seanchatmangpt/knhk-sub006/pkg/compiler"
	"github.com/seanchatmangpt/knhk-sub006/pkg/promotion"
	"github.com/seanchatmangpt/knhk-sub006/pkg/snapshotstore"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// triple-level predicate/object vocabulary Execute writes for add_class and
// add_property changes. The kernel treats the overlay wire format as typed
// changes, not arbitrary triples, so this vocabulary only needs to be
// internally consistent, not RDFS/OWL-conformant.
const (
	predicateType        = "rdf:type"
	objectClass          = "knhk:Class"
	predicateHasProperty = "knhk:hasProperty"
)

// ExecutePhase composes Proven overlays into a candidate child snapshot,
// compiles it, and hands the certified result to promotion. Obtain one
// only from ValidatePhase.Run.
type ExecutePhase struct {
	proven []*types.ProvenOverlay
}

// ExecuteDeps bundles the collaborators Execute needs: the snapshot store
// to read the base from and register the candidate into, the compiler to
// certify it, an optional Broadcaster to clear the multi-node commit
// boundary before promotion, and the promotion pipeline itself.
type ExecuteDeps struct {
	Store       snapshotstore.Store
	Compiler    *compiler.Compiler
	Broadcaster byzantine.Broadcaster // nil: single-node, skip the commit round
	Pipeline    *promotion.Pipeline
	Patterns    []types.Pattern
	Guards      []types.Guard
	Schema      types.ShapeSchema
}

// Run composes proven overlays per strategy, builds and registers a
// candidate snapshot, compiles it, clears the commit boundary if a
// Broadcaster is configured, promotes it, and advances to Knowledge.
func (e *ExecutePhase) Run(ctx context.Context, deps ExecuteDeps, strategy types.CompositionStrategy, candidateSnapshotID string, candidateVersion uint64) (*KnowledgePhase, error) {
	if len(e.proven) == 0 {
		return &KnowledgePhase{cycleHadOverlays: false}, nil
	}

	base := deps.Store.Current()
	if base == nil {
		return nil, kherrors.New(kherrors.ErrorTypeValidation, "mapek: execute: no current snapshot to compose against")
	}

	if strategy == types.CompositionParallel {
		if err := checkNonIntersecting(e.proven); err != nil {
			return nil, err
		}
	}

	triples := base.Triples()
	for _, o := range orderedChanges(e.proven, strategy) {
		triples = applyChange(triples, o)
	}

	candidate, err := types.NewSnapshot(candidateSnapshotID, candidateVersion, base.ID, types.SnapshotMeta{
		Creator:     "mapek",
		Description: fmt.Sprintf("composed via %s from %d proven overlay(s)", strategy, len(e.proven)),
	}, triples, deps.Schema)
	if err != nil {
		return nil, kherrors.Wrap(err, kherrors.ErrorTypeValidation, "mapek: execute: composed snapshot failed validation")
	}

	if err := deps.Store.Add(ctx, candidate); err != nil {
		return nil, err
	}

	certified, err := deps.Compiler.Compile(ctx, candidate, deps.Patterns, deps.Guards, deps.Schema)
	if err != nil {
		return nil, err
	}

	if deps.Broadcaster != nil {
		block := byzantine.Block{
			SnapshotID:   candidate.ID,
			DescriptorID: certified.Descriptor.SourceSnapshotID,
			ContentHash:  certified.Certificate.DescriptorHash,
		}
		if _, err := deps.Broadcaster.Propose(ctx, block); err != nil {
			return nil, kherrors.Wrap(err, kherrors.ErrorTypeRuntime, "mapek: execute: replica commit failed")
		}
	}

	if err := deps.Pipeline.Promote(ctx, certified); err != nil {
		return nil, err
	}
	if err := deps.Store.Promote(ctx, candidate.ID); err != nil {
		return nil, err
	}

	return &KnowledgePhase{cycleHadOverlays: true, overlaysPromoted: len(e.proven)}, nil
}

// checkNonIntersecting enforces Parallel composition's precondition: no two
// proven overlays may share a pattern-id or guard-name (spec §4.5).
func checkNonIntersecting(proven []*types.ProvenOverlay) error {
	for i := range proven {
		for j := i + 1; j < len(proven); j++ {
			if proven[i].Scope.Intersects(proven[j].Scope) {
				return kherrors.Newf(kherrors.ErrorTypeValidation, "mapek: execute: parallel composition error: overlays %s and %s have intersecting scopes", proven[i].ID, proven[j].ID)
			}
		}
	}
	return nil
}

// orderedChanges flattens every proven overlay's changes in composition
// order. Parallel and Sequential both apply in input order (Parallel's
// non-intersection check above is what makes order-independence safe);
// Merge additionally drops an earlier change a later one fully shadows
// (same kind, pattern, class, and property), so the last proposer wins.
func orderedChanges(proven []*types.ProvenOverlay, strategy types.CompositionStrategy) []types.OverlayChange {
	var all []types.OverlayChange
	for _, o := range proven {
		all = append(all, o.Changes...)
	}
	if strategy != types.CompositionMerge {
		return all
	}

	type key struct {
		kind      types.OverlayChangeKind
		patternID uint8
		class     string
		property  string
	}
	seen := map[key]int{}
	for i, c := range all {
		seen[key{c.Kind, c.PatternID, c.Class, c.Property}] = i
	}
	var merged []types.OverlayChange
	for i, c := range all {
		if seen[key{c.Kind, c.PatternID, c.Class, c.Property}] == i {
			merged = append(merged, c)
		}
	}
	return merged
}

// applyChange materializes one overlay change against triples. Changes
// that target runtime tuning (adjust_performance_target,
// scale_multi_instance, adjust_resource_multiplier) leave the triple set
// unchanged, and Execute applies them nowhere else: the candidate
// descriptor is compiled from ExecuteDeps.Patterns as given.
func applyChange(triples []types.Triple, c types.OverlayChange) []types.Triple {
	switch c.Kind {
	case types.ChangeAddClass:
		return append(triples, types.Triple{Subject: c.Class, Predicate: predicateType, Object: objectClass})
	case types.ChangeRemoveClass:
		return removeTriples(triples, func(t types.Triple) bool {
			return t.Subject == c.Class && t.Predicate == predicateType && t.Object == objectClass
		})
	case types.ChangeAddProperty:
		return append(triples, types.Triple{Subject: c.Class, Predicate: predicateHasProperty, Object: c.Property})
	case types.ChangeRemoveProperty:
		return removeTriples(triples, func(t types.Triple) bool {
			return t.Subject == c.Class && t.Predicate == predicateHasProperty && t.Object == c.Property
		})
	default:
		return triples
	}
}

// removeTriples returns triples with every element matching predicate
// dropped.
func removeTriples(triples []types.Triple, match func(types.Triple) bool) []types.Triple {
	out := triples[:0:0]
	for _, t := range triples {
		if !match(t) {
			out = append(out, t)
		}
	}
	return out
}
