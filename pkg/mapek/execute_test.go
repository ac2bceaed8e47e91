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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

func provenOverlay(t *testing.T, id string, scope types.OverlayScope, changes []types.OverlayChange) *types.ProvenOverlay {
	t.Helper()
	unproven := types.NewOverlay(id, "snap-0", scope, changes, types.OverlayMeta{})
	pending := unproven.ToProofPending([]types.Obligation{{Kind: types.ObligationInvariants, Discharged: true}})
	return pending.ToProven([]byte("sig"), "test-key")
}

func TestCheckNonIntersectingPassesForDisjointScopes(t *testing.T) {
	a := provenOverlay(t, "a", types.OverlayScope{PatternIDs: []uint8{1}}, nil)
	b := provenOverlay(t, "b", types.OverlayScope{PatternIDs: []uint8{2}}, nil)
	assert.NoError(t, checkNonIntersecting([]*types.ProvenOverlay{a, b}))
}

func TestCheckNonIntersectingErrorsForOverlappingPatternIDs(t *testing.T) {
	a := provenOverlay(t, "a", types.OverlayScope{PatternIDs: []uint8{1}}, nil)
	b := provenOverlay(t, "b", types.OverlayScope{PatternIDs: []uint8{1}}, nil)
	err := checkNonIntersecting([]*types.ProvenOverlay{a, b})
	require.Error(t, err)
}

func TestOrderedChangesConcatenatesInInputOrderForParallelAndSequential(t *testing.T) {
	a := provenOverlay(t, "a", types.OverlayScope{}, []types.OverlayChange{{Kind: types.ChangeAddClass, Class: "Foo"}})
	b := provenOverlay(t, "b", types.OverlayScope{}, []types.OverlayChange{{Kind: types.ChangeAddClass, Class: "Bar"}})

	changes := orderedChanges([]*types.ProvenOverlay{a, b}, types.CompositionSequential)
	require.Len(t, changes, 2)
	assert.Equal(t, "Foo", changes[0].Class)
	assert.Equal(t, "Bar", changes[1].Class)
}

func TestOrderedChangesMergeKeepsTheLastProposerForAShadowedChange(t *testing.T) {
	a := provenOverlay(t, "a", types.OverlayScope{}, []types.OverlayChange{{Kind: types.ChangeAddProperty, Class: "Foo", Property: "p1", TargetValue: 1}})
	b := provenOverlay(t, "b", types.OverlayScope{}, []types.OverlayChange{{Kind: types.ChangeAddProperty, Class: "Foo", Property: "p1", TargetValue: 2}})

	changes := orderedChanges([]*types.ProvenOverlay{a, b}, types.CompositionMerge)
	require.Len(t, changes, 1)
	assert.Equal(t, float64(2), changes[0].TargetValue)
}

func TestApplyChangeAddsAClassTriple(t *testing.T) {
	out := applyChange(nil, types.OverlayChange{Kind: types.ChangeAddClass, Class: "Widget"})
	require.Len(t, out, 1)
	assert.Equal(t, "Widget", out[0].Subject)
	assert.Equal(t, predicateType, out[0].Predicate)
	assert.Equal(t, objectClass, out[0].Object)
}

func TestApplyChangeRemoveClassDropsOnlyTheMatchingTriple(t *testing.T) {
	triples := []types.Triple{
		{Subject: "Widget", Predicate: predicateType, Object: objectClass},
		{Subject: "Gadget", Predicate: predicateType, Object: objectClass},
	}
	out := applyChange(triples, types.OverlayChange{Kind: types.ChangeRemoveClass, Class: "Widget"})
	require.Len(t, out, 1)
	assert.Equal(t, "Gadget", out[0].Subject)
}

func TestApplyChangeAddPropertyAppendsAHasPropertyTriple(t *testing.T) {
	out := applyChange(nil, types.OverlayChange{Kind: types.ChangeAddProperty, Class: "Widget", Property: "weight"})
	require.Len(t, out, 1)
	assert.Equal(t, predicateHasProperty, out[0].Predicate)
	assert.Equal(t, "weight", out[0].Object)
}

func TestApplyChangeRuntimeTuningKindsLeaveTriplesUntouched(t *testing.T) {
	triples := []types.Triple{{Subject: "Widget", Predicate: predicateType, Object: objectClass}}
	out := applyChange(triples, types.OverlayChange{Kind: types.ChangeAdjustPerformance, TargetValue: 4})
	assert.Equal(t, triples, out)
}

func TestExecutePhaseRunWithNoProvenOverlaysShortCircuitsWithoutDeps(t *testing.T) {
	e := &ExecutePhase{}
	knowledge, err := e.Run(context.Background(), ExecuteDeps{}, types.CompositionSequential, "cand-1", 1)
	require.NoError(t, err)
	assert.False(t, knowledge.cycleHadOverlays)
}
