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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEstimatorStartsAtANeutralAcceptanceRate(t *testing.T) {
	est := NewEstimator()
	assert.Equal(t, float64(1), est.AcceptanceRate())
	assert.Equal(t, uint64(0), est.Cycles())
}

func TestKnowledgePhaseRunPullsTheRateDownOnARejectedCycle(t *testing.T) {
	est := NewEstimator()
	k := &KnowledgePhase{cycleHadOverlays: false}
	k.Run(est)

	assert.InDelta(t, 0.8, est.AcceptanceRate(), 0.001)
	assert.Equal(t, uint64(1), est.Cycles())
}

func TestKnowledgePhaseRunHoldsTheRateOnASuccessfulCycle(t *testing.T) {
	est := NewEstimator()
	k := &KnowledgePhase{cycleHadOverlays: true, overlaysPromoted: 2}
	k.Run(est)

	assert.InDelta(t, 1.0, est.AcceptanceRate(), 0.001)
}

func TestKnowledgePhaseRunConvergesTowardZeroOverRepeatedRejections(t *testing.T) {
	est := NewEstimator()
	k := &KnowledgePhase{cycleHadOverlays: false}
	for i := 0; i < 50; i++ {
		k.Run(est)
	}
	assert.InDelta(t, 0, est.AcceptanceRate(), 0.01)
	assert.Equal(t, uint64(50), est.Cycles())
}

func TestKnowledgePhaseRunTreatsOverlaysPromotedZeroAsNoAcceptance(t *testing.T) {
	est := NewEstimator()
	k := &KnowledgePhase{cycleHadOverlays: true, overlaysPromoted: 0}
	k.Run(est)
	assert.InDelta(t, 0.8, est.AcceptanceRate(), 0.001)
}
