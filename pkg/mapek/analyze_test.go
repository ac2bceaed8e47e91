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
)

func kindsOf(symptoms []Symptom) []SymptomKind {
	var out []SymptomKind
	for _, s := range symptoms {
		out = append(out, s.Kind)
	}
	return out
}

func TestAnalyzePhaseRunFlagsUnderUtilizationOnAnEmptyWindow(t *testing.T) {
	a := &AnalyzePhase{monitor: MonitorResult{ReceiptCount: 0}}
	_, symptoms, err := a.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, kindsOf(symptoms), SymptomPatternUnderUtilized)
}

func TestAnalyzePhaseRunFlagsTickBudgetDrift(t *testing.T) {
	a := &AnalyzePhase{monitor: MonitorResult{ReceiptCount: 10, AverageTicks: 7}}
	_, symptoms, err := a.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, kindsOf(symptoms), SymptomTickBudgetDrift)
}

func TestAnalyzePhaseRunFlagsGuardFailureClusterPerGuardName(t *testing.T) {
	a := &AnalyzePhase{monitor: MonitorResult{
		ReceiptCount:     10,
		AverageTicks:     1,
		GuardFailureRate: 0.5,
		FailedGuards:     []string{"CHATMAN_CONSTANT", "CUSTOM_GUARD"},
	}}
	_, symptoms, err := a.Run(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, s := range symptoms {
		if s.Kind == SymptomGuardFailureCluster {
			names = append(names, s.GuardName)
		}
	}
	assert.ElementsMatch(t, []string{"CHATMAN_CONSTANT", "CUSTOM_GUARD"}, names)
}

func TestAnalyzePhaseRunReportsDominantPatternAsRankOneHotSpot(t *testing.T) {
	a := &AnalyzePhase{monitor: MonitorResult{
		ReceiptCount: 10,
		AverageTicks: 1,
		PatternShares: []PatternTickShare{
			{PatternID: 1, TimePercentage: 85},
			{PatternID: 2, TimePercentage: 10},
			{PatternID: 3, TimePercentage: 3},
			{PatternID: 4, TimePercentage: 1},
			{PatternID: 5, TimePercentage: 1},
		},
	}}
	_, symptoms, err := a.Run(context.Background(), nil)
	require.NoError(t, err)

	var hotSpots []Symptom
	for _, s := range symptoms {
		if s.Kind == SymptomPatternHotSpot {
			hotSpots = append(hotSpots, s)
		}
	}
	require.Len(t, hotSpots, 1)
	assert.Equal(t, uint8(1), hotSpots[0].PatternID)
	assert.Equal(t, 1, hotSpots[0].Rank)
	assert.Greater(t, hotSpots[0].TimePercentage, 80.0)
}

func TestAnalyzePhaseRunSkipsHotSpotWhenNoPatternDominates(t *testing.T) {
	a := &AnalyzePhase{monitor: MonitorResult{
		ReceiptCount: 10,
		AverageTicks: 1,
		PatternShares: []PatternTickShare{
			{PatternID: 1, TimePercentage: 25},
			{PatternID: 2, TimePercentage: 25},
			{PatternID: 3, TimePercentage: 25},
			{PatternID: 4, TimePercentage: 25},
		},
	}}
	_, symptoms, err := a.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.NotContains(t, kindsOf(symptoms), SymptomPatternHotSpot)
}

func TestAnalyzePhaseRunQuietWindowProducesNoSymptoms(t *testing.T) {
	a := &AnalyzePhase{monitor: MonitorResult{ReceiptCount: 10, AverageTicks: 1, GuardFailureRate: 0, ErrorRate: 0}}
	_, symptoms, err := a.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, symptoms)
}

type fakeAdvisor struct {
	called bool
	err    error
}

func (f *fakeAdvisor) RankSeverity(_ context.Context, symptoms []Symptom) ([]Symptom, error) {
	f.called = true
	if f.err != nil {
		return nil, f.err
	}
	return symptoms, nil
}

func TestAnalyzePhaseRunConsultsTheAdvisorWhenSymptomsExist(t *testing.T) {
	a := &AnalyzePhase{monitor: MonitorResult{ReceiptCount: 10, AverageTicks: 7}}
	advisor := &fakeAdvisor{}
	_, _, err := a.Run(context.Background(), advisor)
	require.NoError(t, err)
	assert.True(t, advisor.called)
}
