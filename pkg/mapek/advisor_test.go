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

func TestRankingPromptListsEachDistinctSymptomKindOnce(t *testing.T) {
	prompt := rankingPrompt([]Symptom{
		{Kind: SymptomTickBudgetDrift},
		{Kind: SymptomTickBudgetDrift},
		{Kind: SymptomPatternHotSpot},
	})
	assert.Contains(t, prompt, string(SymptomTickBudgetDrift))
	assert.Contains(t, prompt, string(SymptomPatternHotSpot))
}

func TestParseRankingOrdersKindsByFirstAppearance(t *testing.T) {
	response := "pattern_hot_spot\ntick_budget_drift\nguard_failure_cluster"
	order := parseRanking(response)
	assert.Equal(t, 0, order[SymptomPatternHotSpot])
	assert.Equal(t, 1, order[SymptomTickBudgetDrift])
	assert.Equal(t, 2, order[SymptomGuardFailureCluster])
}

func TestParseRankingIgnoresUnrecognizedLines(t *testing.T) {
	order := parseRanking("not a real symptom kind\nanother nonsense line")
	assert.Empty(t, order)
}

func TestParseRankingOfEmptyResponseProducesAnEmptyOrder(t *testing.T) {
	assert.Empty(t, parseRanking(""))
}
