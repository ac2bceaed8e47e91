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
	"sort"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// LangChainAdvisor is the optional LLM-backed Advisor: it asks a
// pre-trained model to rank already-detected symptoms by severity.
// Consulting a model this way is inference, not training, so it doesn't
// conflict with spec.md's "machine-learning model quality" non-goal — the
// model never sees receipts directly and never updates any weight.
type LangChainAdvisor struct {
	model llms.Model
}

// NewLangChainAdvisor wraps an already-configured langchaingo model.
func NewLangChainAdvisor(model llms.Model) *LangChainAdvisor {
	return &LangChainAdvisor{model: model}
}

// RankSeverity asks the model to order symptom kinds from most to least
// urgent, then reorders symptoms sharing a kind by that ranking, falling
// back to each symptom's own detector-assigned Severity within a kind. If
// the model call fails or returns something unparseable, RankSeverity
// returns the input unchanged rather than blocking the cycle on an
// optional collaborator.
func (a *LangChainAdvisor) RankSeverity(ctx context.Context, symptoms []Symptom) ([]Symptom, error) {
	prompt := rankingPrompt(symptoms)
	response, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt)
	if err != nil {
		return symptoms, nil
	}

	order := parseRanking(response)
	if len(order) == 0 {
		return symptoms, nil
	}

	ranked := make([]Symptom, len(symptoms))
	copy(ranked, symptoms)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, oki := order[ranked[i].Kind]
		rj, okj := order[ranked[j].Kind]
		if oki && okj && ri != rj {
			return ri < rj
		}
		if oki != okj {
			return oki
		}
		return ranked[i].Severity > ranked[j].Severity
	})
	return ranked, nil
}

// rankingPrompt renders the distinct symptom kinds present as a request for
// a most-to-least-urgent ordering.
func rankingPrompt(symptoms []Symptom) string {
	seen := map[SymptomKind]bool{}
	var kinds []string
	for _, s := range symptoms {
		if !seen[s.Kind] {
			seen[s.Kind] = true
			kinds = append(kinds, string(s.Kind))
		}
	}
	return fmt.Sprintf(
		"Rank the following workflow-kernel symptom kinds from most to least urgent, "+
			"one per line, most urgent first, no other text: %s",
		strings.Join(kinds, ", "),
	)
}

// parseRanking reads a newline-separated ranking response back into a
// kind->rank index. Lines that don't match a known SymptomKind are ignored.
func parseRanking(response string) map[SymptomKind]int {
	known := map[string]SymptomKind{
		string(SymptomTickBudgetDrift):      SymptomTickBudgetDrift,
		string(SymptomGuardFailureCluster):  SymptomGuardFailureCluster,
		string(SymptomPatternHotSpot):       SymptomPatternHotSpot,
		string(SymptomPatternUnderUtilized): SymptomPatternUnderUtilized,
	}
	order := map[SymptomKind]int{}
	rank := 0
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(strings.ToLower(line))
		for text, kind := range known {
			if strings.Contains(line, text) {
				if _, ok := order[kind]; !ok {
					order[kind] = rank
					rank++
				}
			}
		}
	}
	return order
}
