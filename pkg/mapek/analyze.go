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
	"math"

	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// SymptomKind names one of the conditions Analyze detects (spec §4.5).
type SymptomKind string

const (
	SymptomTickBudgetDrift      SymptomKind = "tick_budget_drift"
	SymptomGuardFailureCluster  SymptomKind = "guard_failure_cluster"
	SymptomPatternHotSpot       SymptomKind = "pattern_hot_spot"
	SymptomPatternUnderUtilized SymptomKind = "pattern_under_utilized"
)

// Symptom is one detected condition, with enough detail for Plan to map it
// to a change kind without re-deriving the underlying statistic.
type Symptom struct {
	Kind      SymptomKind
	GuardName string
	Detail    string
	Severity  float64 // 0..1, used to rank symptoms when an Advisor is not consulted

	// PatternID, Rank, and TimePercentage are populated for
	// SymptomPatternHotSpot only: PatternID is the hot pattern, Rank is its
	// 1-based position in the window's tick-share ranking, and
	// TimePercentage is that pattern's percentage share of total ticks.
	PatternID      uint8
	Rank           int
	TimePercentage float64
}

// tickDriftThreshold is how close the mean tick count must drift toward the
// chatman constant before Analyze raises SymptomTickBudgetDrift.
const tickDriftThreshold = 0.8

// guardFailureClusterThreshold is the guard-failure rate above which a
// repeatedly-failing guard becomes its own symptom rather than noise.
const guardFailureClusterThreshold = 0.1

// hotSpotConcentration is the 80/20 detector's threshold: the top 20% (by
// count, rounded up) of patterns appearing in the window must account for
// at least this fraction of the window's total ticks before Analyze raises
// SymptomPatternHotSpot.
const hotSpotConcentration = 0.8

// hotSpotTopFraction is the "20%" half of the 80/20 detector: the fraction
// of distinct patterns in the window considered for concentration.
const hotSpotTopFraction = 0.2

// AnalyzePhase detects symptoms in a MonitorResult. Obtain one only from
// MonitorPhase.Run.
type AnalyzePhase struct {
	monitor MonitorResult
}

// Advisor optionally ranks symptom severity before Plan runs, consulting an
// external model. A nil Advisor skips this step; Run falls back to the
// Severity each detector already assigned.
type Advisor interface {
	RankSeverity(ctx context.Context, symptoms []Symptom) ([]Symptom, error)
}

// Run detects symptoms and advances to Plan. advisor may be nil.
func (a *AnalyzePhase) Run(ctx context.Context, advisor Advisor) (*PlanPhase, []Symptom, error) {
	var symptoms []Symptom

	if a.monitor.ReceiptCount > 0 {
		driftRatio := a.monitor.AverageTicks / float64(types.ChatmanConstant)
		if driftRatio >= tickDriftThreshold {
			symptoms = append(symptoms, Symptom{
				Kind:     SymptomTickBudgetDrift,
				Detail:   "mean ticks trending toward the chatman constant",
				Severity: driftRatio,
			})
		}

		if a.monitor.GuardFailureRate >= guardFailureClusterThreshold {
			for _, g := range a.monitor.FailedGuards {
				symptoms = append(symptoms, Symptom{
					Kind:      SymptomGuardFailureCluster,
					GuardName: g,
					Detail:    "guard failure rate exceeds cluster threshold in window",
					Severity:  a.monitor.GuardFailureRate,
				})
			}
		}

		symptoms = append(symptoms, hotSpotSymptoms(a.monitor.PatternShares)...)
	} else {
		symptoms = append(symptoms, Symptom{
			Kind:     SymptomPatternUnderUtilized,
			Detail:   "no receipts observed in window",
			Severity: 0,
		})
	}

	if advisor != nil && len(symptoms) > 0 {
		ranked, err := advisor.RankSeverity(ctx, symptoms)
		if err != nil {
			return nil, nil, err
		}
		symptoms = ranked
	}

	return &PlanPhase{symptoms: symptoms}, symptoms, nil
}

// hotSpotSymptoms implements the 80/20 detector: shares is already ranked
// descending by TimePercentage (Monitor's job). It takes the top ceil(20% of
// len(shares)) patterns, and if their combined share meets
// hotSpotConcentration, emits one SymptomPatternHotSpot per pattern in that
// top group, ranked 1..n.
func hotSpotSymptoms(shares []PatternTickShare) []Symptom {
	if len(shares) == 0 {
		return nil
	}

	topN := int(math.Ceil(hotSpotTopFraction * float64(len(shares))))
	if topN < 1 {
		topN = 1
	}
	if topN > len(shares) {
		topN = len(shares)
	}

	var concentrated float64
	for _, s := range shares[:topN] {
		concentrated += s.TimePercentage
	}
	if concentrated < hotSpotConcentration*100 {
		return nil
	}

	symptoms := make([]Symptom, 0, topN)
	for i, s := range shares[:topN] {
		symptoms = append(symptoms, Symptom{
			Kind:           SymptomPatternHotSpot,
			Detail:         "pattern concentrates a disproportionate share of window tick time",
			Severity:       s.TimePercentage / 100,
			PatternID:      s.PatternID,
			Rank:           i + 1,
			TimePercentage: s.TimePercentage,
		})
	}
	return symptoms
}
