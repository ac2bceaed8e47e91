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

	"github.com/google/uuid"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// symptomChangeKind maps a symptom kind to the overlay change kind the
// canonical planner proposes for it (spec §4.5).
var symptomChangeKind = map[SymptomKind]types.OverlayChangeKind{
	SymptomPatternHotSpot:  types.ChangeAdjustPerformance,
	SymptomTickBudgetDrift: types.ChangeAdjustPerformance,
}

// RateLimiter gates the proposer before Plan ever runs, independent of
// Validate's proof obligations (spec §4.5: "a requests-per-window cap
// applied before validation").
type RateLimiter interface {
	Allow(ctx context.Context) (bool, error)
}

// PlanPhase generates Unproven overlays from Analyze's symptoms. Obtain one
// only from AnalyzePhase.Run.
type PlanPhase struct {
	symptoms []Symptom
}

// Run applies the canonical symptom->change-kind planner, gated by
// limiter, and advances to Validate. baseSnapshotID is the snapshot the
// generated overlays are scoped against. A rate-limited cycle returns a
// ValidatePhase with zero overlays rather than an error: an empty Plan
// output is itself a valid (if unproductive) cycle outcome.
func (p *PlanPhase) Run(ctx context.Context, limiter RateLimiter, baseSnapshotID string) (*ValidatePhase, []*types.UnprovenOverlay, error) {
	if limiter != nil {
		allowed, err := limiter.Allow(ctx)
		if err != nil {
			return nil, nil, err
		}
		if !allowed {
			return &ValidatePhase{overlays: nil}, nil, nil
		}
	}

	var overlays []*types.UnprovenOverlay
	for _, s := range p.symptoms {
		kind, ok := symptomChangeKind[s.Kind]
		if !ok {
			continue
		}
		scope := types.OverlayScope{}
		if s.GuardName != "" {
			scope.GuardNames = []string{s.GuardName}
		}
		if s.Kind == SymptomPatternHotSpot {
			scope.PatternIDs = []uint8{s.PatternID}
		}
		change := types.OverlayChange{Kind: kind, TargetValue: targetValueFor(s)}
		meta := types.OverlayMeta{
			Source:         fmt.Sprintf("mapek:analyze:%s", s.Kind),
			AnalysisWindow: s.Detail,
		}
		overlays = append(overlays, types.NewOverlay(uuid.NewString(), baseSnapshotID, scope, []types.OverlayChange{change}, meta))
	}

	return &ValidatePhase{overlays: overlays}, overlays, nil
}

// targetValueFor computes the proposed overlay's numeric target from a
// symptom's severity: a higher-severity tick-budget drift tightens the
// performance target proportionally more.
func targetValueFor(s Symptom) float64 {
	switch s.Kind {
	case SymptomTickBudgetDrift, SymptomPatternHotSpot:
		return float64(types.ChatmanConstant) * (1 - 0.25*s.Severity)
	default:
		return 0
	}
}

// NoopRateLimiter never blocks the proposer. The kernel daemon does not use
// it (it falls back to InMemoryRateLimiter when MAPEK.RedisAddr is unset);
// it serves callers that want no cap, such as tests.
type NoopRateLimiter struct{}

// Allow implements RateLimiter.
func (NoopRateLimiter) Allow(context.Context) (bool, error) { return true, nil }

// errRateLimiterMisconfigured is returned by limiter constructors that
// require a parameter the caller omitted.
var errRateLimiterMisconfigured = kherrors.New(kherrors.ErrorTypeFatal, "mapek: rate limiter requires a non-empty key")
