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

	"github.com/seanchatmangpt/knhk-sub006/pkg/policy"
	"github.com/seanchatmangpt/knhk-sub006/pkg/signing"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// Validator discharges the five proof obligations spec §4.5 always emits
// for a proposed overlay, and signs the overlays that clear all five.
type Validator struct {
	signer   signing.Signer
	hasher   signing.Hasher
	doctrine *policy.Evaluator // nil: ValidateDoctrine always discharges
	patterns map[uint8]types.Pattern
	guards   map[string]types.Guard
}

// NewValidator constructs a Validator. doctrine may be nil (no doctrine
// module loaded — ValidateDoctrine discharges trivially, matching a
// deployment that hasn't opted into sector-specific rules yet).
func NewValidator(signer signing.Signer, hasher signing.Hasher, doctrine *policy.Evaluator, patterns map[uint8]types.Pattern, guards map[string]types.Guard) *Validator {
	return &Validator{signer: signer, hasher: hasher, doctrine: doctrine, patterns: patterns, guards: guards}
}

// ValidatePhase is the gate between Plan and Execute (not itself a MAPE
// phase — spec §4.5). Obtain one only from PlanPhase.Run.
type ValidatePhase struct {
	overlays []*types.UnprovenOverlay
}

// Run discharges every obligation for every overlay and advances to
// Execute. Overlays that fail discharge are returned separately and are
// never handed to Execute: an overlay cannot be promoted without every
// obligation signed off (spec P6).
func (v *ValidatePhase) Run(ctx context.Context, validator *Validator) (*ExecutePhase, []*types.ProvenOverlay, []*types.ProofPendingOverlay, error) {
	var proven []*types.ProvenOverlay
	var failed []*types.ProofPendingOverlay

	for _, o := range v.overlays {
		pending := o.ToProofPending(validator.generateObligations(ctx, o))
		if pending.AllDischarged() {
			sig, err := validator.sign(o)
			if err != nil {
				return nil, nil, nil, err
			}
			proven = append(proven, pending.ToProven(sig, validator.signer.KeyID()))
		} else {
			failed = append(failed, pending)
		}
	}

	return &ExecutePhase{proven: proven}, proven, failed, nil
}

// generateObligations runs all five checks and returns them with their
// discharge outcome populated (spec §4.5 obligation list, verbatim order).
func (val *Validator) generateObligations(ctx context.Context, o *types.UnprovenOverlay) []types.Obligation {
	return []types.Obligation{
		val.validateInvariants(o),
		val.validatePerformance(o),
		val.validateGuards(o),
		val.validateSLO(o),
		val.validateDoctrine(ctx, o),
	}
}

// validateInvariants checks every pattern the overlay's scope touches is
// known to the validator (a stand-in for a full Q1-Q5 invariant re-check,
// which requires re-compiling the candidate snapshot — that re-check
// happens for real in Execute's compile step; this obligation catches the
// cheap case of an overlay referencing a pattern that doesn't exist).
func (val *Validator) validateInvariants(o *types.UnprovenOverlay) types.Obligation {
	for _, id := range o.Scope.PatternIDs {
		if _, ok := val.patterns[id]; !ok {
			return types.Obligation{Kind: types.ObligationInvariants, Discharged: false, Reason: fmt.Sprintf("pattern %d not found", id)}
		}
	}
	return types.Obligation{Kind: types.ObligationInvariants, Discharged: true}
}

// validatePerformance checks every adjust_performance_target change keeps
// the new tick estimate within the chatman constant.
func (val *Validator) validatePerformance(o *types.UnprovenOverlay) types.Obligation {
	for _, c := range o.Changes {
		if c.Kind == types.ChangeAdjustPerformance && c.TargetValue > float64(types.ChatmanConstant) {
			return types.Obligation{Kind: types.ObligationPerformance, Discharged: false, Reason: fmt.Sprintf("target tick estimate %.2f exceeds chatman constant", c.TargetValue)}
		}
	}
	return types.Obligation{Kind: types.ObligationPerformance, Discharged: true}
}

// validateGuards checks every named guard in the overlay's scope still
// type-checks (is known and well-formed) against the validator's current
// guard registry.
func (val *Validator) validateGuards(o *types.UnprovenOverlay) types.Obligation {
	for _, name := range o.Scope.GuardNames {
		g, ok := val.guards[name]
		if !ok {
			return types.Obligation{Kind: types.ObligationGuards, Discharged: false, Reason: fmt.Sprintf("guard %q not found", name)}
		}
		if len(g.Program) == 0 {
			return types.Obligation{Kind: types.ObligationGuards, Discharged: false, Reason: fmt.Sprintf("guard %q has an empty program", name)}
		}
	}
	return types.Obligation{Kind: types.ObligationGuards, Discharged: true}
}

// sloTarget bounds how far an adjust_performance change may push the tick
// target while still meeting R1's 2-tick SLO class (spec §4.5 ValidateSLO).
const sloTarget = 2.0

// validateSLO is a statistical projection stand-in: it rejects changes that
// would push the R1 class (>=99% at 2-tick target) out of reach outright.
// A full implementation would consult a rolling SLO estimator fed by the
// receipt log; that estimator is Knowledge's rolling acceptance-rate EMA,
// not yet wired to per-SLO-class projections.
func (val *Validator) validateSLO(o *types.UnprovenOverlay) types.Obligation {
	for _, c := range o.Changes {
		if c.Kind == types.ChangeAdjustPerformance && c.TargetValue < sloTarget {
			return types.Obligation{Kind: types.ObligationSLO, Discharged: false, Reason: fmt.Sprintf("target %.2f would miss the R1 2-tick SLO class", c.TargetValue)}
		}
	}
	return types.Obligation{Kind: types.ObligationSLO, Discharged: true}
}

// validateDoctrine delegates to the OPA-backed doctrine evaluator. A nil
// Evaluator discharges trivially (no doctrine module configured).
func (val *Validator) validateDoctrine(ctx context.Context, o *types.UnprovenOverlay) types.Obligation {
	if val.doctrine == nil {
		return types.Obligation{Kind: types.ObligationDoctrine, Discharged: true}
	}
	decision, err := val.doctrine.EvaluateOverlay(ctx, o)
	if err != nil {
		return types.Obligation{Kind: types.ObligationDoctrine, Discharged: false, Reason: err.Error()}
	}
	if !decision.Allowed {
		return types.Obligation{Kind: types.ObligationDoctrine, Discharged: false, Reason: decision.Reason}
	}
	return types.Obligation{Kind: types.ObligationDoctrine, Discharged: true}
}

// sign hashes the overlay's ID and base snapshot ID and signs the digest.
func (val *Validator) sign(o *types.UnprovenOverlay) ([]byte, error) {
	digest := val.hasher.Hash(overlayDigestInput(o))
	return val.signer.Sign(digest)
}

// overlayDigestInput renders the bytes a validator signs over: the
// overlay's ID and base snapshot, stable regardless of map iteration order
// elsewhere in the pipeline.
func overlayDigestInput(o *types.UnprovenOverlay) []byte {
	return []byte(o.ID + "|" + o.BaseSnapshotID)
}
