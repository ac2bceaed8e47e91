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

import "time"

// OverlayChangeKind names one of the change kinds an overlay may carry
// (spec §3).
type OverlayChangeKind string

const (
	ChangeScaleMultiInstance    OverlayChangeKind = "scale_multi_instance"
	ChangeAdjustPerformance     OverlayChangeKind = "adjust_performance_target"
	ChangeAdjustResourceMulti   OverlayChangeKind = "adjust_resource_multiplier"
	ChangeAddClass              OverlayChangeKind = "add_class"
	ChangeRemoveClass           OverlayChangeKind = "remove_class"
	ChangeAddProperty           OverlayChangeKind = "add_property"
	ChangeRemoveProperty        OverlayChangeKind = "remove_property"
)

// OverlayChange is one typed mutation an overlay proposes against a
// snapshot.
type OverlayChange struct {
	Kind        OverlayChangeKind
	PatternID   uint8
	TargetValue float64 // interpreted per Kind: instance count, tick target, resource multiplier
	Class       string
	Property    string
}

// OverlayScope is the set of pattern-ids and guard-names an overlay touches.
// Two overlays whose scopes intersect cannot be composed in Parallel (spec
// §4.5).
type OverlayScope struct {
	PatternIDs []uint8
	GuardNames []string
}

// Intersects reports whether a and b share any pattern-id or guard-name.
func (a OverlayScope) Intersects(b OverlayScope) bool {
	for _, p := range a.PatternIDs {
		for _, q := range b.PatternIDs {
			if p == q {
				return true
			}
		}
	}
	for _, g := range a.GuardNames {
		for _, h := range b.GuardNames {
			if g == h {
				return true
			}
		}
	}
	return false
}

// OverlayMeta carries planner-attached provenance: where the overlay came
// from and which analysis window produced it. The planner attaches this but
// does not sign it (spec §4.5).
type OverlayMeta struct {
	Source          string
	AnalysisWindow  string
	CreatedAt       time.Time
}

// overlayCore is embedded by every overlay state so ID/BaseSnapshotID/Scope/
// Changes/Meta are shared across Unproven -> ProofPending -> Proven without
// duplicating fields per state.
type overlayCore struct {
	ID             string
	BaseSnapshotID string
	Scope          OverlayScope
	Changes        []OverlayChange
	Meta           OverlayMeta
}

// UnprovenOverlay is a just-proposed overlay. It carries no obligations and
// cannot be composed into a candidate snapshot until a validator has
// generated and discharged its proof obligations.
type UnprovenOverlay struct {
	overlayCore
}

// NewOverlay constructs an UnprovenOverlay. This is the only overlay
// constructor the kernel exposes: a ProofPendingOverlay or ProvenOverlay can
// only come from a validator transitioning an existing overlay (see
// pkg/mapek), never from a fresh literal — the Go analogue of the spec's
// phase-typed builder (spec §3 Overlay invariant).
func NewOverlay(id, baseSnapshotID string, scope OverlayScope, changes []OverlayChange, meta OverlayMeta) *UnprovenOverlay {
	return &UnprovenOverlay{overlayCore{
		ID:             id,
		BaseSnapshotID: baseSnapshotID,
		Scope:          scope,
		Changes:        changes,
		Meta:           meta,
	}}
}

// ObligationKind names one of the five proof obligations the validator
// always emits (spec §4.5).
type ObligationKind string

const (
	ObligationInvariants  ObligationKind = "ValidateInvariants"
	ObligationPerformance ObligationKind = "ValidatePerformance"
	ObligationGuards      ObligationKind = "ValidateGuards"
	ObligationSLO         ObligationKind = "ValidateSLO"
	ObligationDoctrine    ObligationKind = "ValidateDoctrine"
)

// Obligation is one proof obligation generated for an overlay, along with
// its discharge outcome once evaluated.
type Obligation struct {
	Kind       ObligationKind
	Discharged bool
	Reason     string // populated when Discharged is false
}

// ToProofPending transitions an UnprovenOverlay to ProofPending by
// attaching the obligations a validator has generated for it. This is the
// only way to obtain a ProofPendingOverlay: there is no exported
// ProofPendingOverlay literal a caller outside this package could forge
// without having gone through a validator first.
func (o *UnprovenOverlay) ToProofPending(obligations []Obligation) *ProofPendingOverlay {
	return &ProofPendingOverlay{overlayCore: o.overlayCore, Obligations: obligations}
}

// ProofPendingOverlay is an overlay whose proof obligations have been
// generated but not all discharged yet.
type ProofPendingOverlay struct {
	overlayCore
	Obligations []Obligation
}

// AllDischarged reports whether every obligation has been discharged.
func (o *ProofPendingOverlay) AllDischarged() bool {
	for _, ob := range o.Obligations {
		if !ob.Discharged {
			return false
		}
	}
	return len(o.Obligations) > 0
}

// FailedObligations returns the obligations that failed discharge.
func (o *ProofPendingOverlay) FailedObligations() []Obligation {
	var failed []Obligation
	for _, ob := range o.Obligations {
		if !ob.Discharged {
			failed = append(failed, ob)
		}
	}
	return failed
}

// ToProven transitions a ProofPendingOverlay to Proven once every
// obligation has discharged and the validator has signed it. Callers
// should check AllDischarged before calling this; ToProven does not
// re-check (the validator, not the overlay, owns that invariant).
func (o *ProofPendingOverlay) ToProven(signature []byte, signerKeyID string) *ProvenOverlay {
	return &ProvenOverlay{
		overlayCore: o.overlayCore,
		Obligations: o.Obligations,
		Signature:   signature,
		SignerKeyID: signerKeyID,
	}
}

// ProvenOverlay is an overlay every obligation has been discharged for and
// which the validator has signed (spec P6: no Proven overlay exists without
// a discharged obligation set whose signature verifies).
type ProvenOverlay struct {
	overlayCore
	Obligations []Obligation
	Signature   []byte
	SignerKeyID string
}

// CompositionStrategy names how Proven overlays are composed into a
// candidate child snapshot (spec §4.5).
type CompositionStrategy string

const (
	CompositionParallel   CompositionStrategy = "parallel"
	CompositionSequential CompositionStrategy = "sequential"
	CompositionMerge      CompositionStrategy = "merge"
)
