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

// Package policy evaluates an overlay against an operator-supplied Rego
// doctrine module, discharging the ValidateDoctrine proof obligation
// (spec §4.5). The kernel has no built-in notion of sector rules; doctrine
// is entirely externalized to the loaded Rego module so operators can
// change it without a kernel rebuild.
package policy

import (
	"context"

	"github.com/open-policy-agent/opa/rego"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// Evaluator evaluates overlays against one compiled Rego query.
type Evaluator struct {
	query rego.PreparedEvalQuery
}

// Decision is the doctrine evaluator's result for one overlay.
type Decision struct {
	Allowed bool
	Reason  string
}

// defaultQuery is the Rego entry point every doctrine module must define:
// a boolean "allow" and, on denial, a "reason" string.
const defaultQuery = "data.knhk.doctrine"

// NewEvaluator compiles module (a single Rego source file's contents,
// package knhk.doctrine) into a prepared query. module must define
// `allow` (bool) and may define `reason` (string).
func NewEvaluator(ctx context.Context, module string) (*Evaluator, error) {
	r := rego.New(
		rego.Query(defaultQuery),
		rego.Module("doctrine.rego", module),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, kherrors.Wrap(err, kherrors.ErrorTypeFatal, "policy: compiling doctrine module failed")
	}
	return &Evaluator{query: prepared}, nil
}

// overlayInput is the shape handed to Rego as `input.overlay`: only the
// fields a doctrine rule could plausibly need to reason about, not the
// overlay's internal obligation bookkeeping.
type overlayInput struct {
	ID             string                 `json:"id"`
	BaseSnapshotID string                 `json:"base_snapshot_id"`
	PatternIDs     []uint8                `json:"pattern_ids"`
	GuardNames     []string               `json:"guard_names"`
	ChangeKinds    []string               `json:"change_kinds"`
	Source         string                 `json:"source"`
}

func toOverlayInput(scope types.OverlayScope, changes []types.OverlayChange, source string) overlayInput {
	kinds := make([]string, len(changes))
	for i, c := range changes {
		kinds[i] = string(c.Kind)
	}
	return overlayInput{PatternIDs: scope.PatternIDs, GuardNames: scope.GuardNames, ChangeKinds: kinds, Source: source}
}

// EvaluateOverlay discharges the ValidateDoctrine obligation for an
// UnprovenOverlay: it runs the compiled module with `input.overlay` bound
// to the overlay's scope, proposed changes, and declared source, and
// reads back `allow`/`reason` from the result set.
func (e *Evaluator) EvaluateOverlay(ctx context.Context, overlay *types.UnprovenOverlay) (Decision, error) {
	input := map[string]any{
		"overlay": toOverlayInput(overlay.Scope, overlay.Changes, overlay.Meta.Source),
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, kherrors.Wrap(err, kherrors.ErrorTypeRuntime, "policy: evaluating doctrine failed")
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, kherrors.New(kherrors.ErrorTypeRuntime, "policy: doctrine module produced no result")
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, kherrors.New(kherrors.ErrorTypeRuntime, "policy: doctrine module result is not an object")
	}

	allowed, _ := doc["allow"].(bool)
	reason, _ := doc["reason"].(string)
	return Decision{Allowed: allowed, Reason: reason}, nil
}
