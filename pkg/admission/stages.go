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

package admission

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/itchyny/gojq"

	"github.com/seanchatmangpt/knhk-sub006/pkg/signing"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// stage is one of the gate's four pipeline stages. A stage returns ok=false
// to reject, and a non-nil err only when the STAGE ITSELF faulted (not when
// the payload merely failed validation) — spec §4.1's fail-closed contract
// distinguishes the two.
type stage struct {
	name string
	run  func(ctx context.Context, g *Gate, req *request) (ok bool, err error)
}

// request carries per-admission working state threaded through the stages.
type request struct {
	raw         []byte
	parsed      map[string]any
	triples     []types.Triple
	patternByte uint8
	obsCount    int
	signature   []byte
}

var structValidator = validator.New()

// zeroTickReject is stage 1: trivial structural failures (spec §4.1). It is
// branch-light so the reject path stays under the 1µs soft budget.
func zeroTickReject(_ context.Context, _ *Gate, req *request) (bool, error) {
	if len(req.raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(req.raw, &req.parsed); err != nil {
		return false, nil
	}
	if len(req.parsed) == 0 {
		return false, nil
	}
	return true, nil
}

// payloadFields holds the struct-tag validated subset of an admitted
// payload the shape stage checks beyond the raw JSON map.
type payloadFields struct {
	PatternByte int    `validate:"gte=0,lt=256"`
	Key         string `validate:"omitempty"`
}

// shapeValidate is stage 2: converts the payload to triple form and checks
// it against the current snapshot's shape schema (spec §4.1).
func shapeValidate(_ context.Context, g *Gate, req *request) (bool, error) {
	pf := payloadFields{}
	if v, ok := req.parsed["pattern_byte"]; ok {
		if f, ok := v.(float64); ok {
			pf.PatternByte = int(f)
		}
	}
	if v, ok := req.parsed["key"].(string); ok {
		pf.Key = v
	}
	if err := structValidator.Struct(pf); err != nil {
		return false, nil
	}

	for key, required := range g.requiredJQPaths {
		query, err := gojq.Parse(key)
		if err != nil {
			return false, fmt.Errorf("admission: compile required-path query %q: %w", key, err)
		}
		iter := query.Run(req.parsed)
		v, present := iter.Next()
		present = present && v != nil
		if required && !present {
			return false, nil
		}
	}

	req.triples = triplesFromPayload(req.parsed)
	req.obsCount = len(req.triples)

	schema := g.shapeSchema()
	if schema == nil {
		return true, nil
	}
	return schema.Validate(req.triples) == nil, nil
}

// triplesFromPayload converts a flat JSON object into (payload, key, value)
// triples: subject is always "payload", predicate is the JSON key, object
// is the string form of the value. Nested structures are not traversed —
// the kernel's shape schemas are written against flat observation payloads.
func triplesFromPayload(parsed map[string]any) []types.Triple {
	triples := make([]types.Triple, 0, len(parsed))
	for k, v := range parsed {
		triples = append(triples, types.Triple{
			Subject:   "payload",
			Predicate: k,
			Object:    fmt.Sprintf("%v", v),
		})
	}
	return triples
}

// patternCongruence is stage 3: the payload's pattern-byte must lie in the
// valid pattern range, and its structural class (observation count here)
// must meet the declared pattern's required inputs (spec §4.1).
func patternCongruence(_ context.Context, g *Gate, req *request) (bool, error) {
	if v, ok := req.parsed["pattern_byte"]; ok {
		if f, ok := v.(float64); ok {
			req.patternByte = uint8(f)
		}
	}
	if int(req.patternByte) >= g.patternByteCount {
		return false, nil
	}
	pattern := g.lookupPattern(req.patternByte)
	if pattern == nil {
		// No descriptor loaded yet (cold start): congruence cannot be
		// checked against required inputs, but the byte range is valid.
		return true, nil
	}
	return req.obsCount >= pattern.RequiredInputs, nil
}

// signatureVerify is stage 4: if a signature is attached, verify it; a
// missing signature passes because admission is optional policy, not a
// requirement, unless the gate's RequireSignature policy says otherwise
// (spec §4.1).
func signatureVerify(_ context.Context, g *Gate, req *request) (bool, error) {
	if sig, ok := req.parsed["signature"].(string); ok {
		req.signature = []byte(sig)
	}
	if len(req.signature) == 0 {
		return !g.requireSignature, nil
	}
	if g.verifier == nil {
		return false, nil
	}
	hash := signing.SHA3Hasher{}.Hash(req.raw)
	return g.verifier.Verify(hash, req.signature), nil
}
