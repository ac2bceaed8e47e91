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

// Package admission implements the kernel's four-stage fast-reject pipeline
// (spec §4.1): zero-tick structural rejection, shape validation, pattern
// congruence, and post-quantum signature verification.
package admission

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/pkg/andon"
	"github.com/seanchatmangpt/knhk-sub006/pkg/signing"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// StageResults mirrors the admission wire record's stage_results object
// (spec §6).
type StageResults struct {
	ShaclValid  bool `json:"shacl_valid"`
	PbCongruent bool `json:"pb_congruent"`
	PqcVerified bool `json:"pqc_verified"`
}

// Decision is the outcome of one Admit call (spec §6).
type Decision struct {
	Decision     string       `json:"decision"` // "admit" | "reject"
	Budget       uint16       `json:"budget"`
	Priority     uint8        `json:"priority"`
	LatencyMs    float64      `json:"latency_ms"`
	StageResults StageResults `json:"stage_results"`
	FailingStage string       `json:"-"`
}

// ReceiptSink is the subset of the receipt log the gate writes rejection
// and admission receipts to.
type ReceiptSink interface {
	Append(ctx context.Context, r types.Receipt) (string, error)
}

// PatternLookup resolves a pattern-byte to its declared Pattern, so the
// congruence stage can check a payload's structural class against the
// pattern's required inputs. Returns nil if no descriptor is loaded yet
// (cold start) or the pattern-byte names no known pattern.
type PatternLookup func(patternByte uint8) *types.Pattern

// Gate is the admission pipeline. Construct with NewGate; Admit is safe for
// concurrent use.
type Gate struct {
	log              logr.Logger
	stages           []stage
	defaultBudget    uint16
	defaultPriority  uint8
	requireSignature bool
	patternByteCount int
	requiredJQPaths  map[string]bool
	verifier         signing.Verifier
	lookupPatternFn  PatternLookup
	receipts         ReceiptSink
	andon            *andon.Monitor
	schema           func() types.ShapeSchema
}

// Config configures a Gate.
type Config struct {
	DefaultBudget    uint16
	DefaultPriority  uint8
	RequireSignature bool
	PatternByteCount int
	RequiredJQPaths  map[string]bool
}

// NewGate constructs an admission Gate wired to its collaborators.
func NewGate(log logr.Logger, cfg Config, verifier signing.Verifier, lookup PatternLookup, receipts ReceiptSink, mon *andon.Monitor, schema func() types.ShapeSchema) *Gate {
	g := &Gate{
		log:              log,
		defaultBudget:    cfg.DefaultBudget,
		defaultPriority:  cfg.DefaultPriority,
		requireSignature: cfg.RequireSignature,
		patternByteCount: cfg.PatternByteCount,
		requiredJQPaths:  cfg.RequiredJQPaths,
		verifier:         verifier,
		lookupPatternFn:  lookup,
		receipts:         receipts,
		andon:            mon,
		schema:           schema,
	}
	g.stages = []stage{
		{name: "zero_tick_reject", run: zeroTickReject},
		{name: "shape_validation", run: shapeValidate},
		{name: "pattern_congruence", run: patternCongruence},
		{name: "signature_verification", run: signatureVerify},
	}
	return g
}

func (g *Gate) shapeSchema() types.ShapeSchema {
	if g.schema == nil {
		return nil
	}
	return g.schema()
}

func (g *Gate) lookupPattern(patternByte uint8) *types.Pattern {
	if g.lookupPatternFn == nil {
		return nil
	}
	return g.lookupPatternFn(patternByte)
}

// Admit runs payload through the four-stage pipeline, short-circuiting on
// the first stage that rejects. A stage that faults internally (as opposed
// to rejecting the payload) is recovered, fails closed, and reports a fault
// to the andon monitor. The monitor turns Red only when its breaker trips on
// the configured failure ratio; a single fault does not by itself turn it Red.
func (g *Gate) Admit(ctx context.Context, payload []byte) (dec Decision, err error) {
	start := time.Now()
	req := &request{raw: payload}
	results := StageResults{}

	defer func() {
		dec.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		g.emitReceipt(ctx, dec)
	}()

	for i, st := range g.stages {
		ok, faultErr := g.runStageRecovered(ctx, st, req)
		if faultErr != nil {
			g.log.Error(faultErr, "admission stage faulted, failing closed", "stage", st.name)
			if g.andon != nil {
				g.andon.ReportFault(st.name)
			}
			dec = Decision{Decision: "reject", StageResults: results, FailingStage: st.name}
			return dec, kherrors.Wrap(faultErr, kherrors.ErrorTypeFatal, "admission stage faulted").WithDetails(st.name)
		}

		switch i {
		case 1:
			results.ShaclValid = ok
		case 2:
			results.PbCongruent = ok
		case 3:
			results.PqcVerified = ok
		}

		if !ok {
			dec = Decision{Decision: "reject", StageResults: results, FailingStage: st.name}
			return dec, nil
		}
	}

	dec = Decision{
		Decision:     "admit",
		Budget:       g.defaultBudget,
		Priority:     g.defaultPriority,
		StageResults: results,
	}
	return dec, nil
}

func (g *Gate) runStageRecovered(ctx context.Context, st stage, req *request) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = kherrors.Newf(kherrors.ErrorTypeFatal, "panic in stage %s: %v", st.name, r)
		}
	}()
	return st.run(ctx, g, req)
}

func (g *Gate) emitReceipt(ctx context.Context, dec Decision) {
	if g.receipts == nil {
		return
	}
	r := types.Receipt{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Success:   dec.Decision == "admit",
	}
	if dec.FailingStage != "" {
		r.GuardsFailed = []string{dec.FailingStage}
	}
	_, _ = g.receipts.Append(ctx, r)
}
