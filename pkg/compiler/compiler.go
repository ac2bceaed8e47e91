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

// Package compiler implements the snapshot-to-descriptor compilation
// pipeline (spec §4.2): structural validation, semantic validation against a
// shape schema, timing validation against the chatman constant, code
// generation, and proof-certificate accumulation. Each phase is a distinct
// Go type so a CertifiedSigma can only be constructed by flowing through
// every phase in order — skipping one is a compile error, the Go analogue of
// the spec's phase-typed builder.
package compiler

import (
	"context"

	"golang.org/x/sync/singleflight"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/pkg/compiler/binfmt"
	"github.com/seanchatmangpt/knhk-sub006/pkg/signing"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// allowedOpcodes is the instruction set the code generator is permitted to
// emit; the ISA proof checks every emitted opcode against this set.
var allowedOpcodes = map[types.GuardOp]bool{
	types.GuardConst:          true,
	types.GuardReadObservation: true,
	types.GuardCompareEQ:      true,
	types.GuardCompareLT:      true,
	types.GuardCompareGT:      true,
	types.GuardAnd:            true,
	types.GuardOr:             true,
	types.GuardNot:            true,
}

// structurallyValidated is the input to semantic validation: a snapshot
// whose triples are well-formed and whose declared patterns are structurally
// sound (1-8 phases each).
type structurallyValidated struct {
	snapshot *types.Snapshot
	patterns []types.Pattern
	guards   []types.Guard
}

// semanticallyValidated additionally guarantees the snapshot's triples
// passed the shape schema.
type semanticallyValidated struct {
	structurallyValidated
}

// timingValidated additionally guarantees every pattern's total tick
// estimate is within the chatman constant.
type timingValidated struct {
	semanticallyValidated
	timing types.TimingProof
}

// codeGenerated additionally carries the compiled descriptor bytes.
type codeGenerated struct {
	timingValidated
	descriptor *types.Descriptor
	isa        types.ISAProof
}

// CertifiedSigma (Σ*) is a descriptor that has flowed through every
// compilation phase and carries a discharged proof certificate.
type CertifiedSigma struct {
	Descriptor  *types.Descriptor
	Certificate types.ProofCertificate
}

// Compiler compiles snapshots into certified descriptors. Construct with
// New; Compile is safe for concurrent use.
type Compiler struct {
	signer signing.Signer
	hasher signing.Hasher
	group  singleflight.Group
}

// New constructs a Compiler that signs proof certificates with signer.
func New(signer signing.Signer) *Compiler {
	return &Compiler{signer: signer, hasher: signing.SHA3Hasher{}}
}

// Compile runs snapshot and its declared patterns/guards through all five
// phases, returning the first typed error encountered. Concurrent calls for
// the same snapshot content hash are deduplicated via singleflight.
func (c *Compiler) Compile(ctx context.Context, snapshot *types.Snapshot, patterns []types.Pattern, guards []types.Guard, schema types.ShapeSchema) (*CertifiedSigma, error) {
	key := snapshot.ContentHashHex()
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.compile(ctx, snapshot, patterns, guards, schema)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CertifiedSigma), nil
}

func (c *Compiler) compile(_ context.Context, snapshot *types.Snapshot, patterns []types.Pattern, guards []types.Guard, schema types.ShapeSchema) (*CertifiedSigma, error) {
	structural, err := c.validateStructural(snapshot, patterns, guards)
	if err != nil {
		return nil, err
	}
	semantic, err := c.validateSemantic(structural, schema)
	if err != nil {
		return nil, err
	}
	timed, err := c.validateTiming(semantic)
	if err != nil {
		return nil, err
	}
	generated, err := c.generateCode(timed)
	if err != nil {
		return nil, err
	}
	return c.accumulateProofs(generated)
}

// validateStructural is phase 1: every pattern has 1-8 phases, totals ≤8
// ticks is NOT checked here (that's timing validation) — only shape of the
// phase list itself.
func (c *Compiler) validateStructural(snapshot *types.Snapshot, patterns []types.Pattern, guards []types.Guard) (*structurallyValidated, error) {
	if snapshot == nil {
		return nil, kherrors.New(kherrors.ErrorTypeValidation, "compiler: nil snapshot")
	}
	for _, p := range patterns {
		if len(p.Phases) < 1 || len(p.Phases) > types.MaxPhasesPerPattern {
			return nil, kherrors.Newf(kherrors.ErrorTypeValidation, "compiler: pattern %q has %d phases, want 1..%d", p.Name, len(p.Phases), types.MaxPhasesPerPattern)
		}
	}
	return &structurallyValidated{snapshot: snapshot, patterns: patterns, guards: guards}, nil
}

// validateSemantic is phase 2: the snapshot's triples must pass the shape
// schema, matching the same ShapeSchema contract the admission gate's
// shape-validation stage uses.
func (c *Compiler) validateSemantic(s *structurallyValidated, schema types.ShapeSchema) (*semanticallyValidated, error) {
	if schema != nil {
		if err := schema.Validate(s.snapshot.Triples()); err != nil {
			return nil, kherrors.Wrap(err, kherrors.ErrorTypeValidation, "compiler: snapshot failed shape validation")
		}
	}
	return &semanticallyValidated{structurallyValidated: *s}, nil
}

// validateTiming is phase 3: every pattern's total tick estimate must be
// within the chatman constant.
func (c *Compiler) validateTiming(s *semanticallyValidated) (*timingValidated, error) {
	var breakdowns []types.PhaseTimingBreakdown
	for _, p := range s.patterns {
		if err := p.Validate(); err != nil {
			return nil, kherrors.Wrap(err, kherrors.ErrorTypeValidation, "compiler: timing validation failed")
		}
		ticks := make([]int, len(p.Phases))
		for i, ph := range p.Phases {
			ticks[i] = ph.TickEstimate
		}
		breakdowns = append(breakdowns, types.PhaseTimingBreakdown{
			PatternID: p.ID,
			Phases:    ticks,
			Total:     p.TotalTicks(),
		})
	}
	timing := types.TimingProof{Breakdowns: breakdowns}
	if !timing.Holds() {
		return nil, kherrors.New(kherrors.ErrorTypeValidation, "compiler: timing proof does not hold")
	}
	return &timingValidated{semanticallyValidated: *s, timing: timing}, nil
}

// generateCode is phase 4: emits the guard bytecode and builds the
// descriptor's code/data/symbol/relocation/entry-point sections.
func (c *Compiler) generateCode(t *timingValidated) (*codeGenerated, error) {
	var code []byte
	var symbols []types.Symbol
	var entryPoints []types.EntryPoint
	var emitted []types.GuardOp

	for _, p := range t.patterns {
		addr := uint32(len(code))
		entryPoints = append(entryPoints, types.EntryPoint{PatternID: p.ID, Address: addr})
		symbols = append(symbols, types.Symbol{
			Type:    types.SymbolPattern,
			Address: addr,
			Size:    uint32(len(p.Phases)),
			Name:    p.Name,
		})
		for _, ph := range p.Phases {
			code = append(code, byte(ph.Kind), byte(ph.TickEstimate))
		}
	}

	for _, g := range t.guards {
		addr := uint32(len(code))
		symbols = append(symbols, types.Symbol{
			Type:    types.SymbolGuard,
			Address: addr,
			Size:    uint32(len(g.Program)),
			Name:    g.Name,
		})
		for _, instr := range g.Program {
			emitted = append(emitted, instr.Op)
			code = append(code, byte(instr.Op), byte(instr.Operand))
		}
	}

	isa := types.ISAProof{OpcodesEmitted: emitted, Allowed: allowedOpcodes}
	if !isa.Holds() {
		return nil, kherrors.New(kherrors.ErrorTypeValidation, "compiler: ISA proof does not hold: emitted opcode outside allowed set")
	}

	sortEntryPoints(entryPoints)

	descriptor := &types.Descriptor{
		Header: types.DescriptorHeader{
			Magic:         types.DescriptorMagic,
			FormatVersion: types.DescriptorFormatVersion,
			PatternCount:  uint32(len(t.patterns)),
			Timestamp:     uint64(t.snapshot.Meta.Timestamp.UTC().Unix()),
			VersionString: "1.0.0",
		},
		Code:             code,
		Symbols:          symbols,
		EntryPoints:      entryPoints,
		SourceSnapshotID: t.snapshot.ID,
	}

	return &codeGenerated{timingValidated: *t, descriptor: descriptor, isa: isa}, nil
}

func sortEntryPoints(eps []types.EntryPoint) {
	for i := 1; i < len(eps); i++ {
		for j := i; j > 0 && eps[j-1].PatternID > eps[j].PatternID; j-- {
			eps[j-1], eps[j] = eps[j], eps[j-1]
		}
	}
}

// accumulateProofs is phase 5: assembles the ISA/timing/invariant proofs,
// computes the descriptor's content hash, and signs it. A certificate is
// never returned unless every embedded proof holds (spec P-COMPILE:
// certificate issuance is atomic with proof discharge).
func (c *Compiler) accumulateProofs(g *codeGenerated) (*CertifiedSigma, error) {
	invariants := types.InvariantProof{Touched: map[string]bool{
		"Q1": true, "Q2": true, "Q3": true, "Q4": true, "Q5": true,
	}}

	encoded, err := binfmt.Encode(g.descriptor)
	if err != nil {
		return nil, kherrors.Wrap(err, kherrors.ErrorTypeValidation, "compiler: descriptor encoding failed")
	}
	g.descriptor.Header.Checksum = checksumOf(encoded)
	// Hash the final encoding, checksum included, so the promotion pipeline's
	// re-encoding of the descriptor reproduces it.
	encoded, err = binfmt.Encode(g.descriptor)
	if err != nil {
		return nil, kherrors.Wrap(err, kherrors.ErrorTypeValidation, "compiler: descriptor encoding failed")
	}
	hash := c.hasher.Hash(encoded)

	cert := types.ProofCertificate{
		DescriptorHash: hash,
		ISA:            g.isa,
		Timing:         g.timing,
		Invariants:     invariants,
	}
	if !cert.Discharged() {
		return nil, kherrors.New(kherrors.ErrorTypeValidation, "compiler: proof certificate not discharged")
	}

	if c.signer != nil {
		sig, err := c.signer.Sign(hash)
		if err != nil {
			return nil, kherrors.Wrap(err, kherrors.ErrorTypeFatal, "compiler: signing certificate failed")
		}
		cert.Signature = sig
		cert.SigningKeyID = c.signer.KeyID()
	}

	return &CertifiedSigma{Descriptor: g.descriptor, Certificate: cert}, nil
}

// checksumOf is a cheap polynomial (multiply-by-31) checksum over encoded bytes, distinct from
// the cryptographic content hash: it is the wire-format's redundant
// verification field (spec §6), not a security property.
func checksumOf(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum = sum*31 + uint32(b)
	}
	return sum
}
