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

// PhaseTimingBreakdown records the per-phase tick estimate for one pattern,
// as recorded by the compiler's timing-validation phase.
type PhaseTimingBreakdown struct {
	PatternID uint8
	Phases    []int
	Total     int
}

// ISAProof asserts every opcode the compiler emitted is a member of the
// allowed instruction set.
type ISAProof struct {
	OpcodesEmitted []GuardOp
	Allowed        map[GuardOp]bool
}

// Holds reports whether every emitted opcode is allowed.
func (p ISAProof) Holds() bool {
	for _, op := range p.OpcodesEmitted {
		if !p.Allowed[op] {
			return false
		}
	}
	return true
}

// TimingProof asserts every task's phases sum to ≤8 ticks, with a per-phase
// breakdown for audit.
type TimingProof struct {
	Breakdowns []PhaseTimingBreakdown
}

// Holds reports whether every breakdown is within the chatman constant.
func (p TimingProof) Holds() bool {
	for _, b := range p.Breakdowns {
		if b.Total > ChatmanConstant {
			return false
		}
	}
	return true
}

// InvariantProof names the hard invariants (Q1..Q5, spec glossary) the
// compiled descriptor has been checked against.
type InvariantProof struct {
	Touched map[string]bool // e.g. "Q1".."Q5"
}

// Holds reports whether all five invariants were touched (checked) during
// compilation.
func (p InvariantProof) Holds() bool {
	for _, q := range []string{"Q1", "Q2", "Q3", "Q4", "Q5"} {
		if !p.Touched[q] {
			return false
		}
	}
	return true
}

// ProofCertificate is bound to one descriptor hash: ISA-compliance,
// timing-bound, and invariant proofs, plus a signature over the descriptor
// hash by the compiler's key (spec §3).
type ProofCertificate struct {
	DescriptorHash [32]byte
	ISA            ISAProof
	Timing         TimingProof
	Invariants     InvariantProof
	Signature      []byte
	SigningKeyID   string
}

// Discharged reports whether every embedded proof holds. A certificate whose
// proofs do not all hold must never be signed by a real signer; Discharged
// exists so callers can assert this before treating a certificate as valid.
func (c ProofCertificate) Discharged() bool {
	return c.ISA.Holds() && c.Timing.Holds() && c.Invariants.Holds()
}
