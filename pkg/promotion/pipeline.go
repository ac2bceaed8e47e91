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

// Package promotion verifies a compiled descriptor's certificate and
// atomically swaps it in as the kernel's current descriptor (spec §4.2
// promotion pipeline). Promotion is the only place a descriptor becomes
// live; it never mutates a descriptor, only admits or rejects it.
package promotion

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/pkg/compiler"
	"github.com/seanchatmangpt/knhk-sub006/pkg/compiler/binfmt"
	"github.com/seanchatmangpt/knhk-sub006/pkg/signing"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// AndonRaiser is the subset of pkg/andon.Monitor the pipeline needs: it
// reports a fault on any pre-swap failure. The monitor turns Red only when
// its breaker trips; a single fault does not by itself turn it Red.
type AndonRaiser interface {
	ReportFault(stageName string)
}

// ReceiptSink is the subset of the receipt log the pipeline emits promotion
// receipts to.
type ReceiptSink interface {
	Append(ctx context.Context, r types.Receipt) (string, error)
}

// CanaryPolicy decides whether a given promotion is sampled for an extra
// pre-swap confirmation pass: a second, independent re-verification of the
// certificate before the atomic swap. A nil policy means every promotion
// swaps after a single verification pass.
type CanaryPolicy interface {
	Sample(descriptorHash [32]byte) bool
}

// Config configures a Pipeline.
type Config struct {
	Verifier signing.Verifier
	Canary   CanaryPolicy
	Receipts ReceiptSink
	Andon    AndonRaiser
}

// history entry records one promoted descriptor, so Rollback can find the
// previous one for a given snapshot.
type history struct {
	snapshotID string
	descriptor *types.Descriptor
}

// Pipeline verifies and atomically promotes descriptors. Current is safe
// for concurrent readers while Promote runs.
type Pipeline struct {
	log      logr.Logger
	verifier signing.Verifier
	canary   CanaryPolicy
	receipts ReceiptSink
	andon    AndonRaiser

	current atomic.Pointer[types.Descriptor]
	history []history
}

// New constructs a Pipeline.
func New(log logr.Logger, cfg Config) *Pipeline {
	return &Pipeline{
		log:      log,
		verifier: cfg.Verifier,
		canary:   cfg.Canary,
		receipts: cfg.Receipts,
		andon:    cfg.Andon,
	}
}

// Current returns the currently promoted descriptor, or nil if none has
// been promoted yet (cold start).
func (p *Pipeline) Current() *types.Descriptor {
	return p.current.Load()
}

// Promote verifies certified's signature, embedded proofs, and descriptor
// hash, then atomically swaps it in as Current. Any verification failure
// is reported as a fault to the andon monitor and leaves Current untouched.
func (p *Pipeline) Promote(ctx context.Context, certified *compiler.CertifiedSigma) error {
	if err := p.verify(certified); err != nil {
		p.raiseFault("verification")
		return err
	}

	canaried := false
	if p.canary != nil && p.canary.Sample(certified.Certificate.DescriptorHash) {
		if err := p.verify(certified); err != nil {
			p.raiseFault("canary_confirmation")
			return kherrors.Wrap(err, kherrors.ErrorTypeValidation, "promotion: canary confirmation pass failed")
		}
		canaried = true
	}

	p.current.Store(certified.Descriptor)
	p.history = append(p.history, history{
		snapshotID: certified.Descriptor.SourceSnapshotID,
		descriptor: certified.Descriptor,
	})

	p.emitReceipt(ctx, true, "")
	p.log.Info("promoted descriptor", "snapshot_id", certified.Descriptor.SourceSnapshotID, "canaried", canaried)
	return nil
}

// verify re-derives the descriptor's encoded bytes, checks the hash matches
// the certificate, checks every proof holds, and checks the signature.
func (p *Pipeline) verify(certified *compiler.CertifiedSigma) error {
	if !certified.Certificate.Discharged() {
		return kherrors.New(kherrors.ErrorTypeValidation, "promotion: certificate proofs not discharged")
	}

	encoded, err := binfmt.Encode(certified.Descriptor)
	if err != nil {
		return kherrors.Wrap(err, kherrors.ErrorTypeValidation, "promotion: re-encoding descriptor failed")
	}
	hash := signing.SHA3Hasher{}.Hash(encoded)
	if hash != certified.Certificate.DescriptorHash {
		return kherrors.New(kherrors.ErrorTypeValidation, "promotion: descriptor hash mismatch between encoded bytes and certificate")
	}

	if p.verifier != nil && len(certified.Certificate.Signature) > 0 {
		if !p.verifier.Verify(certified.Certificate.DescriptorHash, certified.Certificate.Signature) {
			return kherrors.New(kherrors.ErrorTypeValidation, "promotion: certificate signature does not verify")
		}
	}
	return nil
}

// Rollback re-promotes the most recently promoted descriptor whose source
// snapshot is toSnapshotID. It is itself subject to no further verification
// since the descriptor was already verified when first promoted.
func (p *Pipeline) Rollback(ctx context.Context, toSnapshotID string) error {
	for i := len(p.history) - 1; i >= 0; i-- {
		if p.history[i].snapshotID == toSnapshotID {
			p.current.Store(p.history[i].descriptor)
			p.emitReceipt(ctx, true, "rollback")
			p.log.Info("rolled back to snapshot", "snapshot_id", toSnapshotID)
			return nil
		}
	}
	p.raiseFault("rollback")
	return kherrors.Newf(kherrors.ErrorTypeReject, "promotion: no promoted descriptor found for snapshot %q", toSnapshotID)
}

func (p *Pipeline) raiseFault(stage string) {
	if p.andon != nil {
		p.andon.ReportFault(stage)
	}
}

func (p *Pipeline) emitReceipt(ctx context.Context, success bool, note string) {
	if p.receipts == nil {
		return
	}
	r := types.Receipt{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Success:   success,
	}
	if note != "" {
		r.GuardsFailed = []string{note}
	}
	_, _ = p.receipts.Append(ctx, r)
}

// WeightedCanary samples a fixed fraction of promotions for confirmation,
// independent of the descriptor being promoted.
type WeightedCanary struct {
	Rate float64
}

// Sample implements CanaryPolicy.
func (c WeightedCanary) Sample(_ [32]byte) bool {
	return rand.Float64() < c.Rate
}
