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

package promotion

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanchatmangpt/knhk-sub006/pkg/compiler"
	"github.com/seanchatmangpt/knhk-sub006/pkg/signing"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

type stubReceiptSink struct {
	receipts []types.Receipt
}

func (s *stubReceiptSink) Append(_ context.Context, r types.Receipt) (string, error) {
	s.receipts = append(s.receipts, r)
	return r.ID, nil
}

type stubAndon struct {
	faults []string
}

func (s *stubAndon) ReportFault(stage string) {
	s.faults = append(s.faults, stage)
}

func freshCertified(t *testing.T, signer signing.Signer) *compiler.CertifiedSigma {
	t.Helper()
	snap, err := types.NewSnapshot("snap-1", 1, "", types.SnapshotMeta{}, []types.Triple{
		{Subject: "wf", Predicate: "hasTask", Object: "t1"},
	}, nil)
	require.NoError(t, err)

	c := compiler.New(signer)
	pattern := types.Pattern{
		ID:   1,
		Name: "sequence",
		Phases: []types.Phase{
			{Name: "execute", Kind: types.HandlerPure, TickEstimate: 1},
		},
		RequiredInputs: 1,
	}
	certified, err := c.Compile(context.Background(), snap, []types.Pattern{pattern}, nil, nil)
	require.NoError(t, err)
	return certified
}

func TestPromoteSwapsInAVerifiedDescriptor(t *testing.T) {
	signer, verifier, err := signing.NewEd25519Signer("promotion-key")
	require.NoError(t, err)
	certified := freshCertified(t, signer)

	sink := &stubReceiptSink{}
	p := New(logr.Discard(), Config{Verifier: verifier, Receipts: sink})

	assert.Nil(t, p.Current())
	err = p.Promote(context.Background(), certified)
	require.NoError(t, err)
	assert.Same(t, certified.Descriptor, p.Current())
	assert.Len(t, sink.receipts, 1)
	assert.True(t, sink.receipts[0].Success)
}

func TestPromoteRejectsAWrongSignature(t *testing.T) {
	signer, _, err := signing.NewEd25519Signer("key-a")
	require.NoError(t, err)
	_, wrongVerifier, err := signing.NewEd25519Signer("key-b")
	require.NoError(t, err)

	certified := freshCertified(t, signer)

	andon := &stubAndon{}
	p := New(logr.Discard(), Config{Verifier: wrongVerifier, Andon: andon})

	err = p.Promote(context.Background(), certified)
	assert.Error(t, err)
	assert.Nil(t, p.Current())
	assert.Contains(t, andon.faults, "verification")
}

func TestPromoteRejectsATamperedDescriptor(t *testing.T) {
	signer, verifier, err := signing.NewEd25519Signer("promotion-key")
	require.NoError(t, err)
	certified := freshCertified(t, signer)
	certified.Descriptor.Code = append(certified.Descriptor.Code, 0xFF)

	p := New(logr.Discard(), Config{Verifier: verifier})
	err = p.Promote(context.Background(), certified)
	assert.Error(t, err)
}

func TestPromoteRunsACanaryConfirmationPassWhenSampled(t *testing.T) {
	signer, verifier, err := signing.NewEd25519Signer("promotion-key")
	require.NoError(t, err)
	certified := freshCertified(t, signer)

	alwaysCanary := alwaysSampleCanary{}
	p := New(logr.Discard(), Config{Verifier: verifier, Canary: alwaysCanary})

	err = p.Promote(context.Background(), certified)
	require.NoError(t, err)
	assert.NotNil(t, p.Current())
}

type alwaysSampleCanary struct{}

func (alwaysSampleCanary) Sample(_ [32]byte) bool { return true }

func TestRollbackReturnsToAPreviouslyPromotedSnapshot(t *testing.T) {
	signer, verifier, err := signing.NewEd25519Signer("promotion-key")
	require.NoError(t, err)

	first := freshCertified(t, signer)
	p := New(logr.Discard(), Config{Verifier: verifier})
	require.NoError(t, p.Promote(context.Background(), first))

	err = p.Rollback(context.Background(), first.Descriptor.SourceSnapshotID)
	require.NoError(t, err)
	assert.Same(t, first.Descriptor, p.Current())
}

func TestRollbackFailsForAnUnknownSnapshot(t *testing.T) {
	p := New(logr.Discard(), Config{})
	err := p.Rollback(context.Background(), "never-promoted")
	assert.Error(t, err)
}

func TestWeightedCanarySampleRateZeroNeverSamples(t *testing.T) {
	c := WeightedCanary{Rate: 0}
	for i := 0; i < 20; i++ {
		assert.False(t, c.Sample([32]byte{}))
	}
}

func TestWeightedCanarySampleRateOneAlwaysSamples(t *testing.T) {
	c := WeightedCanary{Rate: 1}
	for i := 0; i < 20; i++ {
		assert.True(t, c.Sample([32]byte{}))
	}
}
