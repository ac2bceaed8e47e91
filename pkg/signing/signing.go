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

// Package signing defines the capability interfaces the kernel's validator
// and compiler are written against (sign, verify, hash), per spec §9:
// "the validator is written against capability interfaces, not specific
// algorithms." Concrete implementations are swappable policy.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"

	"golang.org/x/crypto/sha3"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
)

// Hasher computes a content hash over arbitrary bytes. The kernel's content
// hash function is SHA3-256 (spec §9), but downstream code never imports
// sha3 directly so a different scheme can be swapped in behind this
// interface.
type Hasher interface {
	Hash(data []byte) [32]byte
}

// SHA3Hasher is the kernel's default Hasher.
type SHA3Hasher struct{}

// Hash implements Hasher.
func (SHA3Hasher) Hash(data []byte) [32]byte {
	return sha3.Sum256(data)
}

// Signer produces a signature over a descriptor hash.
type Signer interface {
	KeyID() string
	Sign(descriptorHash [32]byte) ([]byte, error)
}

// Verifier checks a signature over a descriptor hash, or over an admission
// observation's signature material (the post-quantum lattice scheme named
// in spec §4.1 is an external collaborator; Verifier is the interface a
// concrete PQC library would implement).
type Verifier interface {
	Verify(descriptorHash [32]byte, signature []byte) bool
}

// Ed25519Signer is the kernel's reference certificate-signing
// implementation (spec §9 names Ed25519 for certificate signing policy).
type Ed25519Signer struct {
	keyID      string
	privateKey ed25519.PrivateKey
}

// NewEd25519Signer generates a fresh Ed25519 keypair and wraps the private
// half in a Signer with the given keyID.
func NewEd25519Signer(keyID string) (*Ed25519Signer, *Ed25519Verifier, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, kherrors.Wrap(err, kherrors.ErrorTypeFatal, "generate ed25519 keypair")
	}
	return &Ed25519Signer{keyID: keyID, privateKey: priv}, &Ed25519Verifier{keyID: keyID, publicKey: pub}, nil
}

// NewEd25519SignerFromKey wraps an existing private key.
func NewEd25519SignerFromKey(keyID string, priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{keyID: keyID, privateKey: priv}
}

// KeyID implements Signer.
func (s *Ed25519Signer) KeyID() string { return s.keyID }

// Sign implements Signer.
func (s *Ed25519Signer) Sign(descriptorHash [32]byte) ([]byte, error) {
	return ed25519.Sign(s.privateKey, descriptorHash[:]), nil
}

// PrivateKeyBytes returns the raw private key, for a caller that persists
// it to disk so a restarted kernel signs with the same identity.
func (s *Ed25519Signer) PrivateKeyBytes() []byte {
	raw := make([]byte, len(s.privateKey))
	copy(raw, s.privateKey)
	return raw
}

// Ed25519Verifier is the counterpart Verifier for Ed25519Signer.
type Ed25519Verifier struct {
	keyID     string
	publicKey ed25519.PublicKey
}

// NewEd25519Verifier wraps an existing public key.
func NewEd25519Verifier(keyID string, pub ed25519.PublicKey) *Ed25519Verifier {
	return &Ed25519Verifier{keyID: keyID, publicKey: pub}
}

// KeyID reports which key this verifier checks signatures against.
func (v *Ed25519Verifier) KeyID() string { return v.keyID }

// Verify implements Verifier.
func (v *Ed25519Verifier) Verify(descriptorHash [32]byte, signature []byte) bool {
	return ed25519.Verify(v.publicKey, descriptorHash[:], signature)
}
