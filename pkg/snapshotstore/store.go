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

// Package snapshotstore holds the ontology snapshots (Σ) the compiler
// certifies descriptors against and the promotion pipeline swaps between
// (spec §4.6). Reads of the current snapshot never block behind a writer
// adding a new one: the index is a copy-on-write sync.Map plus an
// atomic.Pointer to whichever snapshot is currently promoted.
package snapshotstore

import (
	"context"
	"sync"
	"sync/atomic"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// Store is the snapshot store contract every backend implements.
type Store interface {
	Add(ctx context.Context, snap *types.Snapshot) error
	Promote(ctx context.Context, id string) error
	Current() *types.Snapshot
	Get(ctx context.Context, id string) (*types.Snapshot, error)
}

// MemoryStore is an in-process snapshot store. Add is the only operation
// that takes a lock; Promote, Current and Get are lock-free, working on the
// sync.Map index and the atomic current pointer.
type MemoryStore struct {
	index   sync.Map // id (string) -> *types.Snapshot
	current atomic.Pointer[types.Snapshot]
	mu      sync.Mutex // serializes Add calls against each other
}

// NewMemoryStore constructs an empty snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add registers snap under its ID. Adding a snapshot does not promote it;
// callers must call Promote explicitly once it has passed validation.
func (s *MemoryStore) Add(_ context.Context, snap *types.Snapshot) error {
	if snap == nil {
		return kherrors.New(kherrors.ErrorTypeValidation, "snapshotstore: cannot add a nil snapshot")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index.Load(snap.ID); exists {
		return kherrors.Newf(kherrors.ErrorTypeValidation, "snapshotstore: snapshot %s already exists", snap.ID)
	}
	s.index.Store(snap.ID, snap)
	return nil
}

// Promote makes the snapshot with the given ID the current one, visible to
// every subsequent Current() call. Promote is atomic: a reader never
// observes a partially-updated pointer.
func (s *MemoryStore) Promote(_ context.Context, id string) error {
	v, ok := s.index.Load(id)
	if !ok {
		return kherrors.Newf(kherrors.ErrorTypeValidation, "snapshotstore: cannot promote unknown snapshot %s", id)
	}
	s.current.Store(v.(*types.Snapshot))
	return nil
}

// Current returns the currently promoted snapshot, or nil if none has been
// promoted yet.
func (s *MemoryStore) Current() *types.Snapshot {
	return s.current.Load()
}

// Get returns the snapshot with the given ID, promoted or not.
func (s *MemoryStore) Get(_ context.Context, id string) (*types.Snapshot, error) {
	v, ok := s.index.Load(id)
	if !ok {
		return nil, kherrors.Newf(kherrors.ErrorTypeValidation, "snapshotstore: no snapshot %s", id)
	}
	return v.(*types.Snapshot), nil
}
