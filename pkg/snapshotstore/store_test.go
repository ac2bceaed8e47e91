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

package snapshotstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

func fixtureSnapshot(t *testing.T, id string, version uint64) *types.Snapshot {
	t.Helper()
	snap, err := types.NewSnapshot(id, version, "", types.SnapshotMeta{}, []types.Triple{
		{Subject: "wf", Predicate: "hasTask", Object: "t1"},
	}, nil)
	require.NoError(t, err)
	return snap
}

func TestCurrentIsNilBeforeAnyPromotion(t *testing.T) {
	s := NewMemoryStore()
	assert.Nil(t, s.Current())
}

func TestAddThenPromoteMakesTheSnapshotCurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	snap := fixtureSnapshot(t, "snap-1", 1)

	require.NoError(t, s.Add(ctx, snap))
	require.NoError(t, s.Promote(ctx, "snap-1"))

	assert.Equal(t, snap, s.Current())
}

func TestAddRejectsADuplicateID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	snap := fixtureSnapshot(t, "snap-1", 1)

	require.NoError(t, s.Add(ctx, snap))
	err := s.Add(ctx, snap)
	assert.Error(t, err)
}

func TestAddRejectsANilSnapshot(t *testing.T) {
	s := NewMemoryStore()
	err := s.Add(context.Background(), nil)
	assert.Error(t, err)
}

func TestPromoteRejectsAnUnknownID(t *testing.T) {
	s := NewMemoryStore()
	err := s.Promote(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestGetReturnsAnUnpromotedSnapshot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	snap := fixtureSnapshot(t, "snap-1", 1)
	require.NoError(t, s.Add(ctx, snap))

	got, err := s.Get(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, snap, got)
	assert.Nil(t, s.Current())
}

func TestPromotingASecondSnapshotReplacesTheFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first := fixtureSnapshot(t, "snap-1", 1)
	second := fixtureSnapshot(t, "snap-2", 2)

	require.NoError(t, s.Add(ctx, first))
	require.NoError(t, s.Add(ctx, second))
	require.NoError(t, s.Promote(ctx, "snap-1"))
	require.NoError(t, s.Promote(ctx, "snap-2"))

	assert.Equal(t, second, s.Current())
}

func TestCurrentNeverBlocksBehindConcurrentAdds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := fixtureSnapshot(t, "snap-0", 0)
	require.NoError(t, s.Add(ctx, base))
	require.NoError(t, s.Promote(ctx, "snap-0"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			snap, err := types.NewSnapshot(
				"concurrent",
				uint64(n),
				"",
				types.SnapshotMeta{},
				[]types.Triple{{Subject: "a", Predicate: "b", Object: "c"}},
				nil,
			)
			require.NoError(t, err)
			_ = s.Add(ctx, snap)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, base, s.Current())
}
