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

package byzantine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBroadcasterAlwaysCommitsWithItselfAsTheQuorum(t *testing.T) {
	b := NewLocalBroadcaster("replica-1")
	block := Block{SnapshotID: "snap-1", DescriptorID: "desc-1", ContentHash: [32]byte{1, 2, 3}}

	cert, err := b.Propose(context.Background(), block)
	require.NoError(t, err)

	assert.Equal(t, block.ContentHash, cert.BlockHash)
	assert.Equal(t, 1, cert.QuorumSize)
	assert.Equal(t, 1, cert.TotalReplicas)
	require.Len(t, cert.Votes, 1)
	assert.Equal(t, "replica-1", cert.Votes[0].ReplicaID)
	assert.Equal(t, PhaseCommit, cert.Votes[0].Phase)
}

func TestNewLocalBroadcasterGeneratesAReplicaIDWhenNoneIsGiven(t *testing.T) {
	b := NewLocalBroadcaster("")
	assert.NotEmpty(t, b.ReplicaID)
}

func TestLocalBroadcasterSatisfiesTheBroadcasterInterface(t *testing.T) {
	var _ Broadcaster = (*LocalBroadcaster)(nil)
}
