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

// Package byzantine models the replica-commit boundary a promotion would
// eventually cross in a multi-replica deployment (spec §4.6). Only the
// message shapes and the interface are in scope here: the actual PBFT wire
// protocol (message authentication, view-change, checkpointing) is out of
// scope, and LocalBroadcaster's always-commit behavior is what a
// single-node deployment actually needs.
package byzantine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Phase names the PBFT three-phase commit protocol's stages, carried here
// for logging and metrics only — no wire encoding is defined for them.
type Phase string

const (
	PhasePrePrepare Phase = "pre-prepare"
	PhasePrepare    Phase = "prepare"
	PhaseCommit     Phase = "commit"
	PhaseReply      Phase = "reply"
)

// Block is the unit a Broadcaster proposes for commit: a promoted
// snapshot/descriptor pair, identified by content hash so every replica
// can agree they are voting on the same bytes.
type Block struct {
	SnapshotID   string
	DescriptorID string
	ContentHash  [32]byte
}

// Vote is one replica's commit vote for a Block.
type Vote struct {
	ReplicaID string
	Phase     Phase
	Timestamp time.Time
}

// CommitCertificate is the quorum proof a Block reached 2f+1 commits.
type CommitCertificate struct {
	BlockHash     [32]byte
	Votes         []Vote
	QuorumSize    int
	TotalReplicas int
}

// Broadcaster proposes a Block to the replica set and returns once a
// commit certificate is available. A real multi-replica implementation
// would round-trip pre-prepare/prepare/commit over the network; this
// package only fixes the shape a caller programs against.
type Broadcaster interface {
	Propose(ctx context.Context, block Block) (CommitCertificate, error)
}

// LocalBroadcaster is the single-replica Broadcaster: it always commits
// immediately, recording a one-vote certificate from itself. Suitable for
// single-node deployments where Byzantine fault tolerance is moot.
type LocalBroadcaster struct {
	ReplicaID string
}

// NewLocalBroadcaster constructs a LocalBroadcaster identified by replicaID.
func NewLocalBroadcaster(replicaID string) *LocalBroadcaster {
	if replicaID == "" {
		replicaID = uuid.NewString()
	}
	return &LocalBroadcaster{ReplicaID: replicaID}
}

// Propose always commits: a single replica is, trivially, its own quorum.
func (b *LocalBroadcaster) Propose(_ context.Context, block Block) (CommitCertificate, error) {
	vote := Vote{ReplicaID: b.ReplicaID, Phase: PhaseCommit, Timestamp: time.Now()}
	return CommitCertificate{
		BlockHash:     block.ContentHash,
		Votes:         []Vote{vote},
		QuorumSize:    1,
		TotalReplicas: 1,
	}, nil
}
