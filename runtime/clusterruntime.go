// ClusterRuntime is the out-of-scope "local cluster runtime" collaborator
// named in spec.md §1: it supplies this node's identity and membership
// state and accepts cast-vote notifications, standing in for corosync's
// votequorum subsystem (original_source/qdevices/qdevice-votequorum.c).
package runtime

import (
	"context"

	"github.com/luxfi/qnetd/wire"
)

// MembershipEvent is delivered whenever the local cluster runtime's
// membership changes.
type MembershipEvent struct {
	RingID  wire.RingID
	Nodes   []wire.NodeInfo
	Quorate wire.Quorate
}

// ClusterRuntime is the contract qdevice.Instance depends on; it is
// supplied by the surrounding cluster stack (e.g. corosync's votequorum).
// This module implements it only with FakeRuntime (tests) and
// StandaloneRuntime (the single-node stand-in cmd/qdevice-net uses).
type ClusterRuntime interface {
	// NodeID returns this node's id as known to the local cluster.
	NodeID() uint32

	// Events returns a channel of membership notifications; closed when
	// the local runtime shuts down.
	Events() <-chan MembershipEvent

	// ExpectedVotes is the locally configured expected-votes figure used
	// to weight this node's cast vote.
	ExpectedVotes() uint32

	// CastVote asynchronously tells the local runtime how many votes
	// (0 or ExpectedVotes) this device currently contributes.
	CastVote(ctx context.Context, votes uint32) error
}

// FakeRuntime is an in-memory ClusterRuntime used by qdevice tests,
// the Go rendition of a test double for qdevice-votequorum.c's callback
// surface.
type FakeRuntime struct {
	nodeID        uint32
	expectedVotes uint32
	events        chan MembershipEvent
	CastVotes     []uint32
}

// NewFakeRuntime creates a fake local cluster runtime for tests.
func NewFakeRuntime(nodeID, expectedVotes uint32) *FakeRuntime {
	return &FakeRuntime{
		nodeID:        nodeID,
		expectedVotes: expectedVotes,
		events:        make(chan MembershipEvent, 16),
	}
}

func (f *FakeRuntime) NodeID() uint32                 { return f.nodeID }
func (f *FakeRuntime) Events() <-chan MembershipEvent { return f.events }
func (f *FakeRuntime) ExpectedVotes() uint32          { return f.expectedVotes }

func (f *FakeRuntime) CastVote(ctx context.Context, votes uint32) error {
	f.CastVotes = append(f.CastVotes, votes)
	return nil
}

// Emit pushes a membership event to the runtime's channel, simulating a
// real local cluster membership change.
func (f *FakeRuntime) Emit(ev MembershipEvent) {
	f.events <- ev
}

// Close shuts down the fake runtime's event channel.
func (f *FakeRuntime) Close() {
	close(f.events)
}
