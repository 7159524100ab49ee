package runtime

import (
	"context"

	"github.com/luxfi/log"
	"github.com/luxfi/qnetd/wire"
)

// StandaloneRuntime is a minimal ClusterRuntime for running qdevice-net
// outside a real corosync process (e.g. manual operation, smoke testing):
// it reports a single-node membership built from the locally configured
// node id and never changes again, and logs cast votes instead of
// forwarding them to votequorum. A production deployment embeds
// qdevice-net's Dial/Session against corosync's actual votequorum IPC
// client, which this module explicitly treats as an out-of-scope external
// collaborator (spec.md §1) — StandaloneRuntime exists only so the CLI
// binary has something real to run against.
type StandaloneRuntime struct {
	nodeID        uint32
	expectedVotes uint32
	events        chan MembershipEvent
	log           log.Logger
}

// NewStandaloneRuntime creates a runtime that immediately announces a
// single-node membership for nodeID.
func NewStandaloneRuntime(nodeID, expectedVotes uint32, l log.Logger) *StandaloneRuntime {
	r := &StandaloneRuntime{
		nodeID:        nodeID,
		expectedVotes: expectedVotes,
		events:        make(chan MembershipEvent, 1),
		log:           l,
	}
	r.events <- MembershipEvent{
		RingID:  wire.RingID{NodeID: nodeID, Seq: 1},
		Nodes:   []wire.NodeInfo{{NodeID: nodeID}},
		Quorate: wire.Inquorate,
	}
	return r
}

func (r *StandaloneRuntime) NodeID() uint32                 { return r.nodeID }
func (r *StandaloneRuntime) Events() <-chan MembershipEvent { return r.events }
func (r *StandaloneRuntime) ExpectedVotes() uint32          { return r.expectedVotes }

func (r *StandaloneRuntime) CastVote(ctx context.Context, votes uint32) error {
	r.log.Info("qdevice: standalone runtime received cast vote", "votes", votes)
	return nil
}
