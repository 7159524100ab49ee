package algo

import "github.com/luxfi/qnetd/wire"

// Test is the unsafe `test` algorithm (spec.md §4.4.1): unconditional Ack
// on membership lists, NoChange everywhere else. Grounded on
// original_source/qdevices/qnetd-algo-test.c, which does exactly this and
// logs a warning on every callback.
//
// Disabled by default: it is selectable only when qnetd.Algorithms.TestEnabled
// is set. cmd/qnetd always leaves that field false, and no server config
// or advanced setting turns it on.
type Test struct{}

var _ Algorithm = Test{}

func (Test) Init(Client) (wire.ReplyErrorCode, error) {
	return wire.ErrNoError, nil
}

func (Test) ConfigNodeListReceived(Client, uint32, NodeList) (wire.ReplyErrorCode, wire.Vote) {
	return wire.ErrNoError, wire.VoteAck
}

func (Test) MembershipNodeListReceived(Client, uint32, wire.RingID, []wire.NodeInfo, wire.HeuristicsResult) (wire.ReplyErrorCode, wire.Vote) {
	return wire.ErrNoError, wire.VoteAck
}

func (Test) QuorumNodeListReceived(Client, uint32, wire.Quorate, []wire.NodeInfo) (wire.ReplyErrorCode, wire.Vote) {
	return wire.ErrNoError, wire.VoteAck
}

func (Test) AskForVoteReceived(Client, uint32) (wire.ReplyErrorCode, wire.Vote) {
	return wire.ErrNoError, wire.VoteNoChange
}

func (Test) HeuristicsChangeReceived(Client, uint32, wire.HeuristicsResult) (wire.ReplyErrorCode, wire.Vote) {
	return wire.ErrNoError, wire.VoteNoChange
}

func (Test) VoteInfoReplyReceived(Client, uint32) wire.ReplyErrorCode {
	return wire.ErrNoError
}

// Disconnect forces Nack rather than the historical C implementation's
// permissive NoChange, per the open-question decision in DESIGN.md: any
// new/experimental algorithm defaults to ffsplit's safe behavior unless it
// has a specific reason not to.
func (Test) Disconnect(client Client, serverGoingDown bool) {
	client.SetLastSentVote(wire.VoteNack)
}

func (Test) TimerCallback(Client) TimerResult {
	return TimerResult{}
}
