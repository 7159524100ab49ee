package heuristics

import "github.com/luxfi/qnetd/wire"

// NoopExecutor is the default Executor when no heuristics commands are
// configured (quorum.device.net.heuristics.* absent): corosync's own
// qdevice-net-heuristics.c takes the same "mode none, never runs" path
// when its command list is empty. Run is a no-op and Results never
// fires, so HeuristicsChange is simply never sent.
type NoopExecutor struct {
	results chan wire.HeuristicsResult
}

// NewNoopExecutor returns an Executor that never produces a result.
func NewNoopExecutor() *NoopExecutor {
	return &NoopExecutor{results: make(chan wire.HeuristicsResult)}
}

func (n *NoopExecutor) Run() {}

func (n *NoopExecutor) Results() <-chan wire.HeuristicsResult { return n.results }
