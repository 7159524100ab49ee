// Package heuristics is the out-of-scope "heuristics executor" contract
// named in spec.md §1: it runs external probes and publishes pass/fail/
// undefined results. Grounded on
// original_source/qdevices/qdevice-net-heuristics.c's exec-and-notify
// shape.
package heuristics

import "github.com/luxfi/qnetd/wire"

// Executor runs the configured heuristics commands and reports the
// aggregate result through Results. It is supplied externally; this
// module never implements it except as a test fake.
type Executor interface {
	// Run starts (or re-triggers, if already running) a heuristics pass.
	// Implementations should be non-blocking: the result arrives later on
	// Results.
	Run()

	// Results returns a channel of heuristics outcomes.
	Results() <-chan wire.HeuristicsResult
}

// FakeExecutor is an in-memory Executor used by qdevice tests.
type FakeExecutor struct {
	results chan wire.HeuristicsResult
	runs    int
}

// NewFakeExecutor creates a fake heuristics executor for tests.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{results: make(chan wire.HeuristicsResult, 16)}
}

func (f *FakeExecutor) Run()                                  { f.runs++ }
func (f *FakeExecutor) Results() <-chan wire.HeuristicsResult { return f.results }
func (f *FakeExecutor) RunCount() int                         { return f.runs }

// Push delivers a result as though a real probe run had just completed.
func (f *FakeExecutor) Push(result wire.HeuristicsResult) {
	f.results <- result
}
