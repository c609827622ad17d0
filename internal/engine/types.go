package engine

import (
	"errors"
)

// State is the observable state of a step in one engine.
type State string

const (
	StatePending  State = "pending"
	StateInFlight State = "in_flight"
	StateReady    State = "ready"
	StateFailed   State = "failed"
	StateWaiting  State = "waiting"
)

// ErrResolveFailure wraps errors returned (or panics raised) by a node's
// resolve function.
var ErrResolveFailure = errors.New("resolve failure")

// DataParam is the pseudo-parameter reported in Result.Waiting when a
// parameterized step has no usable literal data.
const DataParam = "data"

// Result is the outcome of resolving one step.
type Result struct {
	StepID string
	State  State
	// OutputType is the data node spec of Value; set when State is ready.
	OutputType string
	Value      any
	// Err is set when State is failed.
	Err error
	// Waiting lists the parameters that blocked a waiting step.
	Waiting []string
}

// Ready reports whether the result carries a value.
func (r Result) Ready() bool { return r.State == StateReady }
