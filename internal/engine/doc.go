// Package engine resolves step outputs on demand and memoizes them.
//
// Each step id maps to a single-assignment cell. The first caller claims the
// cell under the engine mutex and starts the computation; every concurrent
// caller waits on the same cell, so a node's resolve function runs at most
// once per id until the entry is invalidated.
//
// A step whose inputs are not all ready is "waiting". Waiting is reported to
// the caller but never cached, so the step is re-examined on the next call.
// Ready and failed results stay cached until Invalidate.
package engine
