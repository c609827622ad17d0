// Package graph models the persisted execution graph: steps referencing
// upstream steps by id, the construction-time checks that keep it a typed
// DAG, and the linearizer that orders a target step after its ancestors.
//
// Read paths never assume the graph is well formed. A reference to an absent
// step is reported as a DanglingReference. Callers choose whether that is
// tolerated (ModeLenient, for visualization and diagnostics) or fatal
// (ModeStrict, for export).
package graph
