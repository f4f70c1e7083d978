// Package engine executes case instances.
//
// A case is an event-sourced state machine forest: the case plan and
// its descendants each run a small per-type state machine, criteria
// watch transitions of plan items and case file items, and every
// state change is journaled as an event before it is applied.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// The Runtime processes all commands in a single goroutine. Commands
// enqueue from anywhere; all case mutation and journal appends happen
// in the Run loop. This keeps event sequences deterministic without
// locks inside the case.
//
// Command Flow:
//  1. Command submitted, queued FIFO
//  2. Runtime resolves the case, recovering it from the journal if needed
//  3. Case.Perform runs the three gates: Authorize, Validate, Process
//  4. Process emits events; each event applies to in-memory state as
//     it is emitted, so follow-on behavior sees the new state
//  5. The produced envelopes append to the journal in one batch
//
// Determinism:
// Replaying a journal through Case.Recover reproduces the exact case
// state, because apply never consults anything outside the event.
// Rule outcomes, generated ids and computed case file values are all
// journaled rather than recomputed.
//
// Two-Phase Propagation:
// A transition's own state change and the entry criteria it satisfies
// run before its exit criteria are informed. The call stack in
// stack.go keeps nested transitions in that order.
package engine
