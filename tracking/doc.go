// Package tracking implements the sector tracking state machine.
//
// This package handles:
// - Debounced sector entry/exit detection against the sector catalog
// - Running and predicted average speed over the current sector run
// - Progress along the sector route and recommended-speed computation
// - Rate-limited violation events and pre-entry early warnings
// - A bounded history of completed sector runs
//
// The Tracker is a sequential reducer over (state, fix): every accepted fix
// produces the next state plus zero or more emitted events. It is never
// internally concurrent; a mutex only guards against callers reading
// snapshots while a fix is being applied.
package tracking
