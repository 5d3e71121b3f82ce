// Package syncer orchestrates asynchronous balance recomputation.
//
// The engine:
//  1. Schedules Sync records on entry mutation or explicit request,
//     widening an existing pending window instead of duplicating it
//  2. Executes syncs on a worker pool (pending -> syncing -> terminal)
//  3. Fans family syncs out into one child sync per account
//  4. Finalizes parents once all children reach a terminal state,
//     using non-blocking claims so finalization can never deadlock
//  5. Periodically reaps abandoned syncs as stale
//
// All shared state lives in the syncs table; every transition is an
// atomic conditional UPDATE, so any number of workers can run without
// double-counting or blocking each other.
package syncer
