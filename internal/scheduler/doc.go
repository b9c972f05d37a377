// Package scheduler owns the lifecycle of work records.
//
// It keeps the working set in memory (write-through to a storage.Store),
// evaluates constraints against the current environment, hands due work to
// the runner and applies the outcome:
//
//	Enqueued -> Blocked      constraints unsatisfied
//	Blocked  -> Enqueued     constraints satisfied again
//	Enqueued -> Running      satisfied and a runner worker is idle
//	Running  -> Succeeded    one-time success (output kept)
//	Running  -> Failed       one-time failure (no retry)
//	Running  -> Enqueued     periodic run finished, or run interrupted by shutdown
//	*        -> Cancelled    Cancel on any unfinished record
//
// Evaluation passes are triggered by enqueues, completions, environment
// changes, a timer armed at the next due time and a cron poll tick. Passes are
// paced by a token bucket so a burst of triggers never turns into a busy loop.
package scheduler
