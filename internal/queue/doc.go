// Package queue runs an ordered list of scripts through the macro engine,
// one run at a time.
//
// A queue is a Definition: entries consumed front to back, each repeated
// Repeat times, the whole list repeated Repeats times. The next run starts
// only after the previous one is terminal. What happens after a failed
// run is the queue's Policy:
//
//   - skip: record the failure and move to the next entry (default)
//   - abort: stop; remaining entries are marked skipped
//   - retry: re-run the failed entry up to MaxRetries more times, then skip
//
// Cancel stops the queue: the in-flight run is cancelled and entries that
// have not run are marked cancelled.
package queue
