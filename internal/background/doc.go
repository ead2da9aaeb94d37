// Package background runs periodic, non-branching step groups alongside
// macro runs.
//
// Each Action gets its own goroutine and a fresh macro.RunContext per
// cycle. The pause before the next cycle is measured from the end of the
// previous one, so a slow cycle delays the schedule instead of stacking
// cycles up:
//
//	|-- cycle (1500ms) --|-- interval (1000ms) + jitter --|-- cycle --| ...
//
// Steps are interpreted by the macro engine, so device input goes through
// the same gated gateway as the foreground run and waiters are served in
// arrival order. A failed cycle is reported and the next one is still
// scheduled; Stop ends only the named action.
package background
