// Package scheduler runs station jobs one at a time.
//
// Jobs wait in a time-ordered queue until due, are promoted to a
// priority-ordered queue, and are executed by a single dispatch goroutine.
// After every ordinary run the scheduler updates cycle tracking and lets the
// maintenance watchdog decide whether a maintenance job is needed.
//
// Observers (dashboard, ops) only read copies: queue snapshots, Status and
// the activity log.
package scheduler
