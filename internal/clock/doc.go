// Package clock drives the daemon's periodic tick loops.
//
// A Scheduler owns a set of named tick sources (variety, health, cleanup).
// Each tick fires its handler on its own goroutine but guarantees that a
// given tick name never overlaps itself: if the previous invocation of a
// handler has not returned when the next tick is due, that tick is skipped
// rather than queued. Different tick names may run concurrently with one
// another.
package clock
