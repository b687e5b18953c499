// Package translation tracks derivative translation jobs.
//
// A job moves Submitted -> Polling -> {Succeeded, Failed, TimedOut}. Each tracked job
// polls on its own timer with a doubling backoff capped at a ceiling; a jittered delay
// spreads polls of concurrent jobs. At most one poll is in flight per job, so results
// apply in issue order. Disposing a job stops its timer; a poll already in flight
// completes and its result is dropped.
package translation
