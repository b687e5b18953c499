package translation

import (
	"sync"
	"sync/atomic"
	"time"
)

// Job is one translation of one version urn. All mutable state is guarded by mu;
// callers read it through Snapshot.
type Job struct {
	id          string
	urn         string
	itemID      string
	submittedAt time.Time

	mu           sync.Mutex
	state        State
	lastPolledAt time.Time
	attempts     int
	backoff      time.Duration
	lastMessage  string
	manifest     *Manifest
	err          error
	disposed     bool
	tracking     bool

	// polling guards against more than one in-flight poll
	polling atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
}

func newJob(id, urn, itemID string, now time.Time, backoff time.Duration) *Job {
	return &Job{
		id:          id,
		urn:         urn,
		itemID:      itemID,
		submittedAt: now,
		state:       StateSubmitted,
		backoff:     backoff,
		done:        make(chan struct{}),
		stop:        make(chan struct{}),
	}
}

// ID returns the job id
func (j *Job) ID() string { return j.id }

// URN returns the version urn being translated
func (j *Job) URN() string { return j.urn }

// ItemID returns the item the job was submitted for, if any
func (j *Job) ItemID() string { return j.itemID }

// Done is closed once the job reaches a terminal state or is disposed
func (j *Job) Done() <-chan struct{} { return j.done }

// State returns the current state
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Snapshot returns a copy of the job's current state
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() Snapshot {
	return Snapshot{
		ID:           j.id,
		URN:          j.urn,
		ItemID:       j.itemID,
		State:        j.state,
		SubmittedAt:  j.submittedAt,
		LastPolledAt: j.lastPolledAt,
		Attempts:     j.attempts,
		Backoff:      j.backoff,
		LastMessage:  j.lastMessage,
		Manifest:     j.manifest,
		Err:          j.err,
		Disposed:     j.disposed,
	}
}

func (j *Job) isDisposed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.disposed
}

// finishLocked closes Done after a terminal transition
func (j *Job) finishLocked() {
	j.doneOnce.Do(func() { close(j.done) })
}

// dispose marks the job dropped and stops its polling task
func (j *Job) dispose() {
	j.mu.Lock()
	j.disposed = true
	j.mu.Unlock()
	j.stopOnce.Do(func() { close(j.stop) })
	j.doneOnce.Do(func() { close(j.done) })
}
