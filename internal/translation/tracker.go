package translation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/stacklok/bimsync/internal/otel"
	"github.com/stacklok/bimsync/internal/syncerr"
	"github.com/stacklok/bimsync/internal/telemetry"
)

var (
	// ErrPollInFlight is returned when a poll is requested while another is running for the job
	ErrPollInFlight = errors.New("a poll is already in flight for this job")

	// ErrJobDisposed is returned when polling a job that was disposed or superseded
	ErrJobDisposed = errors.New("translation job was disposed")
)

// Tracker drives translation jobs from submission to a terminal state
type Tracker struct {
	upstream Upstream
	cfg      Config
	clock    clock.Clock
	random   func() float64
	metrics  *telemetry.SyncMetrics
	tracer   trace.Tracer

	submits singleflight.Group

	mu     sync.Mutex
	byURN  map[string]*Job
	byItem map[string]*Job
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock sets the clock used for timestamps and poll timers
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithRandom sets the source of jitter, returning values in [0, 1)
func WithRandom(random func() float64) Option {
	return func(t *Tracker) {
		t.random = random
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithTracer sets the tracer for submit and poll spans
func WithTracer(tracer trace.Tracer) Option {
	return func(t *Tracker) {
		t.tracer = tracer
	}
}

// NewTracker creates a tracker over one upstream
func NewTracker(upstream Upstream, cfg Config, opts ...Option) (*Tracker, error) {
	if upstream == nil {
		return nil, fmt.Errorf("upstream is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid translation config: %w", err)
	}

	t := &Tracker{
		upstream: upstream,
		cfg:      cfg,
		clock:    clock.RealClock{},
		random:   rand.Float64, //nolint:gosec // jitter does not need a secure source
		byURN:    make(map[string]*Job),
		byItem:   make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// SubmitOption configures a single submission
type SubmitOption func(*submitOptions)

type submitOptions struct {
	itemID string
}

// WithItem ties the job to an item. Submitting a different urn for the same item
// supersedes the previous job, which is disposed.
func WithItem(itemID string) SubmitOption {
	return func(o *submitOptions) {
		o.itemID = itemID
	}
}

// Submit starts translating urn. While a non-terminal job exists for urn it is returned
// without contacting upstream. Concurrent submissions for one urn share a single upstream call.
func (t *Tracker) Submit(ctx context.Context, urn string, opts ...SubmitOption) (*Job, error) {
	if urn == "" {
		return nil, fmt.Errorf("version urn is required")
	}
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	if job := t.activeJob(urn); job != nil {
		return job, nil
	}

	v, err, _ := t.submits.Do(urn, func() (any, error) {
		if job := t.activeJob(urn); job != nil {
			return job, nil
		}
		return t.submit(ctx, urn, o)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Job), nil
}

func (t *Tracker) submit(ctx context.Context, urn string, o submitOptions) (*Job, error) {
	logger := logr.FromContextOrDiscard(ctx).WithValues("urn", urn)

	ctx, span := otel.StartSpan(ctx, t.tracer, "translation.Submit",
		trace.WithAttributes(otel.AttrVersionURN.String(urn), otel.AttrItemID.String(o.itemID)),
	)
	defer span.End()

	res, err := t.upstream.Submit(ctx, urn)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	job := newJob(uuid.NewString(), urn, o.itemID, t.clock.Now(), t.cfg.InitialBackoff)
	span.SetAttributes(otel.AttrJobID.String(job.id))

	if res.AlreadyTranslated {
		job.mu.Lock()
		job.state = StateSucceeded
		job.manifest = res.Manifest
		if job.manifest == nil {
			job.manifest = &Manifest{URN: urn, Derivatives: []Derivative{}}
		}
		job.finishLocked()
		job.mu.Unlock()
		logger.Info("Derivative already available", "jobId", job.id)
	} else {
		logger.Info("Translation submitted", "jobId", job.id)
	}

	var superseded *Job
	t.mu.Lock()
	t.byURN[urn] = job
	if o.itemID != "" {
		if prev, ok := t.byItem[o.itemID]; ok && prev != job {
			superseded = prev
			if t.byURN[prev.urn] == prev {
				delete(t.byURN, prev.urn)
			}
		}
		t.byItem[o.itemID] = job
	}
	t.mu.Unlock()

	if superseded != nil {
		superseded.dispose()
		logger.Info("Superseded previous translation", "previousJobId", superseded.id, "previousUrn", superseded.urn)
	}
	return job, nil
}

// activeJob returns the registered non-terminal job for urn
func (t *Tracker) activeJob(urn string) *Job {
	t.mu.Lock()
	job, ok := t.byURN[urn]
	t.mu.Unlock()
	if !ok || job.State().IsTerminal() {
		return nil
	}
	return job
}

// Poll reads the upstream status once and applies it to the job.
// Terminal jobs are returned unchanged without contacting upstream.
func (t *Tracker) Poll(ctx context.Context, job *Job) (Snapshot, error) {
	if job == nil {
		return Snapshot{}, fmt.Errorf("job is required")
	}
	if !job.polling.CompareAndSwap(false, true) {
		return job.Snapshot(), ErrPollInFlight
	}
	defer job.polling.Store(false)

	job.mu.Lock()
	if job.disposed {
		snap := job.snapshotLocked()
		job.mu.Unlock()
		return snap, ErrJobDisposed
	}
	if job.state.IsTerminal() {
		snap := job.snapshotLocked()
		job.mu.Unlock()
		return snap, nil
	}
	job.mu.Unlock()

	ctx, span := otel.StartSpan(ctx, t.tracer, "translation.Poll",
		trace.WithAttributes(otel.AttrVersionURN.String(job.urn), otel.AttrJobID.String(job.id)),
	)
	defer span.End()

	res, err := t.upstream.Status(ctx, job.urn)
	if err != nil && errors.Is(err, context.Canceled) {
		return job.Snapshot(), err
	}

	job.mu.Lock()
	if job.disposed {
		// the call completed after disposal; its result is dropped
		snap := job.snapshotLocked()
		job.mu.Unlock()
		return snap, ErrJobDisposed
	}
	t.applyLocked(job, res, err)
	snap := job.snapshotLocked()
	job.mu.Unlock()

	span.SetAttributes(otel.AttrJobState.String(string(snap.State)), otel.AttrAttempts.Int(snap.Attempts))
	if snap.Err != nil {
		otel.RecordError(span, snap.Err)
	}
	t.metrics.RecordPoll(ctx, string(snap.State))

	logr.FromContextOrDiscard(ctx).V(1).Info("Polled translation",
		"jobId", snap.ID, "urn", snap.URN, "state", snap.State, "attempts", snap.Attempts, "backoff", snap.Backoff)
	return snap, nil
}

func (t *Tracker) applyLocked(job *Job, res StatusResult, pollErr error) {
	job.attempts++
	now := t.clock.Now()
	if !now.After(job.lastPolledAt) {
		now = job.lastPolledAt.Add(time.Nanosecond)
	}
	job.lastPolledAt = now

	switch {
	case pollErr != nil && (syncerr.IsAuth(pollErr) || syncerr.IsNotFound(pollErr)):
		job.lastMessage = pollErr.Error()
		t.failLocked(job, pollErr)
		return
	case pollErr != nil:
		// transient or unreadable status: counts as an attempt, the schedule retries
		job.lastMessage = pollErr.Error()
		job.state = StatePolling
	case res.Kind == StatusSuccess:
		job.lastMessage = res.Message
		job.state = StateSucceeded
		job.manifest = res.Manifest
		if job.manifest == nil {
			job.manifest = &Manifest{URN: job.urn, Derivatives: []Derivative{}}
		}
		job.finishLocked()
		return
	case res.Kind == StatusFailure:
		job.lastMessage = res.Message
		t.failLocked(job, nil)
		return
	default:
		job.lastMessage = res.Message
		job.state = StatePolling
		job.backoff = nextBackoff(job.backoff, t.cfg.MaxBackoff)
	}

	elapsed := now.Sub(job.submittedAt)
	if job.attempts >= t.cfg.MaxAttempts || elapsed >= t.cfg.Timeout {
		job.state = StateTimedOut
		job.err = &syncerr.TimeoutError{
			JobID:       job.id,
			URN:         job.urn,
			Attempts:    job.attempts,
			Elapsed:     elapsed,
			LastMessage: job.lastMessage,
		}
		job.finishLocked()
	}
}

func (t *Tracker) failLocked(job *Job, cause error) {
	job.state = StateFailed
	job.err = &syncerr.TranslationFailure{
		JobID:    job.id,
		URN:      job.urn,
		Attempts: job.attempts,
		Message:  job.lastMessage,
		Cause:    cause,
	}
	job.finishLocked()
}

// Track starts the job's own polling task. It returns immediately; the task stops when
// the job is terminal, disposed, or ctx is cancelled. Tracking a job twice is a no-op.
func (t *Tracker) Track(ctx context.Context, job *Job) {
	job.mu.Lock()
	if job.tracking || job.disposed || job.state.IsTerminal() {
		job.mu.Unlock()
		return
	}
	job.tracking = true
	job.mu.Unlock()

	go t.run(ctx, job)
}

func (t *Tracker) run(ctx context.Context, job *Job) {
	logger := logr.FromContextOrDiscard(ctx).WithValues("jobId", job.id, "urn", job.urn)

	timer := t.clock.NewTimer(t.NextDelay(job))
	defer timer.Stop()

	// an in-flight poll is allowed to finish after ctx ends; its result is discarded on disposal
	pollCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-job.stop:
			return
		case <-timer.C():
		}

		snap, err := t.Poll(pollCtx, job)
		if errors.Is(err, ErrJobDisposed) {
			return
		}
		if err != nil {
			logger.Error(err, "Translation poll failed")
		}
		if snap.State.IsTerminal() {
			logger.Info("Translation finished", "state", snap.State, "attempts", snap.Attempts)
			return
		}
		timer.Reset(t.NextDelay(job))
	}
}

// NextDelay returns the jittered delay before the job's next poll
func (t *Tracker) NextDelay(job *Job) time.Duration {
	job.mu.Lock()
	nominal := job.backoff
	job.mu.Unlock()
	return jittered(nominal, t.cfg.Jitter, t.cfg.MaxBackoff, t.random())
}

// Get returns the job registered for urn
func (t *Tracker) Get(urn string) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.byURN[urn]
	return job, ok
}

// Jobs returns snapshots of all registered jobs, oldest first
func (t *Tracker) Jobs() []Snapshot {
	t.mu.Lock()
	jobs := make([]*Job, 0, len(t.byURN))
	for _, job := range t.byURN {
		jobs = append(jobs, job)
	}
	t.mu.Unlock()

	snaps := make([]Snapshot, 0, len(jobs))
	for _, job := range jobs {
		snaps = append(snaps, job.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].SubmittedAt.Before(snaps[j].SubmittedAt)
	})
	return snaps
}

// Dispose drops the job and cancels its pending poll timer. Safe to call repeatedly.
func (t *Tracker) Dispose(job *Job) {
	if job == nil {
		return
	}
	t.mu.Lock()
	if t.byURN[job.urn] == job {
		delete(t.byURN, job.urn)
	}
	if job.itemID != "" && t.byItem[job.itemID] == job {
		delete(t.byItem, job.itemID)
	}
	t.mu.Unlock()
	job.dispose()
}

// Close disposes every registered job
func (t *Tracker) Close() {
	t.mu.Lock()
	jobs := make([]*Job, 0, len(t.byURN))
	for _, job := range t.byURN {
		jobs = append(jobs, job)
	}
	t.byURN = make(map[string]*Job)
	t.byItem = make(map[string]*Job)
	t.mu.Unlock()

	for _, job := range jobs {
		job.dispose()
	}
}
