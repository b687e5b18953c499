package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/bimsync/internal/otel"
	"github.com/stacklok/bimsync/internal/sources"
	"github.com/stacklok/bimsync/internal/subscriptions"
	"github.com/stacklok/bimsync/internal/syncerr"
	"github.com/stacklok/bimsync/internal/translation"
)

// ErrSessionDisposed is returned by Wait when the session ended before any outcome
var ErrSessionDisposed = errors.New("sync session disposed")

// maxOutcomes bounds the outcome history kept per session
const maxOutcomes = 32

// Handle is one sync session. It owns its translation jobs and its subscription handler.
type Handle struct {
	id        string
	req       Request
	o         *Orchestrator
	discovery sources.Discovery
	tracker   *translation.Tracker
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup

	mu          gosync.Mutex
	manifestCbs []func(Result)
	outcomeCbs  []func(Outcome)
	outcomes    []Outcome
	passes      int
	latest      *Result
	inflight    map[string]struct{}
	subscribed  bool
	pushless    bool
	subKey      subscriptions.Key
	sub         *subscriptions.Subscription
	disposed    bool

	first       chan struct{}
	firstOnce   gosync.Once
	disposeOnce gosync.Once
}

// ID returns the session id
func (h *Handle) ID() string { return h.id }

// Source returns the session's source
func (h *Handle) Source() sources.ExternalSource { return h.req.Source }

// ItemID returns the synced item
func (h *Handle) ItemID() string { return h.req.ItemID }

// OnManifestReady registers cb for every successful result. A result that is already
// available is delivered to cb immediately.
func (h *Handle) OnManifestReady(cb func(Result)) {
	h.mu.Lock()
	h.manifestCbs = append(h.manifestCbs, cb)
	latest := h.latest
	h.mu.Unlock()

	if latest != nil {
		cb(*latest)
	}
}

// OnOutcome registers cb for every terminal outcome, successful or not.
// The latest outcome, if any, is delivered to cb immediately.
func (h *Handle) OnOutcome(cb func(Outcome)) {
	h.mu.Lock()
	h.outcomeCbs = append(h.outcomeCbs, cb)
	var last *Outcome
	if n := len(h.outcomes); n > 0 {
		out := h.outcomes[n-1]
		last = &out
	}
	h.mu.Unlock()

	if last != nil {
		cb(*last)
	}
}

// Outcomes returns the recent outcomes, oldest first
func (h *Handle) Outcomes() []Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Outcome, len(h.outcomes))
	copy(out, h.outcomes)
	return out
}

// Wait blocks until the first pass of the session finishes and returns its outcome
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-h.first:
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.outcomes) == 0 {
		return Outcome{}, ErrSessionDisposed
	}
	return h.outcomes[0], nil
}

// Snapshot returns a point-in-time view of the session
func (h *Handle) Snapshot() SessionSnapshot {
	h.mu.Lock()
	snap := SessionSnapshot{
		ID:         h.id,
		Source:     h.req.Source,
		ItemID:     h.req.ItemID,
		StartedAt:  h.startedAt,
		Subscribed: h.subscribed && h.sub != nil && h.sub.Active(),
		Passes:     h.passes,
	}
	if n := len(h.outcomes); n > 0 {
		last := h.outcomes[n-1]
		snap.Latest = &last
	}
	h.mu.Unlock()

	snap.Jobs = h.tracker.Jobs()
	return snap
}

// Dispose ends the session: pending polls are cancelled, jobs dropped and the push
// handler released. In-flight calls finish and their results are discarded.
// Calling it again is a no-op.
func (h *Handle) Dispose(ctx context.Context) {
	h.disposeOnce.Do(func() {
		logger := logr.FromContextOrDiscard(h.ctx)

		h.mu.Lock()
		h.disposed = true
		subscribed, key := h.subscribed, h.subKey
		h.subscribed = false
		h.sub = nil
		h.mu.Unlock()

		h.cancel()
		h.tracker.Close()

		if subscribed && h.o.subscriptions != nil {
			res := h.o.subscriptions.Release(ctx, key, h.id)
			if res.Err != nil {
				logger.Info("Subscription release failed", "outcome", res.Outcome.String(), "warning", res.Err.Error())
			}
		}

		h.firstOnce.Do(func() { close(h.first) })
		h.o.forget(h.id)
		logger.Info("Sync session disposed")
	})
}

// start runs one pass in the background. An empty urn means discover the latest version,
// otherwise the caller has claimed urn. It reports whether the pass was started.
func (h *Handle) start(urn, trigger string) bool {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return false
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		h.run(urn, trigger)
	}()
	return true
}

func (h *Handle) run(urn, trigger string) {
	ctx, span := otel.StartSpan(h.ctx, h.o.tracer, "sync.Pass",
		trace.WithAttributes(
			otel.AttrSourceKind.String(string(h.req.Source.Kind())),
			otel.AttrSourceURL.String(h.req.Source.BaseURL()),
			otel.AttrItemID.String(h.req.ItemID),
		),
	)
	defer span.End()

	logger := logr.FromContextOrDiscard(ctx).WithValues("trigger", trigger)
	ctx = logr.NewContext(ctx, logger)

	claimed := urn
	defer func() {
		if claimed != "" {
			h.release(claimed)
		}
	}()

	started := h.o.clock.Now()
	out := Outcome{
		SessionID: h.id,
		ItemID:    h.req.ItemID,
		URN:       urn,
		Trigger:   trigger,
	}

	if out.URN == "" {
		version, err := h.o.latestVersion(ctx, h.discovery, h.req.ItemID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			out.State = translation.StateFailed
			out.Err = err
			h.finish(ctx, span, out, started)
			return
		}
		if !h.claim(version.URN, trigger == triggerResubscribe) {
			logger.V(1).Info("Latest version already synced or in progress", "urn", version.URN)
			return
		}
		claimed = version.URN
		out.URN = version.URN
		logger.V(1).Info("Resolved latest version", "urn", version.URN, "status", version.Status)
	}
	span.SetAttributes(otel.AttrVersionURN.String(out.URN))

	job, err := h.tracker.Submit(ctx, out.URN, translation.WithItem(h.req.ItemID))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		out.State = translation.StateFailed
		out.Err = err
		h.finish(ctx, span, out, started)
		return
	}
	out.JobID = job.ID()
	h.tracker.Track(ctx, job)

	select {
	case <-job.Done():
	case <-ctx.Done():
		return
	}

	snap := job.Snapshot()
	if !snap.State.IsTerminal() {
		// superseded by a newer version or disposed
		logger.V(1).Info("Translation dropped before completion", "jobId", snap.ID)
		return
	}
	out.State = snap.State
	out.Attempts = snap.Attempts
	out.LastMessage = snap.LastMessage

	if snap.State != translation.StateSucceeded {
		out.Err = snap.Err
		h.finish(ctx, span, out, started)
		return
	}

	result := h.complete(ctx, snap)
	out.Result = &result
	h.finish(ctx, span, out, started)
	if !h.req.OneShot {
		h.subscribe(ctx)
	}
}

// claim marks urn as being synced by a pass. It fails when another pass holds urn,
// or, with skipLatest, when urn is the version already synced.
func (h *Handle) claim(urn string, skipLatest bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.inflight[urn]; busy {
		return false
	}
	if skipLatest && h.latest != nil && h.latest.URN == urn {
		return false
	}
	h.inflight[urn] = struct{}{}
	return true
}

func (h *Handle) release(urn string) {
	h.mu.Lock()
	delete(h.inflight, urn)
	h.mu.Unlock()
}

// complete loads the runtime, hands the geometry to the consumer and the result to the sink
func (h *Handle) complete(ctx context.Context, snap translation.Snapshot) Result {
	logger := logr.FromContextOrDiscard(ctx)

	res := Result{URN: snap.URN, ItemID: h.req.ItemID, Manifest: snap.Manifest}
	if h.o.runtime != nil {
		bin, err := h.o.runtime.Load(ctx)
		if err != nil {
			res.RuntimeErr = err
			logger.Info("Parser runtime unavailable, geometry parsing skipped",
				"disposition", syncerr.Classify(err).String(), "warning", err.Error())
		} else {
			res.Runtime = bin
		}
	}

	if res.Runtime != nil && res.Manifest != nil && h.o.consumer != nil {
		if err := h.o.consumer.Consume(ctx, *res.Manifest, res.Runtime); err != nil {
			logger.Error(err, "Geometry consumer failed", "urn", res.URN)
		}
	}

	if err := h.o.sink.Store(ctx, res); err != nil {
		logger.Error(err, "Failed to hand off result", "urn", res.URN)
	}
	return res
}

// finish records out and notifies the callbacks, unless the session was disposed
func (h *Handle) finish(ctx context.Context, span trace.Span, out Outcome, started time.Time) {
	logger := logr.FromContextOrDiscard(ctx)

	out.FinishedAt = h.o.clock.Now()
	out.Duration = out.FinishedAt.Sub(started)
	if out.Err != nil {
		out.Code = syncerr.CodeOf(out.Err)
		out.Message = out.Err.Error()
		otel.RecordError(span, out.Err)
	}
	h.o.metrics.RecordSyncDuration(ctx, string(h.req.Source.Kind()), string(out.State), out.Duration)

	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return
	}
	h.passes++
	h.outcomes = append(h.outcomes, out)
	if len(h.outcomes) > maxOutcomes {
		h.outcomes = h.outcomes[len(h.outcomes)-maxOutcomes:]
	}
	if out.Result != nil {
		h.latest = out.Result
	}
	manifestCbs := append([]func(Result){}, h.manifestCbs...)
	outcomeCbs := append([]func(Outcome){}, h.outcomeCbs...)
	h.mu.Unlock()

	h.firstOnce.Do(func() { close(h.first) })

	if out.Err != nil {
		logger.Info("Sync pass failed",
			"urn", out.URN,
			"jobId", out.JobID,
			"state", out.State,
			"attempts", out.Attempts,
			"lastMessage", out.LastMessage,
			"code", out.Code,
			"disposition", syncerr.Classify(out.Err).String(),
			"error", out.Message)
	} else {
		logger.Info("Sync pass succeeded", "urn", out.URN, "jobId", out.JobID, "attempts", out.Attempts,
			"duration", out.Duration.String())
	}

	if out.Result != nil {
		for _, cb := range manifestCbs {
			cb(*out.Result)
		}
	}
	for _, cb := range outcomeCbs {
		cb(out)
	}
}

// subscribe registers the session's push handler on the item stream once
func (h *Handle) subscribe(ctx context.Context) {
	if h.o.subscriptions == nil {
		return
	}
	logger := logr.FromContextOrDiscard(ctx)

	h.mu.Lock()
	if h.subscribed || h.pushless || h.disposed {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	sub, err := h.o.subscriptions.Subscribe(ctx, subscriptions.Request{
		Source:       h.req.Source,
		Credential:   h.req.Credential,
		StreamID:     h.req.ItemID,
		HandlerRef:   h.id,
		OnNewVersion: h.onNewVersion,
	})
	if err != nil {
		if errors.Is(err, subscriptions.ErrPushUnsupported) {
			h.mu.Lock()
			h.pushless = true
			h.mu.Unlock()
			logger.V(1).Info("Source has no push stream, session will not re-sync on publish")
			return
		}
		logger.Info("Subscription failed, continuing without push updates",
			"disposition", syncerr.Classify(err).String(), "warning", err.Error())
		return
	}

	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		h.o.subscriptions.Release(ctx, sub.Key(), h.id)
		return
	}
	h.subscribed = true
	h.subKey = sub.Key()
	h.sub = sub
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		h.watchSubscription(sub)
	}()
}

// watchSubscription clears the session's subscription once it ends. A stream that ended
// upstream is reopened after the resubscribe delay, followed by a catch-up pass for
// versions published while it was down.
func (h *Handle) watchSubscription(sub *subscriptions.Subscription) {
	select {
	case <-h.ctx.Done():
		return
	case <-sub.Done():
	}

	h.mu.Lock()
	if h.disposed || h.sub != sub {
		h.mu.Unlock()
		return
	}
	h.subscribed = false
	h.sub = nil
	h.mu.Unlock()

	logger := logr.FromContextOrDiscard(h.ctx)
	if !sub.EndedUpstream() {
		logger.Info("Push subscription closed locally, session will not re-sync on publish")
		return
	}
	logger.Info("Push stream ended upstream, subscribing again", "delay", h.o.resubscribeDelay.String())

	select {
	case <-h.ctx.Done():
		return
	case <-h.o.clock.After(h.o.resubscribeDelay):
	}

	h.subscribe(h.ctx)

	h.mu.Lock()
	resubscribed := h.subscribed
	h.mu.Unlock()
	if resubscribed {
		h.start("", triggerResubscribe)
	}
}

// onNewVersion re-enters the flow for a pushed version, skipping discovery
func (h *Handle) onNewVersion(ctx context.Context, version sources.Version) {
	logger := logr.FromContextOrDiscard(ctx).WithValues("urn", version.URN)

	if version.URN == "" {
		return
	}

	h.mu.Lock()
	disposed := h.disposed
	h.mu.Unlock()
	if disposed {
		return
	}

	if !h.claim(version.URN, true) {
		logger.V(1).Info("Pushed version already synced or in progress")
		return
	}
	logger.Info("New version published, re-syncing")
	if !h.start(version.URN, triggerPush) {
		h.release(version.URN)
	}
}
