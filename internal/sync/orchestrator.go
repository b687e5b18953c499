package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/stacklok/bimsync/internal/httpclient"
	"github.com/stacklok/bimsync/internal/otel"
	"github.com/stacklok/bimsync/internal/sources"
	"github.com/stacklok/bimsync/internal/subscriptions"
	"github.com/stacklok/bimsync/internal/syncerr"
	"github.com/stacklok/bimsync/internal/telemetry"
	"github.com/stacklok/bimsync/internal/translation"
)

// ErrShutdown is returned by BeginSync once the orchestrator is shut down
var ErrShutdown = errors.New("orchestrator is shut down")

// Orchestrator composes discovery, translation, the parser runtime and push
// subscriptions into sync sessions
type Orchestrator struct {
	discoveries   sources.DiscoveryFactory
	upstreams     UpstreamFactory
	subscriptions *subscriptions.Manager
	runtime       RuntimeLoader
	consumer      GeometryConsumer
	sink          ResultSink

	translationCfg translation.Config
	trackerOpts    []translation.Option
	discoveryCfg   DiscoveryConfig

	clock            clock.Clock
	resubscribeDelay time.Duration
	metrics          *telemetry.SyncMetrics
	tracer           trace.Tracer

	mu       gosync.Mutex
	sessions map[string]*Handle
	closed   bool
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithSubscriptions enables push re-sync through the given manager
func WithSubscriptions(m *subscriptions.Manager) Option {
	return func(o *Orchestrator) {
		o.subscriptions = m
	}
}

// WithRuntimeLoader sets the parser runtime loader
func WithRuntimeLoader(l RuntimeLoader) Option {
	return func(o *Orchestrator) {
		o.runtime = l
	}
}

// WithGeometryConsumer sets the consumer that receives manifest and runtime
func WithGeometryConsumer(c GeometryConsumer) Option {
	return func(o *Orchestrator) {
		o.consumer = c
	}
}

// WithResultSink sets where successful results are handed off
func WithResultSink(s ResultSink) Option {
	return func(o *Orchestrator) {
		o.sink = s
	}
}

// WithTranslationConfig sets the polling policy of every session's tracker
func WithTranslationConfig(cfg translation.Config) Option {
	return func(o *Orchestrator) {
		o.translationCfg = cfg
	}
}

// WithTrackerOptions passes extra options to every session's tracker
func WithTrackerOptions(opts ...translation.Option) Option {
	return func(o *Orchestrator) {
		o.trackerOpts = append(o.trackerOpts, opts...)
	}
}

// WithDiscoveryConfig sets the discovery retry policy
func WithDiscoveryConfig(cfg DiscoveryConfig) Option {
	return func(o *Orchestrator) {
		o.discoveryCfg = cfg
	}
}

// WithClock sets the clock used for session timestamps and tracker timers
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithResubscribeDelay sets the wait before a session reopens a push stream that ended upstream
func WithResubscribeDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.resubscribeDelay = d
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer for session spans
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

// New creates an orchestrator. Without WithSubscriptions sessions never re-sync on push.
func New(discoveries sources.DiscoveryFactory, upstreams UpstreamFactory, opts ...Option) (*Orchestrator, error) {
	if discoveries == nil {
		return nil, fmt.Errorf("discovery factory is required")
	}
	if upstreams == nil {
		return nil, fmt.Errorf("upstream factory is required")
	}

	o := &Orchestrator{
		discoveries:    discoveries,
		upstreams:      upstreams,
		sink:           NewLogSink(),
		translationCfg: translation.DefaultConfig(),
		discoveryCfg:   DefaultDiscoveryConfig(),
		clock:            clock.RealClock{},
		resubscribeDelay: DefaultResubscribeDelay,
		sessions:         make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := o.translationCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid translation config: %w", err)
	}
	if o.discoveryCfg.MaxRetries < 0 {
		return nil, fmt.Errorf("discovery maxRetries must not be negative")
	}
	return o, nil
}

// BeginSync validates req, starts the session in the background and returns its handle.
// The session outlives ctx; it ends on Handle.Dispose or Shutdown.
func (o *Orchestrator) BeginSync(ctx context.Context, req Request) (*Handle, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, ErrShutdown
	}

	discovery, err := o.discoveries.CreateDiscovery(req.Source, req.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery for %s: %w", req.Source, err)
	}
	upstream, err := o.upstreams.CreateUpstream(req.Source, req.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to create translation upstream for %s: %w", req.Source, err)
	}

	trackerOpts := append([]translation.Option{
		translation.WithClock(o.clock),
		translation.WithMetrics(o.metrics),
		translation.WithTracer(o.tracer),
	}, o.trackerOpts...)
	tracker, err := translation.NewTracker(upstream, o.translationCfg, trackerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create translation tracker: %w", err)
	}

	id := uuid.NewString()
	logger := logr.FromContextOrDiscard(ctx).WithValues(
		"sessionId", id, "source", req.Source.String(), "itemId", req.ItemID)
	sessionCtx, cancel := context.WithCancel(logr.NewContext(context.WithoutCancel(ctx), logger))

	h := &Handle{
		id:        id,
		req:       req,
		o:         o,
		discovery: discovery,
		tracker:   tracker,
		startedAt: o.clock.Now(),
		ctx:       sessionCtx,
		cancel:    cancel,
		first:     make(chan struct{}),
		inflight:  make(map[string]struct{}),
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		tracker.Close()
		return nil, ErrShutdown
	}
	o.sessions[id] = h
	o.mu.Unlock()

	logger.Info("Sync session started")
	h.start("", triggerInitial)
	return h, nil
}

// Sessions returns snapshots of the live sessions, oldest first
func (o *Orchestrator) Sessions() []SessionSnapshot {
	o.mu.Lock()
	handles := make([]*Handle, 0, len(o.sessions))
	for _, h := range o.sessions {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	snaps := make([]SessionSnapshot, 0, len(handles))
	for _, h := range handles {
		snaps = append(snaps, h.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].StartedAt.Before(snaps[j].StartedAt)
	})
	return snaps
}

// Session returns the live session with the given id
func (o *Orchestrator) Session(id string) (*Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.sessions[id]
	return h, ok
}

// Shutdown disposes every session and waits for their passes to return or ctx to end
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	handles := make([]*Handle, 0, len(o.sessions))
	for _, h := range o.sessions {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	for _, h := range handles {
		h.Dispose(ctx)
	}

	done := make(chan struct{})
	go func() {
		for _, h := range handles {
			h.wg.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain %d session(s): %w", len(handles), ctx.Err())
	}
}

func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	delete(o.sessions, id)
	o.mu.Unlock()
}

// latestVersion lists the item's versions, retrying transient failures, and picks the latest
func (o *Orchestrator) latestVersion(ctx context.Context, d sources.Discovery, itemID string) (sources.Version, error) {
	logger := logr.FromContextOrDiscard(ctx)

	ctx, span := otel.StartSpan(ctx, o.tracer, "sync.DiscoverVersions",
		trace.WithAttributes(otel.AttrItemID.String(itemID)),
	)
	defer span.End()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.discoveryCfg.InitialInterval
	if o.discoveryCfg.MaxInterval > 0 {
		b.MaxInterval = o.discoveryCfg.MaxInterval
	}

	operation := func() ([]sources.Version, error) {
		versions, err := d.ListVersions(ctx, itemID)
		if err == nil {
			return versions, nil
		}
		if syncerr.Classify(err) != syncerr.RetryLocally {
			return nil, backoff.Permanent(err)
		}
		logger.V(1).Info("Retrying version discovery", "error", err.Error())
		return nil, err
	}

	versions, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(o.discoveryCfg.MaxRetries+1)),
	)
	if err != nil {
		otel.RecordError(span, err)
		return sources.Version{}, err
	}
	span.SetAttributes(otel.AttrResultCount.Int(len(versions)))

	version, err := sources.LatestVersion(itemID, versions)
	if err != nil {
		otel.RecordError(span, err)
		return sources.Version{}, err
	}
	span.SetAttributes(otel.AttrVersionURN.String(version.URN))
	return version, nil
}

// scopedUpstreams builds HTTP translation upstreams over scoped clients
type scopedUpstreams struct {
	opts []httpclient.ScopedOption
}

// NewUpstreamFactory returns the HTTP translation upstream factory
func NewUpstreamFactory(opts ...httpclient.ScopedOption) UpstreamFactory {
	return &scopedUpstreams{opts: opts}
}

func (f *scopedUpstreams) CreateUpstream(source sources.ExternalSource, credential string) (translation.Upstream, error) {
	if source.IsZero() {
		return nil, fmt.Errorf("source is required")
	}
	client := httpclient.NewScopedClient(source.BaseURL(), credential, f.opts...)
	return translation.NewHTTPUpstream(client), nil
}
