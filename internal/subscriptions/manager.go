package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/bimsync/internal/otel"
	"github.com/stacklok/bimsync/internal/syncerr"
	"github.com/stacklok/bimsync/internal/telemetry"
)

// Manager is the registry of push subscriptions
type Manager struct {
	opener  Opener
	metrics *telemetry.SyncMetrics
	tracer  trace.Tracer
	now     func() time.Time

	opens singleflight.Group

	mu   sync.Mutex
	subs map[Key]*Subscription
}

// Option configures a Manager
type Option func(*Manager)

// WithMetrics sets the metrics recorder
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithTracer sets the tracer for subscribe spans
func WithTracer(tracer trace.Tracer) Option {
	return func(mgr *Manager) {
		mgr.tracer = tracer
	}
}

// NewManager creates a subscription manager using opener for upstream calls
func NewManager(opener Opener, opts ...Option) *Manager {
	m := &Manager{
		opener: opener,
		now:    time.Now,
		subs:   make(map[Key]*Subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers req.OnNewVersion on the stream's subscription, opening it upstream
// when none is active. Concurrent calls for one key share a single upstream open.
func (m *Manager) Subscribe(ctx context.Context, req Request) (*Subscription, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	key := req.Key()

	if sub := m.active(key); sub != nil {
		sub.addHandler(req.HandlerRef, req.OnNewVersion)
		return sub, nil
	}

	v, err, _ := m.opens.Do(key.String(), func() (any, error) {
		if sub := m.active(key); sub != nil {
			return sub, nil
		}
		return m.open(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	sub := v.(*Subscription)
	sub.addHandler(req.HandlerRef, req.OnNewVersion)
	return sub, nil
}

func (m *Manager) open(ctx context.Context, req Request) (*Subscription, error) {
	key := req.Key()
	logger := logr.FromContextOrDiscard(ctx).WithValues("source", key.Source.String(), "streamId", key.StreamID)

	ctx, span := otel.StartSpan(ctx, m.tracer, "subscriptions.Open",
		trace.WithAttributes(
			otel.AttrSourceKind.String(string(key.Source.Kind())),
			otel.AttrStreamID.String(key.StreamID),
		),
	)
	defer span.End()

	stream, err := m.opener.Open(ctx, key.Source, req.Credential, key.StreamID)
	if err != nil {
		otel.RecordError(span, err)
		if errors.Is(err, ErrPushUnsupported) {
			return nil, err
		}
		return nil, &syncerr.SubscriptionError{
			Source:   key.Source.String(),
			StreamID: key.StreamID,
			Op:       "subscribe",
			Err:      err,
		}
	}

	sub := newSubscription(key, stream, m.now())
	// the creator's handler is in place before the first event can be delivered
	sub.addHandler(req.HandlerRef, req.OnNewVersion)

	m.mu.Lock()
	m.subs[key] = sub
	m.mu.Unlock()

	m.metrics.SubscriptionOpened(ctx, string(key.Source.Kind()))
	logger.Info("Subscription opened")

	go m.pump(logr.NewContext(context.Background(), logger), sub)
	return sub, nil
}

// pump fans every pushed version out to the subscription's handlers
func (m *Manager) pump(ctx context.Context, sub *Subscription) {
	logger := logr.FromContextOrDiscard(ctx)

	for version := range sub.stream.Events() {
		if !sub.Active() {
			continue
		}
		for _, h := range sub.handlerSnapshot() {
			h.fn(ctx, version)
		}
	}

	// the stream ended without a local dispose: drop the entry so the next Subscribe reopens
	m.mu.Lock()
	if cur, ok := m.subs[sub.key]; ok && cur == sub {
		delete(m.subs, sub.key)
	}
	wasActive := sub.end(true)
	m.mu.Unlock()

	if !wasActive {
		return
	}
	m.metrics.SubscriptionClosed(ctx, string(sub.key.Source.Kind()))
	logger.Info("Subscription stream ended upstream")

	// the stream has already ended, so this only releases the connection
	_ = sub.stream.Unsubscribe(ctx)
}

// Dispose closes the subscription for key. Calling it again returns AlreadyInactive
// without contacting upstream. An upstream failure still removes the local entry.
func (m *Manager) Dispose(ctx context.Context, key Key) DisposeResult {
	m.mu.Lock()
	sub := m.deactivateLocked(key)
	m.mu.Unlock()

	if sub == nil {
		return DisposeResult{Key: key, Outcome: AlreadyInactive}
	}
	return m.unsubscribe(ctx, sub)
}

// Release detaches one handler. The subscription is disposed when its last handler leaves.
func (m *Manager) Release(ctx context.Context, key Key, handlerRef string) DisposeResult {
	m.mu.Lock()
	sub, ok := m.subs[key]
	if !ok || !sub.Active() {
		m.mu.Unlock()
		return DisposeResult{Key: key, Outcome: AlreadyInactive}
	}
	if remaining := sub.removeHandler(handlerRef); remaining > 0 {
		m.mu.Unlock()
		return DisposeResult{Key: key, Outcome: Detached}
	}
	sub = m.deactivateLocked(key)
	m.mu.Unlock()

	if sub == nil {
		return DisposeResult{Key: key, Outcome: AlreadyInactive}
	}
	return m.unsubscribe(ctx, sub)
}

// deactivateLocked removes the active entry for key and returns it, or nil
func (m *Manager) deactivateLocked(key Key) *Subscription {
	sub, ok := m.subs[key]
	if !ok {
		return nil
	}
	delete(m.subs, key)

	if !sub.end(false) {
		return nil
	}
	return sub
}

func (m *Manager) unsubscribe(ctx context.Context, sub *Subscription) DisposeResult {
	logger := logr.FromContextOrDiscard(ctx).WithValues("source", sub.key.Source.String(), "streamId", sub.key.StreamID)
	m.metrics.SubscriptionClosed(ctx, string(sub.key.Source.Kind()))

	if err := sub.stream.Unsubscribe(ctx); err != nil {
		subErr := &syncerr.SubscriptionError{
			Source:   sub.key.Source.String(),
			StreamID: sub.key.StreamID,
			Op:       "unsubscribe",
			Err:      err,
		}
		logger.Info("Upstream unsubscribe failed, local subscription removed", "warning", subErr.Error())
		return DisposeResult{Key: sub.key, Outcome: UpstreamFailed, Err: subErr}
	}

	logger.Info("Subscription closed")
	return DisposeResult{Key: sub.key, Outcome: Unsubscribed}
}

// active returns the live subscription for key
func (m *Manager) active(key Key) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[key]
	if !ok || !sub.Active() {
		return nil
	}
	return sub
}

// Get returns the live subscription for key
func (m *Manager) Get(key Key) (*Subscription, bool) {
	sub := m.active(key)
	return sub, sub != nil
}

// Active lists the keys of live subscriptions
func (m *Manager) Active() []Key {
	m.mu.Lock()
	keys := make([]Key, 0, len(m.subs))
	for k := range m.subs {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Close disposes every subscription. Upstream failures are joined into the returned error.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	for _, key := range m.Active() {
		res := m.Dispose(ctx, key)
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close %d subscription(s): %w", len(errs), errors.Join(errs...))
	}
	return nil
}
