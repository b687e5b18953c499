package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stacklok/bimsync/internal/sources"
	"github.com/stacklok/bimsync/internal/syncerr"
)

// ErrPushUnsupported is returned by openers for sources without a push stream
var ErrPushUnsupported = errors.New("source does not support push subscriptions")

// Key identifies one upstream stream. At most one live subscription exists per key.
type Key struct {
	Source   sources.ExternalSource
	StreamID string
}

func (k Key) String() string {
	return k.Source.Key() + "#" + k.StreamID
}

// Handler receives a newly published version
type Handler func(ctx context.Context, version sources.Version)

// Request asks for push notifications on one stream
type Request struct {
	Source     sources.ExternalSource
	Credential string
	StreamID   string
	// HandlerRef identifies the callback; a ref is registered at most once per subscription
	HandlerRef   string
	OnNewVersion Handler
}

// Key returns the registry key of the request
func (r Request) Key() Key {
	return Key{Source: r.Source, StreamID: r.StreamID}
}

func (r Request) validate() error {
	if r.Source.IsZero() {
		return fmt.Errorf("source is required")
	}
	if r.StreamID == "" {
		return fmt.Errorf("stream id is required")
	}
	if r.HandlerRef == "" {
		return fmt.Errorf("handler ref is required")
	}
	if r.OnNewVersion == nil {
		return fmt.Errorf("onNewVersion handler is required")
	}
	return nil
}

//go:generate mockgen -destination=mocks/mock_opener.go -package=mocks -source=types.go Opener,Stream

// Stream is an open upstream subscription
type Stream interface {
	// Events delivers pushed versions and is closed when the stream ends
	Events() <-chan sources.Version

	// Unsubscribe closes the subscription upstream
	Unsubscribe(ctx context.Context) error
}

// Opener opens upstream subscriptions. ctx bounds the handshake only; the
// returned stream lives until Unsubscribe or an upstream drop.
type Opener interface {
	Open(ctx context.Context, source sources.ExternalSource, credential, streamID string) (Stream, error)
}

// DisposeOutcome tells what a dispose or release did
type DisposeOutcome int

const (
	// Unsubscribed means the upstream subscription was closed
	Unsubscribed DisposeOutcome = iota
	// AlreadyInactive means there was nothing to dispose
	AlreadyInactive
	// UpstreamFailed means the local entry was removed but upstream unsubscribe failed
	UpstreamFailed
	// Detached means the handler was removed and other handlers keep the subscription alive
	Detached
)

func (o DisposeOutcome) String() string {
	switch o {
	case Unsubscribed:
		return "unsubscribed"
	case AlreadyInactive:
		return "already-inactive"
	case UpstreamFailed:
		return "upstream-failed"
	case Detached:
		return "detached"
	default:
		return "unknown"
	}
}

// DisposeResult is the outcome of Dispose or Release. Err is set for UpstreamFailed
// and is a warning: the registry is consistent either way.
type DisposeResult struct {
	Key     Key
	Outcome DisposeOutcome
	Err     *syncerr.SubscriptionError
}

type handlerEntry struct {
	ref string
	fn  Handler
}

// Subscription is a live upstream subscription shared by its handlers
type Subscription struct {
	key      Key
	stream   Stream
	openedAt time.Time

	mu       sync.Mutex
	active   bool
	handlers []handlerEntry

	done          chan struct{}
	endOnce       sync.Once
	endedUpstream bool
}

func newSubscription(key Key, stream Stream, openedAt time.Time) *Subscription {
	return &Subscription{
		key:      key,
		stream:   stream,
		openedAt: openedAt,
		active:   true,
		done:     make(chan struct{}),
	}
}

// Key returns the subscription key
func (s *Subscription) Key() Key { return s.key }

// OpenedAt returns when the upstream subscription was opened
func (s *Subscription) OpenedAt() time.Time { return s.openedAt }

// Active reports whether the subscription is live
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Done is closed once the subscription is no longer active, by a local dispose
// or because the upstream stream ended
func (s *Subscription) Done() <-chan struct{} { return s.done }

// EndedUpstream reports whether the subscription ended because the upstream stream closed
func (s *Subscription) EndedUpstream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedUpstream
}

// end marks the subscription inactive and releases Done waiters.
// It reports whether the subscription was still active.
func (s *Subscription) end(upstream bool) bool {
	s.mu.Lock()
	wasActive := s.active
	s.active = false
	if wasActive {
		s.endedUpstream = upstream
	}
	s.mu.Unlock()

	if wasActive {
		s.endOnce.Do(func() { close(s.done) })
	}
	return wasActive
}

// HandlerRefs lists the registered handlers in registration order
func (s *Subscription) HandlerRefs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make([]string, 0, len(s.handlers))
	for _, h := range s.handlers {
		refs = append(refs, h.ref)
	}
	return refs
}

// addHandler registers fn under ref unless ref is already present
func (s *Subscription) addHandler(ref string, fn Handler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handlers {
		if h.ref == ref {
			return false
		}
	}
	s.handlers = append(s.handlers, handlerEntry{ref: ref, fn: fn})
	return true
}

// removeHandler drops ref and returns how many handlers remain
func (s *Subscription) removeHandler(ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.handlers[:0]
	for _, h := range s.handlers {
		if h.ref != ref {
			kept = append(kept, h)
		}
	}
	s.handlers = kept
	return len(s.handlers)
}

func (s *Subscription) handlerSnapshot() []handlerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]handlerEntry(nil), s.handlers...)
}
