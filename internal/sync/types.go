package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/stacklok/bimsync/internal/parserruntime"
	"github.com/stacklok/bimsync/internal/sources"
	"github.com/stacklok/bimsync/internal/syncerr"
	"github.com/stacklok/bimsync/internal/translation"
)

// Request starts one sync session for an item
type Request struct {
	Source sources.ExternalSource
	// Credential is held in memory for the life of the session only
	Credential string
	ItemID     string
	// OneShot runs the first pass only: no push subscription is opened
	OneShot bool
}

func (r Request) validate() error {
	if r.Source.IsZero() {
		return fmt.Errorf("source is required")
	}
	if r.ItemID == "" {
		return fmt.Errorf("item id is required")
	}
	if strings.TrimSpace(r.Credential) == "" {
		return &syncerr.AuthError{Reason: "credential is empty"}
	}
	return nil
}

// Result is the persistence tuple of a successful translation
type Result struct {
	URN      string                `json:"urn"`
	ItemID   string                `json:"itemId"`
	Manifest *translation.Manifest `json:"manifest"`
	// Runtime is nil when the parser runtime could not be loaded
	Runtime *parserruntime.Binary `json:"-"`
	// RuntimeErr disables geometry parsing for this result only
	RuntimeErr error `json:"-"`
}

// Outcome is the terminal report of one pass through the flow
type Outcome struct {
	SessionID   string            `json:"sessionId"`
	ItemID      string            `json:"itemId"`
	URN         string            `json:"urn,omitempty"`
	JobID       string            `json:"jobId,omitempty"`
	State       translation.State `json:"state"`
	Attempts    int               `json:"attempts"`
	LastMessage string            `json:"lastMessage,omitempty"`
	// Trigger is "initial" for the first pass, "push" for passes started by a new version
	// and "resubscribe" for the catch-up pass after a push stream was reopened
	Trigger    string        `json:"trigger"`
	Duration   time.Duration `json:"duration"`
	Result     *Result       `json:"result,omitempty"`
	Code       syncerr.Code  `json:"code,omitempty"`
	Message    string        `json:"message,omitempty"`
	Err        error         `json:"-"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Succeeded reports whether the pass produced a manifest
func (o Outcome) Succeeded() bool {
	return o.State == translation.StateSucceeded && o.Err == nil
}

const (
	triggerInitial     = "initial"
	triggerPush        = "push"
	triggerResubscribe = "resubscribe"
)

// DefaultResubscribeDelay is the wait before reopening a push stream that ended upstream
const DefaultResubscribeDelay = 5 * time.Second

//go:generate mockgen -destination=mocks/mock_sync.go -package=mocks -source=types.go GeometryConsumer,ResultSink,UpstreamFactory,RuntimeLoader

// GeometryConsumer parses translated geometry with the loaded runtime
type GeometryConsumer interface {
	Consume(ctx context.Context, manifest translation.Manifest, runtime *parserruntime.Binary) error
}

// ResultSink receives every successful result, e.g. a persistence gateway
type ResultSink interface {
	Store(ctx context.Context, result Result) error
}

// UpstreamFactory creates the translation upstream of a source for one credential
type UpstreamFactory interface {
	CreateUpstream(source sources.ExternalSource, credential string) (translation.Upstream, error)
}

// RuntimeLoader provides the parser runtime
type RuntimeLoader interface {
	Load(ctx context.Context) (*parserruntime.Binary, error)
}

// logSink logs results without storing them
type logSink struct{}

// NewLogSink returns a sink that only logs results
func NewLogSink() ResultSink {
	return logSink{}
}

func (logSink) Store(ctx context.Context, result Result) error {
	count := 0
	if result.Manifest != nil {
		count = len(result.Manifest.Derivatives)
	}
	logr.FromContextOrDiscard(ctx).Info("Manifest ready", "urn", result.URN, "itemId", result.ItemID,
		"derivatives", count)
	return nil
}

// DiscoveryConfig is the retry policy for version discovery
type DiscoveryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultDiscoveryConfig returns the discovery retry defaults
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// SessionSnapshot is a point-in-time view of a session for the status API
type SessionSnapshot struct {
	ID         string                 `json:"id"`
	Source     sources.ExternalSource `json:"source"`
	ItemID     string                 `json:"itemId"`
	StartedAt  time.Time              `json:"startedAt"`
	Subscribed bool                   `json:"subscribed"`
	Jobs       []translation.Snapshot `json:"jobs"`
	Latest     *Outcome               `json:"latest,omitempty"`
	Passes     int                    `json:"passes"`
}
