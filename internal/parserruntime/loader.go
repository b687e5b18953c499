// Package parserruntime loads the WebAssembly runtime used to parse downloaded geometry.
//
// The binary is process-wide state with an init-once lifecycle: concurrent loads share
// one in-flight fetch, a successful fetch is cached, and a failed or malformed fetch is
// never cached so the next load fetches again.
package parserruntime

import (
	"bytes"
	"context"
	_ "crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/bimsync/internal/httpclient"
	"github.com/stacklok/bimsync/internal/otel"
	"github.com/stacklok/bimsync/internal/syncerr"
	"github.com/stacklok/bimsync/internal/telemetry"
)

// wasmMagic is the header every WebAssembly module starts with
var wasmMagic = []byte{0x00, 'a', 's', 'm'}

// Binary is a fetched and validated runtime
type Binary struct {
	Bytes     []byte
	FetchedAt time.Time
	Digest    digest.Digest
}

// Size returns the payload length
func (b *Binary) Size() int { return len(b.Bytes) }

// Config describes where and how to fetch the runtime
type Config struct {
	URL string
	// Digest, when set, must match the payload (e.g. sha256:...)
	Digest      string
	MaxAttempts int
	RetryDelay  time.Duration
	Timeout     time.Duration
}

// DefaultConfig returns the fetch policy defaults for url
func DefaultConfig(url string) Config {
	return Config{
		URL:         url,
		MaxAttempts: 3,
		RetryDelay:  time.Second,
		Timeout:     30 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("runtime url is required")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("runtime maxAttempts must be positive")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("runtime retryDelay must not be negative")
	}
	if c.Digest != "" {
		if _, err := digest.Parse(c.Digest); err != nil {
			return fmt.Errorf("invalid runtime digest: %w", err)
		}
	}
	return nil
}

// Loader fetches and caches the runtime binary
type Loader struct {
	cfg     Config
	client  httpclient.Client
	metrics *telemetry.SyncMetrics
	tracer  trace.Tracer
	now     func() time.Time

	inflight singleflight.Group

	mu     sync.RWMutex
	cached *Binary
}

// Option configures a Loader
type Option func(*Loader)

// WithHTTPClient sets the client used for the fetch
func WithHTTPClient(client httpclient.Client) Option {
	return func(l *Loader) {
		l.client = client
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(l *Loader) {
		l.metrics = m
	}
}

// WithTracer sets the tracer for fetch spans
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Loader) {
		l.tracer = tracer
	}
}

// NewLoader creates a loader with its own cache
func NewLoader(cfg Config, opts ...Option) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = httpclient.DefaultTimeout
	}
	l := &Loader{
		cfg:    cfg,
		client: httpclient.NewDefaultClient(timeout),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

var (
	sharedOnce   sync.Once
	sharedLoader *Loader
	sharedErr    error
)

// Shared returns the process-wide loader, built from cfg on first use.
// Later calls ignore cfg.
func Shared(cfg Config, opts ...Option) (*Loader, error) {
	sharedOnce.Do(func() {
		sharedLoader, sharedErr = NewLoader(cfg, opts...)
	})
	return sharedLoader, sharedErr
}

// Cached returns the cached binary without fetching
func (l *Loader) Cached() (*Binary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cached, l.cached != nil
}

// Invalidate drops the cached binary so the next Load fetches again
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
}

// Load returns the cached binary or fetches it. Concurrent calls share one fetch.
func (l *Loader) Load(ctx context.Context) (*Binary, error) {
	if b, ok := l.Cached(); ok {
		return b, nil
	}

	ch := l.inflight.DoChan("runtime", func() (any, error) {
		if b, ok := l.Cached(); ok {
			return b, nil
		}
		// the fetch outlives a single caller giving up
		return l.fetch(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Binary), nil
	}
}

func (l *Loader) fetch(ctx context.Context) (*Binary, error) {
	logger := logr.FromContextOrDiscard(ctx).WithValues("url", l.cfg.URL)

	ctx, span := otel.StartSpan(ctx, l.tracer, "parserruntime.Fetch")
	defer span.End()

	attempts := 0
	operation := func() (*Binary, error) {
		attempts++
		payload, err := l.client.Get(ctx, l.cfg.URL)
		if err == nil {
			err = l.validate(payload)
		}
		l.metrics.RecordRuntimeFetch(ctx, err == nil)
		if err != nil {
			logger.Info("Runtime fetch attempt failed", "attempt", attempts, "error", err.Error())
			if syncerr.IsAuth(err) || syncerr.IsNotFound(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return &Binary{Bytes: payload, FetchedAt: l.now(), Digest: digest.FromBytes(payload)}, nil
	}

	b, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&linearBackOff{step: l.cfg.RetryDelay}),
		backoff.WithMaxTries(uint(l.cfg.MaxAttempts)),
	)
	if err != nil {
		loadErr := &syncerr.RuntimeLoadError{URL: l.cfg.URL, Attempts: attempts, Err: err}
		otel.RecordError(span, loadErr)
		return nil, loadErr
	}

	l.mu.Lock()
	l.cached = b
	l.mu.Unlock()

	span.SetAttributes(otel.AttrRuntimeBytes.Int(b.Size()))
	logger.Info("Runtime loaded", "bytes", b.Size(), "digest", b.Digest.String(), "attempts", attempts)
	return b, nil
}

var (
	// ErrEmptyPayload is a fetch that returned no bytes
	ErrEmptyPayload = errors.New("runtime payload is empty")

	// ErrNotWasm is a payload without the WebAssembly header
	ErrNotWasm = errors.New("runtime payload is not a WebAssembly module")
)

func (l *Loader) validate(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if !bytes.HasPrefix(payload, wasmMagic) {
		return ErrNotWasm
	}
	if l.cfg.Digest != "" {
		expected := digest.Digest(l.cfg.Digest)
		verifier := expected.Verifier()
		_, _ = verifier.Write(payload)
		if !verifier.Verified() {
			return fmt.Errorf("runtime digest mismatch: expected %s, got %s",
				expected, digest.FromBytes(payload))
		}
	}
	return nil
}

// linearBackOff waits attempt × step between tries
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}
