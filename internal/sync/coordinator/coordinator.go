package coordinator

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	pkgsync "github.com/stacklok/bimsync/internal/sync"
)

const (
	// basePollingInterval is the base interval at which the coordinator rechecks watches
	basePollingInterval = time.Minute
	// pollingJitter is the maximum random offset (±10 seconds) applied to the polling interval
	pollingJitter = 10 * time.Second
)

//go:generate mockgen -destination=mocks/mock_coordinator.go -package=mocks -source=coordinator.go Session,SessionStarter,CredentialResolver

// Session is the part of a sync session the coordinator drives
type Session interface {
	ID() string
	Snapshot() pkgsync.SessionSnapshot
	Dispose(ctx context.Context)
}

// SessionStarter begins sync sessions
type SessionStarter interface {
	BeginSync(ctx context.Context, req pkgsync.Request) (Session, error)
}

// CredentialResolver produces the token a source is synced with.
// It is called for every new session so rotated tokens are picked up.
type CredentialResolver interface {
	Resolve(ctx context.Context, source string) (string, error)
}

// Coordinator keeps the configured watches in sync in the background
type Coordinator interface {
	// Start begins one session per watch and rechecks them periodically
	// Blocks until context is cancelled
	Start(ctx context.Context) error

	// Stop cancels the loop and disposes every session
	Stop() error

	// Ready reports whether every watch has been started at least once
	Ready() bool
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	starter SessionStarter
	creds   CredentialResolver
	watches []Watch
	clock   clock.Clock

	mu         sync.Mutex
	sessions   map[string]Session
	reconciled bool

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithClock sets the clock driving the recheck timer
func WithClock(c clock.Clock) Option {
	return func(dc *defaultCoordinator) {
		dc.clock = c
	}
}

// New creates a new coordinator with injected dependencies
func New(starter SessionStarter, creds CredentialResolver, watches []Watch, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		starter:  starter,
		creds:    creds,
		watches:  watches,
		clock:    clock.RealClock{},
		sessions: make(map[string]Session, len(watches)),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// calculatePollingInterval returns the base polling interval with a random jitter applied.
// The jitter keeps replicas watching the same items from hitting the upstream together.
func calculatePollingInterval() time.Duration {
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for polling jitter
	jitterOffset := time.Duration(rand.Int64N(int64(2*pollingJitter))) - pollingJitter
	return basePollingInterval + jitterOffset
}

// Start begins background coordination for all watches
func (c *defaultCoordinator) Start(ctx context.Context) error {
	logger := logr.FromContextOrDiscard(ctx).WithName("coordinator")
	ctx = logr.NewContext(ctx, logger)
	logger.Info("Starting watch coordinator", "watches", len(c.watches))

	coordCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()
	defer func() {
		c.disposeAll(context.WithoutCancel(ctx))
		close(c.done)
		logger.Info("Watch coordinator stopped")
	}()

	c.reconcile(coordCtx)

	timer := c.clock.NewTimer(calculatePollingInterval())
	defer timer.Stop()

	for {
		select {
		case <-timer.C():
			c.reconcile(coordCtx)
			timer.Reset(calculatePollingInterval())
		case <-coordCtx.Done():
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	c.mu.Lock()
	cancel := c.cancelFunc
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-c.done
	}
	return nil
}

// Ready reports whether the first reconcile has run
func (c *defaultCoordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconciled
}

// reconcile starts missing sessions and restarts the ones that need a fresh pass
func (c *defaultCoordinator) reconcile(ctx context.Context) {
	logger := logr.FromContextOrDiscard(ctx)

	for _, w := range c.watches {
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		current := c.sessions[w.key()]
		c.mu.Unlock()

		if current != nil {
			restart, reason := needsRestart(current.Snapshot(), w, c.clock.Now())
			if !restart {
				logger.V(1).Info("Watch does not need a new session", "watch", w, "reason", reason)
				continue
			}
			logger.Info("Restarting watch session", "watch", w, "sessionId", current.ID(), "reason", reason)
			current.Dispose(ctx)
			c.mu.Lock()
			delete(c.sessions, w.key())
			c.mu.Unlock()
		}

		c.startWatch(ctx, w)
	}

	c.mu.Lock()
	c.reconciled = true
	c.mu.Unlock()
}

// startWatch begins a session for w; failures are retried on the next reconcile
func (c *defaultCoordinator) startWatch(ctx context.Context, w Watch) {
	logger := logr.FromContextOrDiscard(ctx).WithValues("watch", w)

	credential, err := c.creds.Resolve(ctx, w.Source.CredentialRef())
	if err != nil {
		logger.Error(err, "Failed to resolve credential, will retry")
		return
	}

	session, err := c.starter.BeginSync(ctx, pkgsync.Request{
		Source:     w.Source,
		Credential: credential,
		ItemID:     w.ItemID,
	})
	if err != nil {
		logger.Error(err, "Failed to begin sync, will retry")
		return
	}

	c.mu.Lock()
	c.sessions[w.key()] = session
	c.mu.Unlock()
	logger.Info("Watch session started", "sessionId", session.ID())
}

func (c *defaultCoordinator) disposeAll(ctx context.Context) {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]Session)
	c.mu.Unlock()

	for _, s := range sessions {
		s.Dispose(ctx)
	}
}

// needsRestart decides whether a watch session is replaced by a new one.
// Sessions with a live push subscription are never restarted; pushless sessions
// are rediscovered once the recheck interval has passed since their last pass.
func needsRestart(snap pkgsync.SessionSnapshot, w Watch, now time.Time) (bool, string) {
	switch {
	case snap.Latest == nil:
		return false, "first pass in progress"
	case !snap.Latest.Succeeded():
		return true, "last pass failed"
	case snap.Subscribed:
		return false, "push subscription active"
	case now.Sub(snap.Latest.FinishedAt) >= w.RecheckInterval:
		return true, "recheck interval elapsed"
	default:
		return false, "recheck interval not elapsed"
	}
}
