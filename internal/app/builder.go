package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/stacklok/bimsync/internal/api"
	"github.com/stacklok/bimsync/internal/config"
	"github.com/stacklok/bimsync/internal/credentials"
	"github.com/stacklok/bimsync/internal/parserruntime"
	"github.com/stacklok/bimsync/internal/results"
	"github.com/stacklok/bimsync/internal/sources"
	"github.com/stacklok/bimsync/internal/subscriptions"
	pkgsync "github.com/stacklok/bimsync/internal/sync"
	"github.com/stacklok/bimsync/internal/sync/coordinator"
	"github.com/stacklok/bimsync/internal/telemetry"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// SyncAppOptions is a function that configures the sync app builder
type SyncAppOptions func(*syncAppConfig) error

// syncAppConfig collects everything needed to build a SyncApp.
// It supports dependency injection for testing while providing sensible defaults for production
type syncAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	discoveryFactory sources.DiscoveryFactory
	upstreamFactory  pkgsync.UpstreamFactory
	opener           subscriptions.Opener
	credentials      coordinator.CredentialResolver
	resultSink       pkgsync.ResultSink
	consumer         pkgsync.GeometryConsumer
	clock            clock.Clock

	telemetry *telemetry.Telemetry

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...SyncAppOptions) (*syncAppConfig, error) {
	cfg := &syncAppConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// NewSyncApp builds the daemon: one sync session per configured watch and the status API
func NewSyncApp(
	ctx context.Context,
	opts ...SyncAppOptions,
) (*SyncApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	components, err := buildSyncComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	watchCoordinator, err := buildCoordinator(ctx, cfg, components.Orchestrator)
	if err != nil {
		_ = components.Close(ctx)
		return nil, fmt.Errorf("failed to build watch coordinator: %w", err)
	}
	components.Coordinator = watchCoordinator

	if cfg.address == "" {
		cfg.address = cfg.config.GetServerAddress()
	}

	httpServer, err := buildHTTPServer(ctx, cfg, components.Orchestrator, watchCoordinator)
	if err != nil {
		_ = components.Close(ctx)
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	return &SyncApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// NewComponents builds the sync engine without the daemon around it.
// The caller must Close the returned components.
func NewComponents(ctx context.Context, opts ...SyncAppOptions) (*AppComponents, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	return buildSyncComponents(ctx, cfg)
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding the configured one
func WithAddress(addr string) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}
		if port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithTelemetry sets the telemetry providers. The caller keeps ownership and shuts them down.
func WithTelemetry(t *telemetry.Telemetry) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// WithDiscoveryFactory allows injecting a custom discovery factory (for testing)
func WithDiscoveryFactory(f sources.DiscoveryFactory) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.discoveryFactory = f
		return nil
	}
}

// WithUpstreamFactory allows injecting a custom translation upstream factory (for testing)
func WithUpstreamFactory(f pkgsync.UpstreamFactory) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.upstreamFactory = f
		return nil
	}
}

// WithOpener allows injecting a custom push subscription opener (for testing)
func WithOpener(o subscriptions.Opener) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.opener = o
		return nil
	}
}

// WithCredentialResolver allows injecting a custom credential resolver
func WithCredentialResolver(r coordinator.CredentialResolver) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.credentials = r
		return nil
	}
}

// WithResultSink sets where successful results are handed off
func WithResultSink(s pkgsync.ResultSink) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.resultSink = s
		return nil
	}
}

// WithGeometryConsumer sets the consumer that parses translated geometry
func WithGeometryConsumer(c pkgsync.GeometryConsumer) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.consumer = c
		return nil
	}
}

// WithClock sets the clock of the orchestrator and the coordinator (for testing)
func WithClock(c clock.Clock) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.clock = c
		return nil
	}
}

// buildSyncComponents builds the orchestrator and the subscription manager behind it
func buildSyncComponents(
	ctx context.Context,
	b *syncAppConfig,
) (*AppComponents, error) {
	logger := logr.FromContextOrDiscard(ctx)
	logger.Info("Initializing sync components")

	if b.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if b.telemetry == nil {
		tel, err := telemetry.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create telemetry: %w", err)
		}
		b.telemetry = tel
	}
	metrics := b.telemetry.SyncMetrics()
	tracer := b.telemetry.Tracer(telemetry.SyncTracerName)

	if b.discoveryFactory == nil {
		b.discoveryFactory = sources.NewDiscoveryFactory()
	}
	if b.upstreamFactory == nil {
		b.upstreamFactory = pkgsync.NewUpstreamFactory()
	}
	if b.opener == nil {
		b.opener = subscriptions.NewOpener()
	}
	if b.credentials == nil {
		b.credentials = credentials.NewResolver(b.config)
	}

	translationCfg, err := b.config.TranslationPolicy()
	if err != nil {
		return nil, err
	}
	discoveryCfg, err := b.config.DiscoveryPolicy()
	if err != nil {
		return nil, err
	}

	subs := subscriptions.NewManager(b.opener,
		subscriptions.WithMetrics(metrics),
		subscriptions.WithTracer(tracer),
	)

	orchOpts := []pkgsync.Option{
		pkgsync.WithSubscriptions(subs),
		pkgsync.WithTranslationConfig(translationCfg),
		pkgsync.WithDiscoveryConfig(discoveryCfg),
		pkgsync.WithMetrics(metrics),
		pkgsync.WithTracer(tracer),
	}
	if b.resultSink == nil {
		if dir := b.config.GetResultsDir(); dir != "" {
			b.resultSink = results.NewFileSink(dir)
			logger.Info("Storing results on disk", "dir", dir)
		}
	}
	if b.resultSink != nil {
		orchOpts = append(orchOpts, pkgsync.WithResultSink(b.resultSink))
	}
	if b.consumer != nil {
		orchOpts = append(orchOpts, pkgsync.WithGeometryConsumer(b.consumer))
	}
	if b.clock != nil {
		orchOpts = append(orchOpts, pkgsync.WithClock(b.clock))
	}

	runtimeCfg, ok, err := b.config.RuntimePolicy()
	if err != nil {
		return nil, err
	}
	if ok {
		loader, err := parserruntime.Shared(runtimeCfg,
			parserruntime.WithMetrics(metrics),
			parserruntime.WithTracer(tracer),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create parser runtime loader: %w", err)
		}
		orchOpts = append(orchOpts, pkgsync.WithRuntimeLoader(loader))
	} else {
		logger.Info("No parser runtime configured, geometry parsing disabled")
	}

	orchestrator, err := pkgsync.New(b.discoveryFactory, b.upstreamFactory, orchOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	logger.Info("Sync components initialized successfully")
	return &AppComponents{
		Orchestrator:  orchestrator,
		Subscriptions: subs,
		Credentials:   b.credentials,
	}, nil
}

// buildCoordinator resolves the configured watches and creates the coordinator driving them
func buildCoordinator(
	ctx context.Context,
	b *syncAppConfig,
	orchestrator *pkgsync.Orchestrator,
) (coordinator.Coordinator, error) {
	watches, err := coordinator.WatchesFromConfig(b.config)
	if err != nil {
		return nil, err
	}
	if len(watches) == 0 {
		logr.FromContextOrDiscard(ctx).Info("No watches configured, the daemon only serves the status API")
	}

	var opts []coordinator.Option
	if b.clock != nil {
		opts = append(opts, coordinator.WithClock(b.clock))
	}
	return coordinator.New(coordinator.NewSessionStarter(orchestrator), b.credentials, watches, opts...), nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(
	ctx context.Context,
	b *syncAppConfig,
	sessions api.SessionLister,
	readiness api.ReadinessChecker,
) (*http.Server, error) {
	logger := logr.FromContextOrDiscard(ctx)
	logger.Info("Initializing HTTP server")

	// Use default middlewares if not provided
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware(logger.WithName("http")),
		}
	}

	serverOpts := []api.ServerOption{api.WithReadinessChecker(readiness)}

	if b.telemetry != nil {
		httpMetrics, err := telemetry.NewHTTPMetrics(b.telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
		}
		// Prepended so that every request is measured and traced, including the ones that time out
		b.middlewares = append([]func(http.Handler) http.Handler{
			telemetry.TracingMiddleware(b.telemetry.TracerProvider()),
			httpMetrics.Middleware,
		}, b.middlewares...)

		if h := b.telemetry.MetricsHandler(); h != nil {
			serverOpts = append(serverOpts, api.WithMetricsHandler(h))
			logger.Info("Prometheus metrics endpoint enabled", "path", "/metrics")
		}
	}
	serverOpts = append(serverOpts, api.WithMiddlewares(b.middlewares...))

	router := api.NewServer(sessions, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	logger.Info("HTTP server configured", "address", b.address)
	return server, nil
}
