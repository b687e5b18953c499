// Package credentials resolves the bearer token each configured source is synced with.
//
// Tokens come from a file, an environment variable, or a 2-legged OAuth2 client
// credentials grant. The engine only ever sees the resulting token string.
package credentials

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/stacklok/bimsync/internal/config"
)

// Resolver resolves source credentials from their configuration
type Resolver struct {
	credentials map[string]config.CredentialConfig
	getenv      func(string) string
	httpClient  *http.Client

	mu           sync.Mutex
	tokenSources map[string]oauth2.TokenSource
}

// Option configures a Resolver
type Option func(*Resolver)

// WithGetenv replaces os.Getenv for environment lookups
func WithGetenv(getenv func(string) string) Option {
	return func(r *Resolver) {
		r.getenv = getenv
	}
}

// WithHTTPClient sets the client used for OAuth2 token requests
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = client
	}
}

// NewResolver creates a resolver for every source in cfg
func NewResolver(cfg *config.Config, opts ...Option) *Resolver {
	r := &Resolver{
		credentials:  make(map[string]config.CredentialConfig, len(cfg.Sources)),
		getenv:       os.Getenv,
		tokenSources: make(map[string]oauth2.TokenSource),
	}
	for _, src := range cfg.Sources {
		r.credentials[src.Name] = src.Credential
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the current token of the named source.
// OAuth2 tokens are cached until shortly before they expire.
func (r *Resolver) Resolve(ctx context.Context, source string) (string, error) {
	cred, ok := r.credentials[source]
	if !ok {
		return "", fmt.Errorf("no credential configured for source %q", source)
	}

	switch {
	case cred.File != "":
		return readTokenFile(cred.File)
	case cred.Env != "":
		token := strings.TrimSpace(r.getenv(cred.Env))
		if token == "" {
			return "", fmt.Errorf("environment variable %s is not set", cred.Env)
		}
		return token, nil
	case cred.OAuth2 != nil:
		return r.oauth2Token(ctx, source, cred.OAuth2)
	default:
		return "", fmt.Errorf("credential of source %q has no file, env or oauth2 setting", source)
	}
}

func readTokenFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to read token from file %s: %w", path, err)
	}

	// Trim whitespace (including newlines) from file content
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}

func (r *Resolver) oauth2Token(ctx context.Context, source string, cfg *config.OAuth2Config) (string, error) {
	ts, err := r.tokenSource(source, cfg)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("failed to obtain OAuth2 token for source %q: %w", source, err)
	}
	return tok.AccessToken, nil
}

// tokenSource returns the cached token source of a source, creating it on first use
func (r *Resolver) tokenSource(source string, cfg *config.OAuth2Config) (oauth2.TokenSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ts, ok := r.tokenSources[source]; ok {
		return ts, nil
	}

	clientID := r.getenv(cfg.ClientIDEnv)
	clientSecret := r.getenv(cfg.ClientSecretEnv)
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("OAuth2 client credentials of source %q are not set: check %s and %s",
			source, cfg.ClientIDEnv, cfg.ClientSecretEnv)
	}

	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}

	// The token source outlives the request that created it
	tsCtx := context.Background()
	if r.httpClient != nil {
		tsCtx = context.WithValue(tsCtx, oauth2.HTTPClient, r.httpClient)
	}

	ts := cc.TokenSource(tsCtx)
	r.tokenSources[source] = ts
	return ts, nil
}
