package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/stacklok/bimsync/internal/subscriptions"
	pkgsync "github.com/stacklok/bimsync/internal/sync"
	"github.com/stacklok/bimsync/internal/sync/coordinator"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Orchestrator runs the sync sessions
	Orchestrator *pkgsync.Orchestrator

	// Subscriptions holds the push channels shared by the sessions
	Subscriptions *subscriptions.Manager

	// Credentials resolves the token of a configured source
	Credentials coordinator.CredentialResolver

	// Coordinator keeps the configured watches in sync (daemon only)
	Coordinator coordinator.Coordinator
}

// Close disposes every session and then closes the push channels they leave behind
func (c *AppComponents) Close(ctx context.Context) error {
	var errs []error
	if c.Orchestrator != nil {
		if err := c.Orchestrator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down orchestrator: %w", err))
		}
	}
	if c.Subscriptions != nil {
		if err := c.Subscriptions.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close subscriptions: %w", err))
		}
	}
	return errors.Join(errs...)
}
