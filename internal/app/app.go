// Package app provides application lifecycle management for the sync daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/bimsync/internal/config"
)

// SyncApp encapsulates all components needed to run the sync daemon
// It provides lifecycle management and graceful shutdown capabilities
type SyncApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the watch coordinator and the status API.
// It blocks until both have stopped; a server failure also stops the coordinator.
func (app *SyncApp) Start() error {
	logger := logr.FromContextOrDiscard(app.ctx)
	g, ctx := errgroup.WithContext(app.ctx)

	g.Go(func() error {
		if err := app.components.Coordinator.Start(ctx); err != nil {
			return fmt.Errorf("watch coordinator failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Server listening", "address", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout
// It stops the coordinator, shuts down the HTTP server and then disposes the remaining sessions
func (app *SyncApp) Stop(timeout time.Duration) error {
	logger := logr.FromContextOrDiscard(app.ctx)
	logger.Info("Shutting down sync daemon...")

	if err := app.components.Coordinator.Stop(); err != nil {
		logger.Error(err, "Failed to stop watch coordinator")
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}
	if err := app.components.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	logger.Info("Sync daemon shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *SyncApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *SyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the running components
func (app *SyncApp) Components() *AppComponents {
	return app.components
}
