package app

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	syncapp "github.com/stacklok/bimsync/internal/app"
)

// defaultGracefulTimeout is the Kubernetes-friendly shutdown time
const defaultGracefulTimeout = 30 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the sync daemon",
	Long: `Run the sync daemon: one sync session per configured watch, kept in sync through push
subscriptions where the source supports them and periodic rechecks where it does not.

The daemon serves a status API:
- GET /healthz and /readyz for probes
- GET /v1/sessions and /v1/sessions/{id} with session snapshots
- GET /metrics when telemetry.metrics.prometheus is enabled`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("address", "", "Address to listen on (overrides server.address)")
	if err := viper.BindPFlag("address", watchCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Error binding address flag", "error", err)
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := logr.FromContextOrDiscard(ctx)

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	tel, err := newTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultGracefulTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "Failed to shut down telemetry")
		}
	}()

	opts := []syncapp.SyncAppOptions{
		syncapp.WithConfig(cfg),
		syncapp.WithTelemetry(tel),
	}
	if address := viper.GetString("address"); address != "" {
		opts = append(opts, syncapp.WithAddress(address))
	}

	daemon, err := syncapp.NewSyncApp(ctx, opts...)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- daemon.Start()
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		// Start returned on its own, the sessions still need releasing
		if stopErr := daemon.Stop(defaultGracefulTimeout); stopErr != nil {
			logger.Error(stopErr, "Failed to stop sync daemon")
		}
		return err
	case <-sigCtx.Done():
	}

	if err := daemon.Stop(defaultGracefulTimeout); err != nil {
		return err
	}
	return <-errCh
}
