package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	syncapp "github.com/stacklok/bimsync/internal/app"
	pkgsync "github.com/stacklok/bimsync/internal/sync"
)

// shutdownTimeout bounds session disposal and telemetry flush on exit
const shutdownTimeout = 30 * time.Second

var syncCmd = &cobra.Command{
	Use:   "sync <source> <itemId>",
	Short: "Sync one item and print the translated manifest",
	Long: `Discover the latest version of an item, request its translation and wait for the manifest.

Without --watch the {urn, itemId, manifest} result of the first pass is printed and the command exits.
With --watch the command stays subscribed to the source and prints every outcome as a JSON line
until interrupted.`,
	Args: cobra.ExactArgs(2),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().Bool("watch", false, "Keep the session open and re-sync when new versions are published")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := logr.FromContextOrDiscard(ctx)

	watch, _ := cmd.Flags().GetBool("watch")

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	src, err := cfg.Source(args[0])
	if err != nil {
		return err
	}
	ext, err := src.ExternalSource()
	if err != nil {
		return err
	}

	tel, err := newTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	components, err := syncapp.NewComponents(ctx, syncapp.WithConfig(cfg), syncapp.WithTelemetry(tel))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := components.Close(shutdownCtx); err != nil {
			logger.Error(err, "Failed to close sync components")
		}
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "Failed to shut down telemetry")
		}
	}()

	credential, err := components.Credentials.Resolve(ctx, src.Name)
	if err != nil {
		return err
	}

	handle, err := components.Orchestrator.BeginSync(ctx, pkgsync.Request{
		Source:     ext,
		Credential: credential,
		ItemID:     args[1],
		OneShot:    !watch,
	})
	if err != nil {
		return fmt.Errorf("failed to start sync: %w", err)
	}

	out := cmd.OutOrStdout()
	if !watch {
		outcome, err := handle.Wait(ctx)
		if err != nil {
			return err
		}
		if !outcome.Succeeded() {
			return fmt.Errorf("sync of %s failed (%s): %s", args[1], outcome.State, outcome.Message)
		}
		return writeJSON(out, outcome.Result)
	}

	var mu sync.Mutex
	enc := json.NewEncoder(out)
	handle.OnOutcome(func(o pkgsync.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(o); err != nil {
			logger.Error(err, "Failed to print outcome")
		}
	})

	logger.Info("Watching item, press Ctrl+C to stop", "source", src.Name, "itemId", args[1])
	<-ctx.Done()
	return nil
}
