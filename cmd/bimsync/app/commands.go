// Package app provides the commands of the bimsync CLI.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/bimsync/internal/config"
	"github.com/stacklok/bimsync/internal/telemetry"
	"github.com/stacklok/bimsync/internal/versions"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

var rootCmd = &cobra.Command{
	Use:               "bimsync",
	DisableAutoGenTag: true,
	Short:             "Synchronize BIM models from external model sources",
	Long: `bimsync discovers models in external model sources, requests their translation,
waits for the translated manifest and keeps models in sync when new versions are published.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logr.FromContextOrDiscard(cmd.Context()).Error(err, "Error displaying help")
		}
	},
}

// NewRootCmd creates a new root command for the CLI.
func NewRootCmd() *cobra.Command {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String("config", "",
		"Path to configuration file (YAML format, defaults to $XDG_CONFIG_HOME/bimsync/config.yaml)")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		slog.Error("Error binding config flag", "error", err)
	}

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(runtimeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// loadConfig loads the configuration named by --config or BIMSYNC_CONFIG, or the XDG default
func loadConfig(ctx context.Context) (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logr.FromContextOrDiscard(ctx).V(1).Info("Loaded configuration", "path", path,
		"sources", len(cfg.Sources), "watches", len(cfg.Watches))
	return cfg, nil
}

// newTelemetry sets up telemetry from the configuration; the caller shuts it down
func newTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	tel, err := telemetry.New(ctx,
		telemetry.WithTelemetryConfig(cfg.Telemetry),
		telemetry.WithServiceVersion(versions.Version),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return tel, nil
}

// validateFormat rejects output formats other than table and json
func validateFormat(format string) error {
	if format != formatTable && format != formatJSON {
		return fmt.Errorf("unsupported format %q, expected %s or %s", format, formatTable, formatJSON)
	}
	return nil
}

// writeJSON prints v as indented JSON
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return err
		}

		if format == formatJSON {
			return writeJSON(cmd.OutOrStdout(), info)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "bimsync %s (commit %s, built %s, %s, %s)\n",
			info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
		return err
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}
