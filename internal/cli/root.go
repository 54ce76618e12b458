// Package cli implements the memory-relay CLI commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/memory-relay/internal/config"
	"github.com/rcliao/memory-relay/internal/inject"
	"github.com/rcliao/memory-relay/internal/logging"
	"github.com/rcliao/memory-relay/internal/relay"
	"github.com/rcliao/memory-relay/internal/store"
)

// Vars so tests can shorten them.
var (
	shutdownTimeout = 10 * time.Second
	saveTimeout     = 10 * time.Second
)

var (
	configPath string
	verbose    bool
	formatFlag string

	cfg    *config.Config
	logger *zap.Logger
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memory-relay",
	Short: "Reliable memory reporting for chat applications",
	Long: "Captures conversation turns, delivers them to a memory service through an ordered, " +
		"rate-limit aware queue with a local fallback store, and injects remembered context before generation.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(getConfigPath())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err = logging.New(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $MEMORY_RELAY_CONFIG or ~/.memory-relay/config.yaml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("MEMORY_RELAY_CONFIG"); env != "" {
		return env
	}
	return config.DefaultPath()
}

func openRelay(host inject.Host) (*relay.Relay, error) {
	return relay.New(cfg, relay.Options{Host: host, Logger: logger})
}

func openStore() (store.PendingStore, error) {
	return relay.OpenStore(cfg.Pending)
}

// closeRelay drains the queue, parking anything left after the shutdown
// timeout in the fallback store. Commands holding a relay return errors
// through RunE instead of calling exitErr, so this deferred call always runs.
func closeRelay(r *relay.Relay) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		logger.Warn("Close relay", zap.Error(err))
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
