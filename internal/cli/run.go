package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve host hooks over stdio",
		Long: "Read hook events as JSON lines on stdin and write context and connectivity effects as JSON lines on stdout. " +
			"Probes the memory service at startup; leftover fallback records are replayed once it is reachable.",
		RunE: runRun,
	}

	RootCmd.AddCommand(cmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	h := newStdioHost(os.Stdout)
	r, err := openRelay(h)
	if err != nil {
		return fmt.Errorf("open relay: %w", err)
	}
	defer closeRelay(r)

	state := r.Start(cmd.Context())
	h.emit(hostEffect{Effect: "connectivity", State: state})
	logger.Info("Relay started", zap.String("state", string(state)), zap.String("remote", r.Client().BaseURL()))

	if err := serve(cmd.Context(), os.Stdin, h, r); err != nil {
		logger.Warn("Host stream ended", zap.Error(err))
	}
	return nil
}
