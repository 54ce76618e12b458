package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-relay/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Deliver records from the fallback store",
		Long:  "Probe the memory service and, if reachable, deliver every record waiting in the fallback store in saved order.",
		RunE:  runReplay,
	}

	cmd.Flags().Bool("force", false, "Replay even if the probe fails")

	RootCmd.AddCommand(cmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")

	r, err := openRelay(nil)
	if err != nil {
		return fmt.Errorf("open relay: %w", err)
	}
	defer closeRelay(r)

	before, err := r.Pending().Count(cmd.Context())
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}

	// A successful startup probe replays on its own.
	state := r.Start(cmd.Context())
	if state != model.StateConnected {
		if !force {
			return fmt.Errorf("replay: memory service is %s", state)
		}
		if _, err := r.Replay(cmd.Context()); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
	}
	r.Wait()

	after, err := r.Pending().Count(cmd.Context())
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"state":%q,"replayed":%d,"pending":%d}`+"\n", state, before, after)
	return nil
}
