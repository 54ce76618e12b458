package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Test the connection to the memory service",
		Long:  "Probe the memory service health endpoint. On success, records waiting in the fallback store are replayed.",
		RunE:  runProbe,
	}

	RootCmd.AddCommand(cmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	r, err := openRelay(nil)
	if err != nil {
		return fmt.Errorf("open relay: %w", err)
	}
	defer closeRelay(r)

	r.Start(cmd.Context())
	r.Wait()

	st, err := r.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	if formatFlag == "text" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (pending: %d)\n", r.Client().BaseURL(), st.State, st.Pending)
		return nil
	}
	b, _ := json.MarshalIndent(st, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
