package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every record in the fallback store",
		Run:   runClear,
	}

	cmd.Flags().Bool("yes", false, "Confirm permanent deletion (required)")
	cmd.MarkFlagRequired("yes")

	pendingCmd.AddCommand(cmd)
}

func runClear(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	n, err := s.Count(cmd.Context())
	if err != nil {
		exitErr("count", err)
	}
	if err := s.Clear(cmd.Context()); err != nil {
		exitErr("clear", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"cleared":%d}`+"\n", n)
}
