package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-relay/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the fallback store as JSON",
		Long:  "Export every pending record as a JSON array of flat entries, oldest first.",
		Run:   runExport,
	}

	cmd.Flags().Bool("drain", false, "Remove exported entries from the store")

	pendingCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	drain, _ := cmd.Flags().GetBool("drain")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	var entries []model.PendingEntry
	if drain {
		entries, err = s.Drain(cmd.Context())
	} else {
		entries, err = s.List(cmd.Context())
	}
	if err != nil {
		exitErr("export", err)
	}
	if entries == nil {
		entries = []model.PendingEntry{}
	}

	b, _ := json.MarshalIndent(entries, "", "  ")
	fmt.Println(string(b))
}
