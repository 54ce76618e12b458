package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-relay/internal/model"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect and manage the fallback store",
}

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records waiting in the fallback store",
		Run:   runList,
	}

	cmd.Flags().String("role", "", "Filter by role: user, assistant, manual")
	cmd.Flags().IntP("limit", "l", 0, "Max results, oldest first (0 = all)")

	pendingCmd.AddCommand(cmd)
	RootCmd.AddCommand(pendingCmd)
}

func runList(cmd *cobra.Command, args []string) {
	role, _ := cmd.Flags().GetString("role")
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	entries, err := s.List(cmd.Context())
	if err != nil {
		exitErr("list", err)
	}

	var out []model.PendingEntry
	for _, e := range entries {
		if role != "" && string(e.Record.Metadata.Role) != role {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	if formatFlag == "text" {
		for _, e := range out {
			fmt.Printf("%s  %-9s  %s\n", e.ID, e.Record.Metadata.Role, preview(e.Record.Content, 60))
		}
		return
	}

	if out == nil {
		out = []model.PendingEntry{}
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
