package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-relay/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show fallback store statistics",
		Run:   runStats,
	}

	pendingCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	var stats any
	if sq, ok := s.(*store.SQLiteStore); ok {
		stats, err = sq.Stats(cmd.Context(), cfg.Pending.Path)
	} else {
		var n int
		n, err = s.Count(cmd.Context())
		stats = map[string]any{"backend": cfg.Pending.Backend, "pending": n, "capacity": cfg.Pending.Capacity}
	}
	if err != nil {
		exitErr("stats", err)
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}
