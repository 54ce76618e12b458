package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-relay/internal/model"
	"github.com/rcliao/memory-relay/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import pending records from JSON",
		Long:  "Import pending records from JSON on stdin. Expects the format produced by pending export.",
		Run:   runImport,
	}

	pendingCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	var entries []model.PendingEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		exitErr("parse json", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	imported, err := store.Import(cmd.Context(), s, entries)
	if err != nil {
		exitErr("import", err)
	}

	fmt.Printf(`{"ok":true,"imported":%d,"skipped":%d}`+"\n", imported, len(entries)-imported)
}
