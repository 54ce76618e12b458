package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-relay/internal/relay"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Save a memory manually",
		Long: "Save a memory with role manual. Content can be a positional arg or piped via stdin. " +
			"Reasoning markup is stripped and long content is split into chunks.",
		RunE: runPut,
	}

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	// Get content: positional arg first, then check stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			content = string(b)
		}
	}

	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("put: content is required (positional arg or stdin)")
	}

	r, err := openRelay(nil)
	if err != nil {
		return fmt.Errorf("open relay: %w", err)
	}
	defer closeRelay(r)

	r.Start(cmd.Context())
	results := r.SaveManual(content)
	if len(results) == 0 {
		return fmt.Errorf("put: nothing left to save after filtering")
	}

	// Records not resolved in time stay queued; closeRelay parks them.
	ctx, cancel := context.WithTimeout(cmd.Context(), saveTimeout)
	defer cancel()
	res, err := relay.Join(ctx, results)
	if err != nil {
		return fmt.Errorf("put: waiting for delivery: %w", err)
	}

	if formatFlag == "text" {
		fmt.Fprintln(cmd.OutOrStdout(), relay.Summary(res))
		return nil
	}
	b, _ := json.Marshal(res)
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
