package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-relay/internal/remote"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [query]",
		Short: "Fetch remembered context for a query",
		Long:  "Ask the memory service for the context it would inject for the given conversation text.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().IntP("budget", "b", 0, "Max tokens in output (default: injection.budget)")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	budget, _ := cmd.Flags().GetInt("budget")
	if budget <= 0 {
		budget = cfg.Injection.Budget
	}
	query := strings.Join(args, " ")

	client := remote.New(remote.Options{
		BaseURL: cfg.Remote.BaseURL,
		APIKey:  cfg.Remote.APIKey,
		Timeout: cfg.Remote.Timeout,
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Injection.Timeout)
	defer cancel()

	text, err := client.FetchContext(ctx, remote.ContextRequest{
		Query:     query,
		UserID:    cfg.OwnerID,
		MaxTokens: budget,
	})
	if err != nil {
		exitErr("context", err)
	}

	if formatFlag == "text" {
		fmt.Println(text)
		return
	}
	b, _ := json.MarshalIndent(map[string]any{"context": text, "max_tokens": budget}, "", "  ")
	fmt.Println(string(b))
}
