package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/mcp"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/vault"
)

var mcpPerson string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server exposing the vault tools",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This exposes the same vault, web and LinkedIn tools the agent uses to any
MCP client, scoped to one person's notes. Configure it with:

  {
    "mcpServers": {
      "notes": { "command": "notesd", "args": ["mcp", "--person", "alice"] }
    }
  }

Writes ask a running notesd serve to commit and push.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpPerson, "person", "", "person directory to scope tools to (required)")
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !vault.ValidPerson(mcpPerson) {
		return fmt.Errorf("--person must name a person directory, got %q", mcpPerson)
	}

	tb := newToolbox(vault.NewStore(viper.GetString("notes_root")))
	tb.OnWrite = func(person, path string) {
		requestPush(person, path)
	}
	return mcp.NewServer(tb, mcpPerson, buildVersion).ServeStdio(ctx)
}

// requestPush asks a running server to commit and push. Failures only log:
// the next server sync picks the change up.
func requestPush(person, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := newAPIClient(person).do(ctx, "POST", "/api/v1/git/push", nil, nil); err != nil {
		slog.Warn("push after mcp write failed", "person", person, "path", path, "error", err)
	}
}
