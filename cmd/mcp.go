package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/issuetrack/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets MCP clients list, read, create, update and delete issues
through the same repository as the REST API. Configure a client with:

  {
    "mcpServers": {
      "issuetrack": { "command": "issuetrack", "args": ["mcp"] }
    }
  }

Available tools: issues_list, issues_get, issues_create, issues_update,
issues_delete`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := getRepository()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return mcp.NewServer(repo, newLogger(), buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
