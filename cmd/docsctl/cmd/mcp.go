package cmd

import (
	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/docs-assistant/internal/adapters/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve search tools to MCP clients over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			return mcpadapter.NewServer(version, app.QueryUC, app.Classifier, app.ReindexUC).ServeStdio()
		},
	}
}
