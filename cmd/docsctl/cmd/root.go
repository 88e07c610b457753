// Package cmd holds the docsctl commands.
package cmd

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docs-assistant/internal/bootstrap"
	"github.com/kirillkom/docs-assistant/internal/config"
	"github.com/kirillkom/docs-assistant/internal/observability/logging"
)

var version = "dev"

type rootOptions struct {
	logLevel string
}

func NewRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:   "docsctl",
		Short: "Operate the documentation retrieval index",
		Long: `docsctl runs re-indexes, queries the index from the terminal and serves
the retrieval tools over MCP stdio.

Settings come from the same environment variables as the api and worker.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := opts.logLevel
			if level == "" {
				level = config.Load().LogLevel
			}
			slog.SetDefault(logging.NewJSONLoggerTo(cmd.ErrOrStderr(), "docsctl", level))
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from LOG_LEVEL)")

	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newClassifyCmd())
	cmd.AddCommand(newMCPCmd())
	return cmd
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func openApp(ctx context.Context, queue bool) (*bootstrap.App, error) {
	return bootstrap.New(ctx, config.Load(), bootstrap.Options{Name: "docsctl", Queue: queue})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
