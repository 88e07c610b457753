package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docs-assistant/internal/config"
)

type reindexOptions struct {
	trigger string
	async   bool
}

func newReindexCmd() *cobra.Command {
	var opts reindexOptions

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index from the corpus",
		Long: `Rebuild the vector and keyword indexes from the configured corpus.

By default the rebuild runs in this process and prints its report. With
--async the request is published to the worker queue instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if !opts.async {
				if err := config.Load().ValidateCorpus(); err != nil {
					return err
				}
			}
			app, err := openApp(ctx, opts.async)
			if err != nil {
				return err
			}
			defer app.Close()

			if opts.async {
				req, err := app.TriggerUC.RequestReindex(ctx, opts.trigger)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), req)
			}

			report, err := app.ReindexUC.Reindex(ctx, opts.trigger)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Failed() {
				return fmt.Errorf("reindex %s failed: %s", report.RunID, report.Errors[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.trigger, "trigger", "manual", "Trigger recorded with the run")
	cmd.Flags().BoolVar(&opts.async, "async", false, "Publish a request to the worker queue instead of running here")
	return cmd
}
