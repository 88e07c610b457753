package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

type searchOptions struct {
	limit     int
	strategy  string
	threshold float64
	answer    bool
	format    string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the published index",
		Long: `Run the retrieval pipeline against the published index.

Examples:
  docsctl search "how do I rotate api keys"
  docsctl search "ERR_CONN_RESET" --strategy keyword --limit 3
  docsctl search "install on windows" --answer`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.request(cmd, strings.Join(args, " "))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			app, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			if opts.answer {
				answer, err := app.QueryUC.Answer(ctx, req)
				if err != nil {
					return err
				}
				if opts.format == "json" {
					return writeJSON(out, answer)
				}
				fmt.Fprintln(out, answer.Text)
				printPassages(out, answer.Sources)
				return nil
			}

			outcome, err := app.QueryUC.Retrieve(ctx, req)
			if err != nil {
				return err
			}
			if opts.format == "json" {
				return writeJSON(out, outcome)
			}
			fmt.Fprintf(out, "strategy=%s intent=%s confidence=%.3f (%s) low_confidence=%t\n",
				outcome.Strategy, outcome.Query.Intent, outcome.Confidence, outcome.Scale, outcome.LowConfidence)
			printPassages(out, outcome.Passages)
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of passages (default RAG_TOP_K)")
	cmd.Flags().StringVarP(&opts.strategy, "strategy", "s", "auto", "Strategy: auto, semantic, keyword, hybrid")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", -1, "Confidence threshold override in [0,1]")
	cmd.Flags().BoolVar(&opts.answer, "answer", false, "Generate an answer from the passages")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func (o searchOptions) request(cmd *cobra.Command, query string) (domain.QueryRequest, error) {
	strategy, ok := domain.ParseStrategy(strings.ToLower(o.strategy))
	if !ok {
		return domain.QueryRequest{}, fmt.Errorf("unknown strategy %q", o.strategy)
	}
	if o.format != "text" && o.format != "json" {
		return domain.QueryRequest{}, fmt.Errorf("unknown format %q", o.format)
	}
	if o.limit < 0 || o.limit > 50 {
		return domain.QueryRequest{}, fmt.Errorf("limit must be between 1 and 50")
	}
	req := domain.QueryRequest{Query: query, Limit: o.limit, Strategy: strategy}
	if cmd.Flags().Changed("threshold") {
		if o.threshold < 0 || o.threshold > 1 {
			return domain.QueryRequest{}, fmt.Errorf("threshold must be in [0,1]")
		}
		threshold := o.threshold
		req.Threshold = &threshold
	}
	return req, nil
}

func printPassages(w io.Writer, passages []domain.Passage) {
	for _, p := range passages {
		fmt.Fprintf(w, "\n%d. %s  [%.3f]\n   %s\n", p.Rank, p.Chunk.Title, p.Score, p.Chunk.URL)
		snippet := strings.Join(strings.Fields(p.Chunk.Content), " ")
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		fmt.Fprintf(w, "   %s\n", snippet)
	}
}
