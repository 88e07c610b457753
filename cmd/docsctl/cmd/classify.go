package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docs-assistant/internal/config"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/queryclass"
)

func newClassifyCmd() *cobra.Command {
	var synonymsFile string

	cmd := &cobra.Command{
		Use:   "classify <query>",
		Short: "Show the intent, strategy and expansion chosen for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if synonymsFile == "" {
				synonymsFile = config.Load().SynonymsFile
			}
			synonyms := queryclass.DefaultSynonyms()
			if synonymsFile != "" {
				loaded, err := queryclass.LoadSynonymsFile(synonymsFile)
				if err != nil {
					return err
				}
				synonyms = loaded
			}
			classifier := queryclass.New(synonyms, 0)
			return writeJSON(cmd.OutOrStdout(), classifier.Classify(strings.Join(args, " ")))
		},
	}

	cmd.Flags().StringVar(&synonymsFile, "synonyms", "", "YAML synonyms file (default SYNONYMS_FILE)")
	return cmd
}
