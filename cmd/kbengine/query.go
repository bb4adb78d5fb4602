package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pawrescue/kbengine/internal/repository/knowledge"
	"github.com/pawrescue/kbengine/internal/usecase/retrieval"
)

var (
	queryAgent    string
	queryAudience []string
	queryCategory string
	queryTopK     int
	querySeedFile string
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Retrieve knowledge for a question",
	Long: `Retrieve the knowledge entries most relevant to a question and print them
the way the assistant receives them.

Examples:
  kbengine query "what vaccines does a kitten need?"
  kbengine query --audience adopter --category health "deworming schedule"
  kbengine query --seed config/knowledge.yaml "crate training"   # in-memory backend`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryAgent, "agent", "", "agent type the entries must be tagged for")
	queryCmd.Flags().StringSliceVar(&queryAudience, "audience", nil, "audiences to match (any of)")
	queryCmd.Flags().StringVar(&queryCategory, "category", "", "category to match")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of entries (default from config)")
	queryCmd.Flags().StringVar(&querySeedFile, "seed", "", "knowledge YAML file to ingest first")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if querySeedFile != "" {
		summary, err := a.ingest.Ingest(ctx, knowledge.NewFileSource(querySeedFile))
		if err != nil {
			return fmt.Errorf("seed %s: %w", querySeedFile, err)
		}
		if !summary.Success {
			printSummary(cmd, summary)
		}
	}

	snippets := a.retrieval.Retrieve(ctx, retrieval.Request{
		Text:      strings.Join(args, " "),
		AgentType: queryAgent,
		Audience:  queryAudience,
		Category:  queryCategory,
		TopK:      queryTopK,
	})

	out := cmd.OutOrStdout()
	if len(snippets) == 0 {
		fmt.Fprintln(out, "no relevant knowledge found")
		return nil
	}
	fmt.Fprint(out, retrieval.FormatContext(snippets))
	return nil
}
