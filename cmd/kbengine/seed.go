package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pawrescue/kbengine/internal/domain/batch"
	"github.com/pawrescue/kbengine/internal/repository/knowledge"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Ingest a knowledge YAML file into the vector store",
	Long: `Embed every entry of a knowledge file and upsert it into the configured
vector store. Re-running replaces entries with the same id.

Examples:
  kbengine seed --file config/knowledge.yaml
  kbengine seed --env prod --file knowledge/adoption.yaml`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "config/knowledge.yaml", "knowledge YAML file")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.ingest.Ingest(ctx, knowledge.NewFileSource(seedFile))
	if err != nil {
		return fmt.Errorf("seed %s: %w", seedFile, err)
	}

	logger.Info("Knowledge seeded",
		zap.String("file", seedFile),
		zap.String("backend", a.engine.Backend()),
		zap.Int("processed", summary.ProcessedCount),
		zap.Int("failed", summary.FailedCount),
	)
	printSummary(cmd, summary)

	if !summary.Success {
		return fmt.Errorf("%d of %d entries failed", summary.FailedCount, summary.ProcessedCount+summary.FailedCount)
	}
	return nil
}

func printSummary(cmd *cobra.Command, s batch.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "processed: %d\nfailed:    %d\n", s.ProcessedCount, s.FailedCount)
	for _, e := range s.Errors {
		fmt.Fprintf(out, "  %s: %v\n", e.ID, e.Err)
	}
}
