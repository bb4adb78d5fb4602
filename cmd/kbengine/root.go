package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pawrescue/kbengine/internal/config"
	logpkg "github.com/pawrescue/kbengine/internal/logger"
)

var (
	envName string
	cfgFile string
	envFile string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kbengine",
	Short: "Vector knowledge retrieval for the pet-rescue assistant",
	Long: `kbengine stores knowledge base entries as embeddings and retrieves the
most relevant ones for an assistant question.

Example usage:
  kbengine seed --file config/knowledge.yaml
  kbengine query "how do I introduce a rescue cat to my dog?"
  kbengine serve --seed config/knowledge.yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		if envName == "" {
			envName = config.GetEnv()
		}

		var err error
		if cfgFile != "" {
			cfg, err = config.LoadFile(cfgFile)
		} else {
			cfg, err = config.Load(envName)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err = logpkg.NewLogger(envName, cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "environment: local, dev, prod (default is $ENV or local)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config/<env>.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
}
