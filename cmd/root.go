package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/terms-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "terms",
	Short: "Insurance policy attribute extraction pipeline",
	Long:  "Extracts structured coverage attributes from insurance policy documents via two-phase LLM extraction, maps them to canonical codes, routes low-confidence values to human review, and ships verified batches downstream.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
