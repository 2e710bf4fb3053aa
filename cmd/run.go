package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/terms-cli/internal/cost"
	"github.com/sells-group/terms-cli/internal/model"
)

var runOpts struct {
	provider    string
	secondary   string
	ensemble    bool
	productType string
	skipAcquire bool
	skipXfer    bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a full extraction pipeline run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Orchestrator.Run(ctx, model.RunOptions{
			Provider:          runOpts.provider,
			SecondaryProvider: runOpts.secondary,
			Ensemble:          runOpts.ensemble,
			ProductType:       runOpts.productType,
			SkipAcquisition:   runOpts.skipAcquire,
			SkipTransfer:      runOpts.skipXfer,
		})
		if err != nil {
			return err
		}

		fmt.Printf("run %s finished: %s\n", run.ID, run.Status)
		for k, v := range run.Stats {
			fmt.Printf("  %s: %d\n", k, v)
		}
		usage := env.Providers.Usage().Snapshot()
		if len(usage) > 0 {
			calc := cost.NewCalculator(cost.DefaultRates())
			for _, u := range usage {
				fmt.Printf("  %s/%s: %d calls, %d in / %d out tokens\n",
					u.Provider, u.Model, u.Calls, u.InputTokens, u.OutputTokens)
			}
			fmt.Printf("  estimated LLM cost: $%.4f\n", calc.Total(usage))
		}
		if run.Status != model.RunStatusCompleted {
			zap.L().Warn("run did not complete", zap.String("status", string(run.Status)), zap.String("error", run.Error))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runOpts.provider, "provider", "gemini", "primary provider (gemini|openai|claude)")
	runCmd.Flags().StringVar(&runOpts.secondary, "secondary", "", "secondary provider for ensemble runs")
	runCmd.Flags().BoolVar(&runOpts.ensemble, "ensemble", false, "run two providers and score by consensus")
	runCmd.Flags().StringVar(&runOpts.productType, "product-type", "", "restrict the run to one product type")
	runCmd.Flags().BoolVar(&runOpts.skipAcquire, "skip-acquire", false, "reuse stored policies instead of acquiring")
	runCmd.Flags().BoolVar(&runOpts.skipXfer, "skip-transfer", false, "stop after writing the output batch")
	rootCmd.AddCommand(runCmd)
}
