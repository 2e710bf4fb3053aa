package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/terms-cli/internal/store"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: runsLimit})
		if err != nil {
			return err
		}

		for _, r := range runs {
			completed := "-"
			if r.CompletedAt != nil {
				completed = r.CompletedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s  %-10s  stage=%-10s  started=%s  completed=%s\n",
				r.ID, r.Status, r.Stage, r.StartedAt.Format("2006-01-02 15:04:05"), completed)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show one run's stage, progress, stats, and logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("run:      %s\n", run.ID)
		fmt.Printf("status:   %s\n", run.Status)
		fmt.Printf("stage:    %s\n", run.Stage)
		fmt.Printf("progress: %.0f%%\n", run.Progress*100)
		if run.Error != "" {
			fmt.Printf("error:    %s\n", run.Error)
		}
		for k, v := range run.Stats {
			fmt.Printf("  %s: %d\n", k, v)
		}
		fmt.Println("logs:")
		for _, e := range run.Logs {
			fmt.Printf("  %s\n", e)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "max runs to list")
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(statusCmd)
}
