package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/validate"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the low-confidence review queue",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending review items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		items, err := env.Review.Pending(ctx, 100, 0)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("review queue is empty")
			return nil
		}
		for _, it := range items {
			fmt.Printf("%s  result=%s  value=%q  queued=%s\n",
				it.ID, it.ResultID, it.OriginalValue, it.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var decideOpts struct {
	action   string
	value    string
	reviewer string
	comment  string
}

var reviewDecideCmd = &cobra.Command{
	Use:   "decide <item-id>",
	Short: "Approve or reject one review item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		item, err := env.Review.Decide(ctx, args[0], validate.Decision{
			Action:         model.ReviewAction(decideOpts.action),
			CorrectedValue: decideOpts.value,
			Reviewer:       decideOpts.reviewer,
			Comment:        decideOpts.comment,
		})
		if err != nil {
			return err
		}

		fmt.Printf("item %s: %s\n", item.ID, item.Status)
		return nil
	},
}

func init() {
	reviewDecideCmd.Flags().StringVar(&decideOpts.action, "action", "", "approve or reject")
	reviewDecideCmd.Flags().StringVar(&decideOpts.value, "value", "", "corrected value (required for reject)")
	reviewDecideCmd.Flags().StringVar(&decideOpts.reviewer, "reviewer", "", "reviewer name")
	reviewDecideCmd.Flags().StringVar(&decideOpts.comment, "comment", "", "optional comment")
	_ = reviewDecideCmd.MarkFlagRequired("action")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewDecideCmd)
	rootCmd.AddCommand(reviewCmd)
}
