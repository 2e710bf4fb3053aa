package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/terms-cli/internal/monitoring"
	"github.com/sells-group/terms-cli/internal/pipeline"
	"github.com/sells-group/terms-cli/internal/transfer"
)

var exportTransfer bool

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the next output batch of verified results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		batch, err := pipeline.WriteBatch(ctx, st, cfg.Pipeline.ExportDir)
		if err != nil {
			return err
		}
		if batch.Rows == 0 {
			fmt.Println("no verified results awaiting export")
			return nil
		}
		fmt.Printf("wrote %s (%d rows)\n", batch.Path, batch.Rows)

		if !exportTransfer {
			return nil
		}
		sender, err := transfer.NewSender(cfg.Transfer)
		if err != nil {
			return err
		}
		gateway := transfer.NewGateway(sender, st, monitoring.NewAlerter(cfg.Alerting))
		tl, err := gateway.Transfer(ctx, batch.Path)
		if err != nil {
			return err
		}
		fmt.Printf("transferred %s (sha256 %s, %d attempt(s))\n", tl.Filename, tl.ChecksumSHA256, tl.Attempts)
		return nil
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportTransfer, "transfer", false, "send the batch after writing it")
	rootCmd.AddCommand(exportCmd)
}
