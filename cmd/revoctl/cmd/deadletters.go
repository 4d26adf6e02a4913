package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/revohq/revoflow/internal/engine"
)

var dlqLimit int

var deadlettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "Browse the dead-letter queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		var body struct {
			Items []engine.DeadLetter `json:"items"`
			Total int                 `json:"total"`
		}
		path := fmt.Sprintf("/v1/deadletters?limit=%d", dlqLimit)
		if err := fetchJSON("GET", path, nil, &body); err != nil {
			return err
		}
		if outputJSON {
			printOutput(body)
			return nil
		}
		fmt.Printf("%d dead letters (showing %d)\n", body.Total, len(body.Items))
		for _, dl := range body.Items {
			fmt.Printf("  %s  %-20s reason=%s retries=%d  %s\n",
				dl.RunID, dl.TaskKey, dl.Reason, dl.RetryCount, dl.FailedAt)
		}
		return nil
	},
}

func init() {
	deadlettersCmd.Flags().IntVar(&dlqLimit, "limit", 100, "maximum dead letters to return")
	rootCmd.AddCommand(deadlettersCmd)
}
