package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/revohq/revoflow/internal/engine"
	"github.com/revohq/revoflow/internal/runs"
)

var (
	runsLimit  int
	runsOffset int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect agent run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		var page struct {
			Items  []runs.Record `json:"items"`
			Total  int           `json:"total"`
			Limit  int           `json:"limit"`
			Offset int           `json:"offset"`
		}
		path := fmt.Sprintf("/v1/runs?limit=%d&offset=%d", runsLimit, runsOffset)
		if err := fetchJSON("GET", path, nil, &page); err != nil {
			return err
		}
		if outputJSON {
			printOutput(page)
			return nil
		}
		fmt.Printf("%d runs (showing %d from offset %d)\n", page.Total, len(page.Items), page.Offset)
		for _, rec := range page.Items {
			fmt.Printf("  %s  %-20s %-10s retries=%d  %s\n",
				rec.RunID, rec.TaskKey, rec.Status, rec.RetryCount, rec.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show a single run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var rec runs.Record
		if err := fetchJSON("GET", "/v1/runs/"+args[0], nil, &rec); err != nil {
			return err
		}
		printOutput(rec)
		return nil
	},
}

var runsRetryCmd = &cobra.Command{
	Use:   "retry <run-id>",
	Short: "Re-execute the task of a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result engine.Result
		if err := fetchJSON("POST", "/v1/runs/"+args[0]+"/retry", nil, &result); err != nil {
			return err
		}
		if outputJSON {
			printOutput(result)
			return nil
		}
		fmt.Printf("retried as run %s: %s (retries=%d)\n", result.RunID, result.Status, result.RetryCount)
		if result.Error != "" {
			fmt.Printf("  error: %s\n", result.Error)
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 50, "maximum runs to return")
	runsListCmd.Flags().IntVar(&runsOffset, "offset", 0, "pagination offset")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)
	runsCmd.AddCommand(runsRetryCmd)
	rootCmd.AddCommand(runsCmd)
}
