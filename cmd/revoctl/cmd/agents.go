package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

type agentStatsRow struct {
	AgentName string `json:"agent_name"`
	Queued    int    `json:"queued"`
	Running   int    `json:"running"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect per-agent run counts",
}

var agentsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run counts grouped by agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		var body struct {
			Items []agentStatsRow `json:"items"`
		}
		if err := fetchJSON("GET", "/v1/metrics/agents", nil, &body); err != nil {
			return err
		}
		if outputJSON {
			printOutput(body)
			return nil
		}
		fmt.Printf("%-22s %8s %8s %10s %8s %8s\n", "AGENT", "QUEUED", "RUNNING", "SUCCEEDED", "FAILED", "TOTAL")
		for _, row := range body.Items {
			fmt.Printf("%-22s %8d %8d %10d %8d %8d\n",
				row.AgentName, row.Queued, row.Running, row.Succeeded, row.Failed, row.Total)
		}
		return nil
	},
}

func init() {
	agentsCmd.AddCommand(agentsStatsCmd)
	rootCmd.AddCommand(agentsCmd)
}
