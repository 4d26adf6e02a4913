package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stageMoveReason string

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Manage deal stages",
}

var stagesMoveCmd = &cobra.Command{
	Use:   "move <deal-id> <new-stage>",
	Short: "Move a deal to a new stage",
	Long: `Move a deal to a new stage through the transition guard, e.g.

  revoctl stages move deal-42 "Proposal Sent" --reason "manual review"

Illegal transitions are rejected by the server and leave the deal
unchanged.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{
			"new_stage": args[1],
			"reason":    stageMoveReason,
		}
		var out struct {
			DealID   string `json:"deal_id"`
			NewStage string `json:"new_stage"`
			Moved    bool   `json:"moved"`
		}
		if err := fetchJSON("POST", "/v1/deals/"+args[0]+"/transition", body, &out); err != nil {
			return err
		}
		if outputJSON {
			printOutput(out)
			return nil
		}
		fmt.Printf("deal %s moved to %s\n", out.DealID, out.NewStage)
		return nil
	},
}

func init() {
	stagesMoveCmd.Flags().StringVar(&stageMoveReason, "reason", "manual", "audit reason for the transition")
	stagesCmd.AddCommand(stagesMoveCmd)
	rootCmd.AddCommand(stagesCmd)
}
