package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"

	"github.com/revohq/revoflow/internal/taskmsg"
)

var (
	triggerNsqdAddr string
	triggerTopic    string
	triggerTenant   string
	triggerUser     string
	triggerPayload  string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <task-key>",
	Short: "Publish a task trigger to the tasks topic",
	Long: `Publish a task message to NSQ for the worker to execute, e.g.

  revoctl trigger agents.sdr --tenant acme
  revoctl trigger agents.pipeline --payload '{"dry_run":true}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg := taskmsg.Message{
			TaskKey:     args[0],
			TenantID:    triggerTenant,
			UserID:      triggerUser,
			PublishedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if triggerPayload != "" {
			var payload map[string]any
			if err := json.Unmarshal([]byte(triggerPayload), &payload); err != nil {
				return fmt.Errorf("invalid payload JSON: %w", err)
			}
			msg.Payload = payload
		}

		body, err := json.Marshal(msg)
		if err != nil {
			return err
		}

		producer, err := nsq.NewProducer(triggerNsqdAddr, nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("nsq producer creation failed: %w", err)
		}
		defer producer.Stop()

		if err := producer.Publish(triggerTopic, body); err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}
		fmt.Printf("published %s to %s\n", msg.TaskKey, triggerTopic)
		return nil
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerNsqdAddr, "nsqd", "localhost:4150", "nsqd TCP address")
	triggerCmd.Flags().StringVar(&triggerTopic, "topic", "tasks", "NSQ topic to publish to")
	triggerCmd.Flags().StringVar(&triggerTenant, "tenant", "system", "tenant id for the run")
	triggerCmd.Flags().StringVar(&triggerUser, "user", "revoctl", "user id for the run")
	triggerCmd.Flags().StringVar(&triggerPayload, "payload", "", "optional JSON payload")
	rootCmd.AddCommand(triggerCmd)
}
