package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/asyncworker/internal/cli"
	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/spf13/cobra"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <type>",
	Short: "Submit a job",
	Example: `  asyncworker enqueue process --payload '{"command":"backup","args":{"target":"db"}}'
  asyncworker enqueue process --queue low --delay 10m --ttl 1h --payload '{"command":"report"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, _ := cmd.Flags().GetString("queue")
		payloadJSON, _ := cmd.Flags().GetString("payload")
		delay, _ := cmd.Flags().GetDuration("delay")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")

		payload := map[string]any{}
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
				return fmt.Errorf("invalid --payload: %w", err)
			}
		}

		job := domain.NewJob(args[0], payload)
		job.Queue = queue
		job.MaxAttempts = maxAttempts
		now := time.Now()
		if delay > 0 {
			job.ReadyAt = now.Add(delay)
		}
		if ttl > 0 {
			job.ExpiresAt = now.Add(delay + ttl)
		}

		w, _, err := cli.OpenWorker(runOptions(cmd))
		if err != nil {
			return err
		}
		defer w.Close()

		if err := w.Enqueue(cmd.Context(), job); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), job.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
	enqueueCmd.Flags().StringP("queue", "q", domain.DefaultQueue, "Queue name")
	enqueueCmd.Flags().String("payload", "", "Job payload as a JSON object")
	enqueueCmd.Flags().Duration("delay", 0, "Hold the job back for this long")
	enqueueCmd.Flags().Duration("ttl", 0, "Discard the job if it is not picked up this long after it becomes ready")
	enqueueCmd.Flags().Int("max-attempts", 0, "Attempts before the job is discarded (0 uses the configured default)")
}
