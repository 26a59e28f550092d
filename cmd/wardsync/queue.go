package main

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/wardsync"
	"github.com/spf13/cobra"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List changes waiting to be pushed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		pending, err := client.Pending(cmd.Context())
		if err != nil {
			return fmt.Errorf("list pending: %w", err)
		}
		return outputPending(cmd, pending)
	},
}

var stuckCmd = &cobra.Command{
	Use:   "stuck",
	Short: "List changes that stopped retrying",
	Long: `List changes evicted from the sync queue, because the records service
rejected them, because they kept failing, or because their parent never
reached the server. Their records stay unsynced until requeued.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		failures, err := client.Stuck(cmd.Context())
		if err != nil {
			return fmt.Errorf("list stuck: %w", err)
		}
		return outputStuck(cmd, failures)
	},
}

var requeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Short: "Retry a stuck change",
	Long: `Return a stuck change to the sync queue at its original position, with
its attempt counters reset. The record's current contents are pushed.`,
	Example: `  wardsync stuck
  wardsync requeue 3`,
	Args: cobra.ExactArgs(1),
	RunE: runRequeue,
}

func runRequeue(cmd *cobra.Command, args []string) error {
	id, err := parseLocalID(args[0])
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	queueID, err := client.Requeue(cmd.Context(), id)
	if errors.Is(err, wardsync.ErrNotFound) {
		return fmt.Errorf("no stuck change with id %d", id)
	}
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}

	if outputJSON {
		return outputAsJSON(cmd, map[string]int64{"failure_id": id, "queue_id": queueID})
	}
	printSuccess(cmd.OutOrStdout(), "Requeued as queue entry %d", queueID)
	printMuted(cmd.OutOrStdout(), "Push it now with: wardsync sync")
	return nil
}
