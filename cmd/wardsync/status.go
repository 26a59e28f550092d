package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/wardsync"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending changes and last sync",
	Example: `  wardsync status
  wardsync status --health`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var statusHealth bool

func init() {
	statusCmd.Flags().BoolVar(&statusHealth, "health", false, "Also check the store and the records service")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	st, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	stats, err := client.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	var health *wardsync.HealthStatus
	if statusHealth {
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		h := client.HealthCheck(hctx)
		health = &h
	}
	return outputStatus(cmd, st, stats, health)
}
