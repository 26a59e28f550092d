package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/wardsync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending changes to the records service",
	Long: `Run one sync pass: every queued change is pushed in order, parents
before children. Changes that keep failing are moved to the stuck list.`,
	Example: `  wardsync sync
  wardsync sync --timeout 2m --json`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var syncTimeout time.Duration

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 60*time.Second, "Give up waiting after this long")
}

func runSync(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	cfg := client.Config()
	if cfg.IsOffline() {
		return fmt.Errorf("no records service configured: set --server-url or WARDSYNC_SERVER_URL")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
	defer cancel()

	// With a heartbeat configured the client starts offline; one health check decides.
	if !client.Online() {
		client.SetOnline(client.HealthCheck(ctx).RemoteReachable)
	}

	var result *wardsync.PassResult
	start := time.Now()
	err = runWithSpinner(cmd.ErrOrStderr(), "Synchronizing", func() error {
		var err error
		result, err = client.Sync(ctx)
		return err
	})
	switch {
	case errors.Is(err, wardsync.ErrOffline):
		return fmt.Errorf("records service unreachable; changes stay queued")
	case errors.Is(err, wardsync.ErrUnauthorized):
		return fmt.Errorf("records service rejected the API key: %w", err)
	case err != nil:
		if result != nil && !outputJSON {
			_ = outputPassResult(cmd, result, time.Since(start))
		}
		return fmt.Errorf("sync: %w", err)
	}
	return outputPassResult(cmd, result, time.Since(start))
}
