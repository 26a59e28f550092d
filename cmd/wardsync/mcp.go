package main

import (
	"github.com/hyperengineering/wardsync"
	wardsyncmcp "github.com/hyperengineering/wardsync/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for assistant integration",
	Long: `Start a Model Context Protocol (MCP) server over stdio.

The server keeps one client open for its lifetime and runs background sync:
every write is pushed as soon as the device is online, and the queue is
retried on a timer and whenever the records service becomes reachable again.

Example configuration:

  {
    "mcpServers": {
      "wardsync": {
        "command": "wardsync",
        "args": ["mcp"],
        "env": {
          "WARDSYNC_PROFILE": "clinic-north",
          "WARDSYNC_SERVER_URL": "https://records.example.org",
          "WARDSYNC_API_KEY": "..."
        }
      }
    }
  }

Environment variables:
  WARDSYNC_PROFILE             Clinic profile (default: "default")
  WARDSYNC_DB_PATH             Local database path (overrides the profile path)
  WARDSYNC_SERVER_URL          Records service URL (optional, enables sync)
  WARDSYNC_API_KEY             Records service API key (required with a URL)
  WARDSYNC_DEVICE_ID           Device identifier sent with every request
  WARDSYNC_SYNC_INTERVAL       Periodic sync interval (default: 5m)
  WARDSYNC_HEARTBEAT_INTERVAL  Connectivity heartbeat interval (default: off)`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.AutoSync = true

	client, err := wardsync.New(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Start(cmd.Context()); err != nil {
		return err
	}

	return wardsyncmcp.NewServer(client).Run()
}
