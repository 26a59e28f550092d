package main

import (
	"fmt"
	"strconv"

	"github.com/hyperengineering/wardsync"
	"github.com/spf13/cobra"
)

var (
	cfgDBPath    string
	cfgProfile   string
	cfgServerURL string
	cfgAPIKey    string
	cfgFile      string
	cfgOffline   bool
	cfgDebug     bool
	outputJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "wardsync",
	Short: "WardSync - offline-first clinical records",
	Long: `WardSync keeps patients, treatment plans and plan steps in a local
database and pushes every change to the clinical records service once a
connection is available.

Writes never wait for the network. Each one is queued and replayed in order,
parents before children, by the sync engine.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if isTTY() && !outputJSON {
			fmt.Fprintln(cmd.OutOrStdout(), renderBannerWithTagline())
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return cmd.Help()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgDBPath, "db", "", "Path to the local database (default: derived from --profile)")
	pf.StringVar(&cfgProfile, "profile", "", "Clinic profile (default: $WARDSYNC_PROFILE or \"default\")")
	pf.StringVar(&cfgServerURL, "server-url", "", "Base URL of the records service")
	pf.StringVar(&cfgAPIKey, "api-key", "", "API key for the records service")
	pf.StringVar(&cfgFile, "config", "", "YAML config file")
	pf.BoolVar(&cfgOffline, "offline", false, "Never contact the records service")
	pf.BoolVar(&cfgDebug, "debug", false, "Log remote calls and sync decisions")
	pf.BoolVar(&outputJSON, "json", false, "Output as JSON")

	rootCmd.AddCommand(patientCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(stuckCmd)
	rootCmd.AddCommand(requeueCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(profileCmd)
}

// loadConfig resolves configuration with precedence flags > environment >
// config file > defaults.
func loadConfig() (wardsync.Config, error) {
	cfg := wardsync.Config{
		LocalPath:   cfgDBPath,
		Profile:     cfgProfile,
		ServerURL:   cfgServerURL,
		APIKey:      cfgAPIKey,
		OfflineMode: cfgOffline,
		Debug:       cfgDebug,
	}.Merge(wardsync.ConfigFromEnv())

	if cfgFile != "" {
		fileCfg, err := wardsync.LoadConfigFile(cfgFile)
		if err != nil {
			return wardsync.Config{}, err
		}
		cfg = cfg.Merge(fileCfg)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return wardsync.Config{}, err
	}
	return cfg, nil
}

func newClient() (*wardsync.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	client, err := wardsync.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize client: %w", err)
	}
	return client, nil
}

func parseLocalID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", s)
	}
	return id, nil
}
