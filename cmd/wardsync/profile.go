package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hyperengineering/wardsync"
	"github.com/hyperengineering/wardsync/internal/store"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect clinic profiles",
	Long: `Each clinic profile has its own local database under the data root
($WARDSYNC_HOME/profiles, default ~/.wardsync/profiles).`,
	Example: `  wardsync profile list
  wardsync profile info northside/ward-3`,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local profiles",
	Args:  cobra.NoArgs,
	RunE:  runProfileList,
}

var profileInfoCmd = &cobra.Command{
	Use:   "info [profile]",
	Short: "Show profile details",
	Long: `Show the database location and sync statistics of a profile.
Without an argument, shows the profile resolved from --profile or the environment.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProfileInfo,
}

func init() {
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileInfoCmd)
}

// ProfileEntry is one profile in list and info output.
type ProfileEntry struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	Patients int       `json:"patients"`
	Pending  int       `json:"pending"`
	Stuck    int       `json:"stuck"`
	LastSync time.Time `json:"last_sync,omitempty"`
}

// ProfileListResult for JSON output.
type ProfileListResult struct {
	Profiles []ProfileEntry `json:"profiles"`
	Total    int            `json:"total"`
}

func inspectProfile(ctx context.Context, id, dbPath string) (ProfileEntry, error) {
	entry := ProfileEntry{ID: id, Path: dbPath}
	s, err := wardsync.NewStore(dbPath)
	if err != nil {
		return entry, err
	}
	defer s.Close()

	stats, err := s.Stats(ctx)
	if err != nil {
		return entry, err
	}
	entry.Patients = stats.Patients
	entry.Pending = stats.PendingSync
	entry.Stuck = stats.Stuck
	entry.LastSync = stats.LastSync
	return entry, nil
}

func runProfileList(cmd *cobra.Command, args []string) error {
	root := store.DefaultDataRoot()
	entries, err := os.ReadDir(root)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read profiles directory: %w", err)
	}

	profiles := []ProfileEntry{}
	for _, dirEntry := range entries {
		if !dirEntry.IsDir() {
			continue
		}
		dbPath := filepath.Join(root, dirEntry.Name(), "wardsync.db")
		if _, err := os.Stat(dbPath); err != nil {
			continue
		}
		entry, err := inspectProfile(cmd.Context(), store.DecodeProfilePath(dirEntry.Name()), dbPath)
		if err != nil {
			continue
		}
		profiles = append(profiles, entry)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })

	if outputJSON {
		return outputAsJSON(cmd, ProfileListResult{Profiles: profiles, Total: len(profiles)})
	}

	out := cmd.OutOrStdout()
	if len(profiles) == 0 {
		printWarning(out, "No profiles found under %s", root)
		printMuted(out, "A profile is created on first use: wardsync --profile <id> patient add ...")
		return nil
	}

	printInfo(out, "Profiles (%d):", len(profiles))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%-30s %9s %8s %6s %15s\n", "PROFILE", "PATIENTS", "PENDING", "STUCK", "LAST SYNC")
	fmt.Fprintf(out, "%-30s %9s %8s %6s %15s\n", strings.Repeat("-", 30), strings.Repeat("-", 9),
		strings.Repeat("-", 8), strings.Repeat("-", 6), strings.Repeat("-", 15))
	for _, p := range profiles {
		last := "never"
		if !p.LastSync.IsZero() {
			last = formatRelativeTime(p.LastSync)
		}
		fmt.Fprintf(out, "%-30s %9d %8d %6d %15s\n", p.ID, p.Patients, p.Pending, p.Stuck, last)
	}
	return nil
}

func runProfileInfo(cmd *cobra.Command, args []string) error {
	explicit := cfgProfile
	if len(args) == 1 {
		explicit = args[0]
	}
	id, err := store.ResolveProfile(explicit)
	if err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	dbPath := store.ProfileDBPath(id)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("profile %q has no database at %s", id, dbPath)
	}
	entry, err := inspectProfile(cmd.Context(), id, dbPath)
	if err != nil {
		return fmt.Errorf("open profile %q: %w", id, err)
	}

	if outputJSON {
		return outputAsJSON(cmd, entry)
	}
	out := cmd.OutOrStdout()
	printInfo(out, "Profile %s", entry.ID)
	printField(out, 11, "Database:", entry.Path)
	printField(out, 11, "Patients:", entry.Patients)
	printField(out, 11, "Pending:", entry.Pending)
	printField(out, 11, "Stuck:", entry.Stuck)
	printField(out, 11, "Last sync:", formatTimestamp(entry.LastSync))
	return nil
}
