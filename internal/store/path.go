package store

import (
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the ~/.wardsync base directory.
const HomeEnv = "WARDSYNC_HOME"

// DefaultDataRoot returns the root directory for all profiles.
// Defaults to ~/.wardsync/profiles, falls back to ./.wardsync/profiles if home dir unavailable.
func DefaultDataRoot() string {
	if base := os.Getenv(HomeEnv); base != "" {
		return filepath.Join(base, "profiles")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".wardsync", "profiles")
	}
	return filepath.Join(home, ".wardsync", "profiles")
}

// EncodeProfilePath encodes a profile ID for filesystem use.
// Replaces "/" with "__" for path-style profile IDs.
func EncodeProfilePath(profile string) string {
	return strings.ReplaceAll(profile, "/", "__")
}

// DecodeProfilePath decodes an encoded profile directory name back to a profile ID.
func DecodeProfilePath(encoded string) string {
	return strings.ReplaceAll(encoded, "__", "/")
}

// ProfileDBPath returns the full path to a profile's database file.
// Example: ProfileDBPath("northside/ward-3") -> ~/.wardsync/profiles/northside__ward-3/wardsync.db
func ProfileDBPath(profile string) string {
	return filepath.Join(DefaultDataRoot(), EncodeProfilePath(profile), "wardsync.db")
}
