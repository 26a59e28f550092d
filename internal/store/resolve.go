package store

import (
	"fmt"
	"os"
)

// ProfileEnv names the environment variable consulted by ResolveProfile.
const ProfileEnv = "WARDSYNC_PROFILE"

// ResolveProfile determines the profile ID to use.
// Priority: explicit > WARDSYNC_PROFILE env > "default"
func ResolveProfile(explicit string) (string, error) {
	if explicit != "" {
		if err := ValidateProfileID(explicit); err != nil {
			return "", fmt.Errorf("invalid profile %q: %w", explicit, err)
		}
		return explicit, nil
	}

	if env := os.Getenv(ProfileEnv); env != "" {
		if err := ValidateProfileID(env); err != nil {
			return "", fmt.Errorf("invalid %s %q: %w", ProfileEnv, env, err)
		}
		return env, nil
	}

	return DefaultProfile, nil
}
