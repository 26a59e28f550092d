// Package store resolves per-clinic profiles to their local SQLite files.
package store

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidProfileID indicates the profile ID format is invalid.
var ErrInvalidProfileID = errors.New("invalid profile ID: must be lowercase alphanumeric with hyphens, 1-2 path segments")

// profileIDRegex validates profile ID format.
// Format: <segment>[/<segment>]
// - Segments: lowercase alphanumeric and hyphens, 1-64 characters
// - No leading/trailing hyphens, no consecutive hyphens
var profileIDRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?(\/[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?)?$`)

// DefaultProfile is used when no profile is configured.
const DefaultProfile = "default"

// ValidateProfileID validates a profile ID such as "default" or "northside/ward-3".
func ValidateProfileID(id string) error {
	if id == "" || len(id) > 129 {
		return ErrInvalidProfileID
	}
	if strings.Contains(id, "--") {
		return ErrInvalidProfileID
	}
	if !profileIDRegex.MatchString(id) {
		return ErrInvalidProfileID
	}
	return nil
}
