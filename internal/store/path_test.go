package store_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperengineering/wardsync/internal/store"
)

func TestEncodeProfilePath(t *testing.T) {
	tests := []struct {
		name     string
		profile  string
		expected string
	}{
		{"simple", "northside", "northside"},
		{"with slash", "northside/ward-3", "northside__ward-3"},
		{"no change needed", "clinic42", "clinic42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := store.EncodeProfilePath(tt.profile)
			if got != tt.expected {
				t.Errorf("EncodeProfilePath(%q) = %q, want %q", tt.profile, got, tt.expected)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, id := range []string{"default", "northside/ward-3", "clinic42"} {
		t.Run(id, func(t *testing.T) {
			decoded := store.DecodeProfilePath(store.EncodeProfilePath(id))
			if decoded != id {
				t.Errorf("roundtrip failed: %q -> %q", id, decoded)
			}
		})
	}
}

func TestDefaultDataRoot(t *testing.T) {
	t.Setenv(store.HomeEnv, "")

	root := store.DefaultDataRoot()
	if !strings.Contains(root, ".wardsync") {
		t.Errorf("DefaultDataRoot() = %q, should contain .wardsync", root)
	}
	if !strings.HasSuffix(root, "profiles") {
		t.Errorf("DefaultDataRoot() = %q, should end with profiles", root)
	}
	if !filepath.IsAbs(root) {
		t.Errorf("DefaultDataRoot() = %q, should be absolute path", root)
	}
}

func TestDefaultDataRoot_HomeOverride(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv(store.HomeEnv, tmp)

	root := store.DefaultDataRoot()
	expected := filepath.Join(tmp, "profiles")
	if root != expected {
		t.Errorf("DefaultDataRoot() = %q, want %q", root, expected)
	}
}

func TestDefaultDataRoot_EmptyHomeOverrideFallsBack(t *testing.T) {
	t.Setenv(store.HomeEnv, "")

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("cannot determine home directory: %v", err)
	}
	expected := filepath.Join(home, ".wardsync", "profiles")
	if root := store.DefaultDataRoot(); root != expected {
		t.Errorf("DefaultDataRoot() = %q, want %q", root, expected)
	}
}

func TestProfileDBPath(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv(store.HomeEnv, tmp)

	got := store.ProfileDBPath("northside/ward-3")
	expected := filepath.Join(tmp, "profiles", "northside__ward-3", "wardsync.db")
	if got != expected {
		t.Errorf("ProfileDBPath() = %q, want %q", got, expected)
	}
}
