package store_test

import (
	"strings"
	"testing"

	"github.com/hyperengineering/wardsync/internal/store"
)

func TestValidateProfileID(t *testing.T) {
	valid := []string{
		"default",
		"northside",
		"northside/ward-3",
		"a",
		"clinic-42",
		strings.Repeat("a", 64),
	}
	for _, id := range valid {
		if err := store.ValidateProfileID(id); err != nil {
			t.Errorf("ValidateProfileID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{
		"",
		"Northside",
		"-leading",
		"trailing-",
		"double--hyphen",
		"a/b/c",
		"has space",
		"under_score",
		strings.Repeat("a", 65),
	}
	for _, id := range invalid {
		if err := store.ValidateProfileID(id); err == nil {
			t.Errorf("ValidateProfileID(%q) = nil, want error", id)
		}
	}
}
