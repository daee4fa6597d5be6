package config

import (
	"regexp"
	"strings"
)

const DefaultProfile = "default"

var (
	validProfileRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)
	invalidChars   = regexp.MustCompile(`[^a-z0-9_-]+`)
	edgeDashes     = regexp.MustCompile(`^-+|-+$`)
)

// NormalizeProfile converts a user-provided profile name into a key-safe
// namespace:
//   - lowercase, at most 32 chars
//   - only [a-z0-9_-]; other runs become "-"
//   - leading/trailing dashes stripped
//   - empty result is "default"
func NormalizeProfile(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return DefaultProfile
	}
	if validProfileRe.MatchString(lower) {
		return lower
	}

	result := invalidChars.ReplaceAllString(lower, "-")
	result = edgeDashes.ReplaceAllString(result, "")
	if len(result) > 32 {
		result = strings.TrimRight(result[:32], "-")
	}
	if result == "" {
		return DefaultProfile
	}
	return result
}
