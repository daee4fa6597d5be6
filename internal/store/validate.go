package store

import "strings"

// MaxKeyLength is the maximum allowed length for an origin or template name.
// Hostnames are bounded by 253 chars; templates share the same limit.
const MaxKeyLength = 255

// ValidateOrigin checks that an origin is present and within MaxKeyLength.
func ValidateOrigin(origin string) error {
	if strings.TrimSpace(origin) == "" {
		return InvalidArgument("origin is required")
	}
	if len(origin) > MaxKeyLength {
		return InvalidArgument("origin too long: %d chars (max %d)", len(origin), MaxKeyLength)
	}
	return nil
}

// ValidateTemplateName checks that a template name is present and within MaxKeyLength.
func ValidateTemplateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return InvalidArgument("template name is required")
	}
	if len(name) > MaxKeyLength {
		return InvalidArgument("template name too long: %d chars (max %d)", len(name), MaxKeyLength)
	}
	return nil
}
