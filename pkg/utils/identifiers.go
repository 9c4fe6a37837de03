package utils

import (
	"strings"

	"github.com/google/uuid"
)

// ShortID returns an 8-character unique identifier suitable for sessions,
// tasks, and conflict records.
func ShortID() string {
	return uuid.NewString()[:8]
}

// SanitizeIdentifier makes an identifier safe for filesystem paths and git
// branch names. Agent IDs like "developer:001" are the common offenders.
func SanitizeIdentifier(id string) string {
	sanitized := strings.ReplaceAll(id, ":", "-")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	sanitized = strings.ReplaceAll(sanitized, "/", "-")
	sanitized = strings.ReplaceAll(sanitized, "\\", "-")
	return sanitized
}

// SanitizeBranchName sanitizes identifiers for git branch naming.
// Alias for SanitizeIdentifier for clarity at call sites.
func SanitizeBranchName(name string) string {
	return SanitizeIdentifier(name)
}
