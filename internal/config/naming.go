package config

import (
	"fmt"
	"regexp"
)

// MaxRunNameLength is the maximum length of a run name (DNS-compatible).
const MaxRunNameLength = 48

// RunNamePattern is the regex pattern for valid run names. Run names appear
// in Redis keys and container names, so they must be DNS-compatible:
// lowercase alphanumeric, hyphens allowed (but not at start/end).
var RunNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateRunName checks if a run name is valid according to DNS naming rules.
func ValidateRunName(name string) error {
	if name == "" {
		return fmt.Errorf("run name cannot be empty")
	}

	if len(name) > MaxRunNameLength {
		return fmt.Errorf("run name too long: %d characters (max: %d)", len(name), MaxRunNameLength)
	}

	if !RunNamePattern.MatchString(name) {
		return fmt.Errorf("invalid run name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}

	return nil
}
