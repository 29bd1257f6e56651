// Package protocol holds the bridge wire protocol version and its compatibility rules.
package protocol

import (
	"fmt"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "protocol:version"

const (
	// Version is the wire protocol version spoken by this module.
	Version = "1.0.0"
	// DefaultRange is the range of embedded-side versions a host accepts by default.
	DefaultRange = "^1.0.0"
)

// Compatible reports whether an announced version satisfies the given range.
// An empty version means the peer predates version announcements and is accepted.
// An empty range falls back to DefaultRange.
func Compatible(version, rng string) (bool, error) {
	if version == "" {
		return true, nil
	}
	if rng == "" {
		rng = DefaultRange
	}
	c, err := masterminds.NewConstraint(rng)
	if err != nil {
		return false, fmt.Errorf("%s - invalid range %q: %w", logPrefix, rng, err)
	}
	v, err := masterminds.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
	}
	return c.Check(v), nil
}

// ValidateRange checks that rng parses as a constraint.
func ValidateRange(rng string) error {
	if rng == "" {
		return nil
	}
	if _, err := masterminds.NewConstraint(rng); err != nil {
		return fmt.Errorf("%s - invalid range %q: %w", logPrefix, rng, err)
	}
	return nil
}
