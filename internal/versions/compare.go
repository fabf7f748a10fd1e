// Package versions compares app and snapshot schema versions.
package versions

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// IsNewerVersion reports whether candidate is strictly greater than current.
// Both must be valid semver; anything else is never considered newer, so
// untagged builds do not raise upgrade warnings.
func IsNewerVersion(candidate, current string) bool {
	c, err := semver.NewVersion(candidate)
	if err != nil {
		return false
	}
	cur, err := semver.NewVersion(current)
	if err != nil {
		return false
	}
	return c.GreaterThan(cur)
}

// SameMajor reports whether v shares the major version of current. Readers
// accept any minor or patch revision of their own major.
func SameMajor(v, current string) (bool, error) {
	theirs, err := semver.NewVersion(v)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", v, err)
	}
	ours, err := semver.NewVersion(current)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", current, err)
	}
	constraint, err := semver.NewConstraint(fmt.Sprintf("^%d", ours.Major()))
	if err != nil {
		return false, err
	}
	return constraint.Check(theirs), nil
}

// NewerMajor reports whether v is a valid version with a higher major than
// current.
func NewerMajor(v, current string) bool {
	theirs, err := semver.NewVersion(v)
	if err != nil {
		return false
	}
	ours, err := semver.NewVersion(current)
	if err != nil {
		return false
	}
	return theirs.Major() > ours.Major()
}
