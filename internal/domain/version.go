package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a four-part release identifier ordered by (major, minor, build, revision)
type Version struct {
	Major    int
	Minor    int
	Build    int
	Revision int
}

// NewVersion builds a Version from its components
func NewVersion(major, minor, build, revision int) Version {
	return Version{Major: major, Minor: minor, Build: build, Revision: revision}
}

// ParseVersion parses "1", "1.2", "1.2.3" or "1.2.3.4" (an optional "v" prefix is allowed).
// Missing components are zero.
func ParseVersion(s string) (Version, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "v")
	if trimmed == "" {
		return Version{}, NewAppError(ErrInvalidInput, "Version is empty", 400, map[string]any{"version": s})
	}

	parts := strings.Split(trimmed, ".")
	if len(parts) > 4 {
		return Version{}, NewAppError(ErrInvalidInput, "Version has more than four components", 400, map[string]any{"version": s})
	}

	var nums [4]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Version{}, NewAppErrorWithCause(ErrInvalidInput, "Invalid version component", 400, err, map[string]any{
				"version":   s,
				"component": part,
			})
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Build: nums[2], Revision: nums[3]}, nil
}

// MustParseVersion is like ParseVersion but panics on error. Intended for fixtures.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// VersionFromSlice converts the wire form [major, minor, build, revision]
func VersionFromSlice(parts []int) (Version, error) {
	if len(parts) != 4 {
		return Version{}, NewAppError(ErrInvalidInput, "Version must have exactly four components", 400, map[string]any{"components": len(parts)})
	}
	for _, p := range parts {
		if p < 0 {
			return Version{}, NewAppError(ErrInvalidInput, "Version components must be non-negative", 400, map[string]any{"components": parts})
		}
	}
	return Version{Major: parts[0], Minor: parts[1], Build: parts[2], Revision: parts[3]}, nil
}

// Slice returns the wire form [major, minor, build, revision]
func (v Version) Slice() []int {
	return []int{v.Major, v.Minor, v.Build, v.Revision}
}

// String returns the dotted representation, e.g. "1.0.3.3534"
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

// MarshalText encodes the dotted form so versions read naturally in JSON output
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText parses the dotted form
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Compare returns -1 if v < other, 0 if equal, 1 if v > other
func (v Version) Compare(other Version) int {
	a := [4]int{v.Major, v.Minor, v.Build, v.Revision}
	b := [4]int{other.Major, other.Minor, other.Build, other.Revision}
	for i := range a {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

// IsNewerThan returns true if this version is newer than the other
func (v Version) IsNewerThan(other Version) bool {
	return v.Compare(other) > 0
}

// IsOlderThan returns true if this version is older than the other
func (v Version) IsOlderThan(other Version) bool {
	return v.Compare(other) < 0
}

// NextRevision returns the version with the revision incremented
func (v Version) NextRevision() Version {
	v.Revision++
	return v
}

// MaxVersion returns the greatest of the given versions, and false if there are none
func MaxVersion(versions ...Version) (Version, bool) {
	if len(versions) == 0 {
		return Version{}, false
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if v.IsNewerThan(latest) {
			latest = v
		}
	}
	return latest, true
}
