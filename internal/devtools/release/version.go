package release

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// VersionFile holds the project version at the repository root.
const VersionFile = "VERSION"

// Bump is the kind of release being made.
type Bump string

const (
	Major Bump = "major"
	Minor Bump = "minor"
	Patch Bump = "patch"
)

// Bumps lists the release kinds in prompt order.
var Bumps = []Bump{Major, Minor, Patch}

// ParseBump accepts "major", "minor" or "patch" in any case.
func ParseBump(s string) (Bump, error) {
	b := Bump(strings.ToLower(strings.TrimSpace(s)))
	switch b {
	case Major, Minor, Patch:
		return b, nil
	}
	return "", fmt.Errorf("unknown release type %q (want major, minor or patch)", s)
}

// Increment returns v bumped by b.
func Increment(v *semver.Version, b Bump) (*semver.Version, error) {
	var next semver.Version
	switch b {
	case Major:
		next = v.IncMajor()
	case Minor:
		next = v.IncMinor()
	case Patch:
		next = v.IncPatch()
	default:
		return nil, fmt.Errorf("unknown release type %q", b)
	}
	return &next, nil
}

// ReadVersion parses the version file in dir.
func ReadVersion(dir string) (*semver.Version, error) {
	data, err := os.ReadFile(filepath.Join(dir, VersionFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", VersionFile, err)
	}
	v, err := semver.StrictNewVersion(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", VersionFile, err)
	}
	return v, nil
}

// WriteVersion replaces the version file in dir.
func WriteVersion(dir string, v *semver.Version) error {
	if err := os.WriteFile(filepath.Join(dir, VersionFile), []byte(v.String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", VersionFile, err)
	}
	return nil
}
