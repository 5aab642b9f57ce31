package compatdata

import (
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

// Range qualifiers allowed in front of a version label.
const (
	QualifierBefore      = "<"
	QualifierAtOrBefore  = "≤"
	baselineVersionLabel = "0.0.0"
)

var baselineVersion = semver.MustParse(baselineVersionLabel)

// ParseVersionLabel splits a label such as "<22" into its range qualifier and
// a semantic version. Short forms like "1" and "1.2" are accepted.
func ParseVersionLabel(label string) (string, semver.Version, error) {
	qualifier := ""
	rest := strings.TrimSpace(label)
	for _, q := range []string{QualifierAtOrBefore, QualifierBefore} {
		if r, ok := strings.CutPrefix(rest, q); ok {
			qualifier, rest = q, r
			break
		}
	}
	v, err := semver.ParseTolerant(rest)
	if err != nil {
		return "", semver.Version{}, fmt.Errorf("%w: unparseable version %q: %v", ErrInconsistentHistory, label, err)
	}
	return qualifier, v, nil
}

// nextPatch is used to place a "true" statement directly after the
// previously known version.
func nextPatch(v semver.Version) semver.Version {
	next := semver.Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch}
	next.Patch++
	return next
}
