package testlist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/bundlercompat/compat-runner/runner"
)

// FindSuites expands glob patterns (relative to workingDir, "**" allowed)
// into the suite files to run on platformID.
//
// A file named X~{env}.test.js only runs on the platform named env, and
// replaces its sibling X.test.js there. Non-suite files are ignored. The
// result is absolute, sorted and free of duplicates.
func FindSuites(patterns []string, workingDir string, platformID string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("expected test file patterns")
	}

	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(workingDir, pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			suite, ok := selectSuite(match, platformID)
			if ok {
				seen[suite] = struct{}{}
			}
		}
	}

	suites := make([]string, 0, len(seen))
	for suite := range seen {
		suites = append(suites, suite)
	}
	sort.Strings(suites)
	return suites, nil
}

// selectSuite maps a matched file to the suite that runs on platformID.
func selectSuite(match string, platformID string) (string, bool) {
	match, err := filepath.Abs(match)
	if err != nil {
		return "", false
	}
	dir, base := filepath.Split(match)
	stem, ok := strings.CutSuffix(base, runner.SuiteFileSuffix)
	if !ok {
		return "", false
	}

	if _, env, qualified := strings.Cut(stem, runner.PlatformQualifier); qualified {
		return match, env == platformID
	}

	override := filepath.Join(dir, stem+runner.PlatformQualifier+platformID+runner.SuiteFileSuffix)
	if info, err := os.Stat(override); err == nil && !info.IsDir() {
		return override, true
	}
	return match, true
}
