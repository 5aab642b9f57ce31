package runner

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bundlercompat/compat-runner/types"
)

// ErrUnexplainedPartial is returned when a suite partially passes but
// produced no notes describing what is missing.
var ErrUnexplainedPartial = errors.New("partial result without notes")

// ErrInvalidSuite is returned when the harness rejected a suite file while
// registering its tests.
var ErrInvalidSuite = errors.New("invalid test suite")

// ToSuiteResult folds the outcomes of one suite file into a SuiteResult.
func ToSuiteResult(platform types.PlatformInfo, filename string, suiteRoot string, outcomes []types.TestOutcome) (*types.SuiteResult, error) {
	if fatal := FatalOutcomes(outcomes); len(fatal) > 0 {
		msg := "registration failed"
		if fatal[0].Error != nil {
			msg = fatal[0].Error.Message
		}
		return nil, fmt.Errorf("%w %s on %s: %s", ErrInvalidSuite, filename, platform.ID, msg)
	}

	group, subpath, err := CompatPath(filename, suiteRoot)
	if err != nil {
		return nil, err
	}

	result := &types.SuiteResult{
		Platform:      platform,
		Filename:      filename,
		CompatGroup:   group,
		CompatSubpath: subpath,
		Flags:         []string{},
		Results:       outcomes,
	}

	notes := make(map[string]struct{})
	var failureNotes []string

	for _, outcome := range outcomes {
		switch {
		case strings.HasPrefix(outcome.Description, types.NotePrefix):
			if outcome.Passed() {
				result.Pass++
				result.Total++
				notes[strings.TrimPrefix(outcome.Description, types.NotePrefix)] = struct{}{}
			}
		case strings.HasPrefix(outcome.Description, types.NoteFailPrefix):
			if !outcome.Passed() {
				notes[strings.TrimPrefix(outcome.Description, types.NoteFailPrefix)] = struct{}{}
			}
		default:
			result.Total++
			if outcome.Passed() {
				result.Pass++
			} else {
				result.Fail++
				if desc := strings.TrimSpace(outcome.Description); desc != "" {
					failureNotes = append(failureNotes, desc)
				}
			}
		}
	}

	result.OK = result.Total > 0 && result.Fail == 0
	result.Partial = result.Total > 0 && result.Fail > 0 && result.Pass > 0

	if result.Partial {
		for _, note := range failureNotes {
			notes[types.FailsPrefix+note] = struct{}{}
		}
		if len(notes) == 0 {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnexplainedPartial, filename, platform.ID)
		}
	}

	result.Notes = make([]string, 0, len(notes))
	for note := range notes {
		result.Notes = append(result.Notes, note)
	}
	sort.Strings(result.Notes)

	return result, nil
}

// CompatPath derives the compat group (directory below suiteRoot) and the
// feature subpath (dotted basename) of a suite file.
func CompatPath(filename string, suiteRoot string) (string, []string, error) {
	rel, err := filepath.Rel(filepath.Clean(suiteRoot), filepath.Clean(filename))
	if err != nil {
		return "", nil, fmt.Errorf("resolving %s against suite root %s: %w", filename, suiteRoot, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", nil, fmt.Errorf("suite %s is outside of suite root %s", filename, suiteRoot)
	}

	group := path.Dir(rel)
	if group == "." {
		group = ""
	}

	base, ok := strings.CutSuffix(path.Base(rel), SuiteFileSuffix)
	if !ok {
		return "", nil, fmt.Errorf("suite %s does not end in %s", filename, SuiteFileSuffix)
	}
	base, _, _ = strings.Cut(base, PlatformQualifier)

	if base == RootFeatureName {
		return group, []string{}, nil
	}
	return group, strings.Split(base, "."), nil
}
