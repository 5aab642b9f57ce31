package runner

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bundlercompat/compat-runner/types"
)

var nodePlatform = types.PlatformInfo{ID: "nodejs", Kind: types.PlatformKindRuntime, Name: "Node.js", Version: "22.3.0"}

func passed(description string) types.TestOutcome {
	return types.TestOutcome{Description: description}
}

func failed(description, message string) types.TestOutcome {
	return types.TestOutcome{Description: description, Error: &types.OutcomeError{Message: message}}
}

func TestToSuiteResult(t *testing.T) {
	root := filepath.Join("/work", DefaultSuiteRoot)
	filename := filepath.Join(root, "javascript", "operators", "import_meta", "url.test.js")

	tests := []struct {
		name     string
		outcomes []types.TestOutcome
		status   string
		pass     int
		fail     int
		total    int
		notes    []string
	}{
		{
			name:     "all pass",
			outcomes: []types.TestOutcome{passed("a"), passed("b")},
			status:   "pass",
			pass:     2,
			total:    2,
			notes:    []string{},
		},
		{
			name:     "all fail",
			outcomes: []types.TestOutcome{failed("a", "x"), failed("b", "y")},
			status:   "fail",
			fail:     2,
			total:    2,
			notes:    []string{},
		},
		{
			name:     "no outcomes",
			outcomes: nil,
			status:   "fail",
			notes:    []string{},
		},
		{
			name:     "partial lists failing tests",
			outcomes: []types.TestOutcome{passed("a"), failed("b", "boom"), failed("c", "boom")},
			status:   "partial",
			pass:     1,
			fail:     2,
			total:    3,
			notes:    []string{"Fails: b", "Fails: c"},
		},
		{
			name:     "passing note counts as a pass",
			outcomes: []types.TestOutcome{passed("a"), passed("NOTE: Only in strict mode")},
			status:   "pass",
			pass:     2,
			total:    2,
			notes:    []string{"Only in strict mode"},
		},
		{
			name:     "failing note is ignored",
			outcomes: []types.TestOutcome{passed("a"), failed("NOTE: Only in strict mode", "nope")},
			status:   "pass",
			pass:     1,
			total:    1,
			notes:    []string{},
		},
		{
			name:     "failing fail-note adds a note",
			outcomes: []types.TestOutcome{passed("a"), failed("NOTE/FAIL: Requires a flag", "nope")},
			status:   "pass",
			pass:     1,
			total:    1,
			notes:    []string{"Requires a flag"},
		},
		{
			name:     "passing fail-note is ignored",
			outcomes: []types.TestOutcome{passed("a"), passed("NOTE/FAIL: Requires a flag")},
			status:   "pass",
			pass:     1,
			total:    1,
			notes:    []string{},
		},
		{
			name:     "duplicate notes collapse",
			outcomes: []types.TestOutcome{passed("NOTE: x"), passed("NOTE: x"), failed("NOTE/FAIL: x", "e")},
			status:   "pass",
			pass:     2,
			total:    2,
			notes:    []string{"x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ToSuiteResult(nodePlatform, filename, root, tt.outcomes)
			require.NoError(t, err)

			assert.Equal(t, tt.status, result.Status())
			assert.Equal(t, tt.pass, result.Pass)
			assert.Equal(t, tt.fail, result.Fail)
			assert.Equal(t, tt.total, result.Total)
			assert.Equal(t, tt.notes, result.Notes)
			assert.Equal(t, "javascript/operators/import_meta", result.CompatGroup)
			assert.Equal(t, []string{"url"}, result.CompatSubpath)
			assert.Equal(t, nodePlatform, result.Platform)
			assert.Equal(t, tt.outcomes, result.Results)
			assert.NoError(t, result.Validate())
		})
	}
}

func TestToSuiteResultUnexplainedPartial(t *testing.T) {
	root := filepath.Join("/work", DefaultSuiteRoot)
	filename := filepath.Join(root, "javascript", "a.test.js")

	// An anonymous failure cannot be named in a note.
	outcomes := []types.TestOutcome{
		passed("a"),
		failed("", "boom"),
	}
	_, err := ToSuiteResult(nodePlatform, filename, root, outcomes)
	require.ErrorIs(t, err, ErrUnexplainedPartial)

	outcomes = append(outcomes, passed("NOTE: Explained"))
	result, err := ToSuiteResult(nodePlatform, filename, root, outcomes)
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Equal(t, []string{"Explained"}, result.Notes)

	partial := &types.SuiteResult{Filename: filename, Pass: 1, Fail: 1, Total: 2, Partial: true}
	assert.Error(t, partial.Validate())
}

func TestToSuiteResultInvalidSuite(t *testing.T) {
	root := filepath.Join("/work", DefaultSuiteRoot)
	filename := filepath.Join(root, "javascript", "a.test.js")

	outcomes := []types.TestOutcome{
		passed("a"),
		{
			Description: RegisterDescription,
			Error:       &types.OutcomeError{Message: "Duplicate test with description: a"},
			Fatal:       true,
		},
	}
	_, err := ToSuiteResult(nodePlatform, filename, root, outcomes)
	require.ErrorIs(t, err, ErrInvalidSuite)
	assert.Contains(t, err.Error(), "Duplicate test with description: a")

	fatal := FatalOutcomes(outcomes)
	require.Len(t, fatal, 1)
	assert.Equal(t, RegisterDescription, fatal[0].Description)
}

func TestCompatPath(t *testing.T) {
	root := filepath.Join("/work", DefaultSuiteRoot)

	tests := []struct {
		name    string
		file    string
		group   string
		subpath []string
		wantErr bool
	}{
		{
			name:    "nested feature",
			file:    "javascript/operators/import_meta/url.test.js",
			group:   "javascript/operators/import_meta",
			subpath: []string{"url"},
		},
		{
			name:    "root feature",
			file:    "javascript/operators/import_meta/_.test.js",
			group:   "javascript/operators/import_meta",
			subpath: []string{},
		},
		{
			name:    "dotted subpath",
			file:    "javascript/builtins/Array/from.async.test.js",
			group:   "javascript/builtins/Array",
			subpath: []string{"from", "async"},
		},
		{
			name:    "platform override",
			file:    "javascript/operators/import_meta/url~vite.test.js",
			group:   "javascript/operators/import_meta",
			subpath: []string{"url"},
		},
		{
			name:    "root override",
			file:    "javascript/operators/import_meta/_~webpack.test.js",
			group:   "javascript/operators/import_meta",
			subpath: []string{},
		},
		{
			name:    "not a suite",
			file:    "javascript/helpers.js",
			wantErr: true,
		},
		{
			name:    "outside of root",
			file:    "../elsewhere/a.test.js",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group, subpath, err := CompatPath(filepath.Join(root, filepath.FromSlash(tt.file)), root)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.group, group)
			assert.Equal(t, tt.subpath, subpath)
		})
	}
}
