package compatdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bundlercompat/compat-runner/types"
)

const operatorsDoc = `{
  "javascript": {
    "operators": {
      "import_meta": {
        "__compat": {
          "description": "import.meta",
          "support": {
            "nodejs": {
              "version_added": false
            },
            "deno": {
              "version_added": "1.0.0",
              "notes": [
                "first",
                "second"
              ]
            }
          }
        },
        "url": {
          "__compat": {
            "description": "import.meta.url",
            "support": {}
          }
        }
      }
    }
  }
}
`

func writeDoc(t *testing.T, dir, group, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(group)+".json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestStore(dir string, dryRun bool) *Store {
	return NewStore(StoreConfig{
		DataDir: dir,
		DryRun:  dryRun,
		Log:     log.NewLogger(log.DiscardHandler()),
	})
}

func suiteResult(platform, version string, subpath []string, ok bool) *types.SuiteResult {
	r := &types.SuiteResult{
		Platform:      types.PlatformInfo{ID: platform, Kind: types.PlatformKindRuntime, Version: version},
		Filename:      "compat-suite/javascript/operators/import_meta/_.test.js",
		CompatGroup:   "javascript/operators/import_meta",
		CompatSubpath: subpath,
		Total:         1,
	}
	if ok {
		r.OK = true
		r.Pass = 1
	} else {
		r.Fail = 1
	}
	return r
}

func TestStoreApplyAndFlush(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "javascript/operators/import_meta", operatorsDoc)

	store := newTestStore(dir, false)

	change, err := store.Apply(suiteResult("nodejs", "22.3.0", nil, true))
	require.NoError(t, err)
	assert.Equal(t, ActionAdded, change.Action)
	assert.Equal(t, `{"version_added":false}`, change.Before)
	assert.Equal(t, `{"version_added":"22.3.0"}`, change.After)

	change, err = store.Apply(suiteResult("nodejs", "22.3.0", []string{"url"}, true))
	require.NoError(t, err)
	assert.Equal(t, ActionInitialized, change.Action)
	assert.Equal(t, "(none)", change.Before)

	require.NoError(t, store.Flush())

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	expected := `{
  "javascript": {
    "operators": {
      "import_meta": {
        "__compat": {
          "description": "import.meta",
          "support": {
            "nodejs": {
              "version_added": "22.3.0"
            },
            "deno": {
              "version_added": "1.0.0",
              "notes": [
                "first",
                "second"
              ]
            }
          }
        },
        "url": {
          "__compat": {
            "description": "import.meta.url",
            "support": {
              "nodejs": {
                "version_added": "<22.3.0"
              }
            }
          }
        }
      }
    }
  }
}
`
	assert.Equal(t, expected, string(out))
	assert.Empty(t, store.Diff())
}

func TestStoreUnchangedDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "javascript/operators/import_meta", operatorsDoc)
	info, err := os.Stat(path)
	require.NoError(t, err)

	store := newTestStore(dir, false)
	change, err := store.Apply(suiteResult("nodejs", "22.3.0", nil, false))
	require.NoError(t, err)
	assert.False(t, change.Changed())

	require.NoError(t, store.Flush())
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), after.ModTime())
}

func TestStoreDryRun(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "javascript/operators/import_meta", operatorsDoc)

	store := newTestStore(dir, true)
	_, err := store.Apply(suiteResult("nodejs", "22.3.0", nil, true))
	require.NoError(t, err)
	require.NoError(t, store.Flush())

	assert.Equal(t, []string{
		`javascript/operators/import_meta [nodejs]: {"version_added":false} -> {"version_added":"22.3.0"}`,
	}, store.Diff())

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, operatorsDoc, string(out))
}

func TestStoreErrors(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "javascript/operators/import_meta", operatorsDoc)
	writeDoc(t, dir, "javascript/ambiguous", `{"a": {}, "b": {}}`)

	tests := []struct {
		name   string
		result *types.SuiteResult
		err    error
	}{
		{
			name:   "missing feature",
			result: suiteResult("nodejs", "22.3.0", []string{"resolve"}, true),
			err:    ErrFeatureNotFound,
		},
		{
			name: "ambiguous root",
			result: func() *types.SuiteResult {
				r := suiteResult("nodejs", "22.3.0", []string{"x"}, true)
				r.CompatGroup = "javascript/ambiguous"
				return r
			}(),
			err: ErrAmbiguousRoot,
		},
		{
			name: "no group",
			result: func() *types.SuiteResult {
				r := suiteResult("nodejs", "22.3.0", []string{"x"}, true)
				r.CompatGroup = ""
				return r
			}(),
			err: ErrFeatureNotFound,
		},
		{
			name:   "regression",
			result: suiteResult("deno", "2.0.0", nil, false),
			err:    ErrRegression,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(dir, true)
			_, err := store.Apply(tt.result)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestStoreMissingDocument(t *testing.T) {
	store := newTestStore(t.TempDir(), false)
	_, err := store.Apply(suiteResult("nodejs", "22.3.0", nil, true))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestEscapePath(t *testing.T) {
	assert.Equal(t, `a\.b`, escapePath("a.b"))
	assert.Equal(t, `import_meta`, escapePath("import_meta"))
	assert.Equal(t, `\@media`, escapePath("@media"))
}
