package compat

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/bundlercompat/compat-runner/compatdata"
	"github.com/bundlercompat/compat-runner/logging"
	"github.com/bundlercompat/compat-runner/registry"
	"github.com/bundlercompat/compat-runner/runner"
	"github.com/bundlercompat/compat-runner/types"
)

const importMetaDoc = `{
  "javascript": {
    "operators": {
      "import_meta": {
        "__compat": {
          "support": {
            "nodejs": {
              "version_added": false
            }
          }
        },
        "url": {
          "__compat": {
            "support": {}
          }
        }
      }
    }
  }
}
`

type fakeExecutor struct {
	platform types.PlatformInfo
	version  string
	outcomes map[string][]types.TestOutcome
	setupErr error
}

func (f *fakeExecutor) Platform() types.PlatformInfo { return f.platform }

func (f *fakeExecutor) Setup(context.Context) error {
	if f.setupErr != nil {
		return f.setupErr
	}
	f.platform.Version = f.version
	return nil
}

func (f *fakeExecutor) RunSuite(_ context.Context, filename string, _ string) []types.TestOutcome {
	if outcomes, ok := f.outcomes[filepath.Base(filename)]; ok {
		return outcomes
	}
	return []types.TestOutcome{{Description: "works"}}
}

func (f *fakeExecutor) Close() error { return nil }

type fakeSource struct {
	ids        []string
	resolveErr error
	executors  map[string]*fakeExecutor
}

func (s *fakeSource) Resolve([]string) ([]string, error) {
	return s.ids, s.resolveErr
}

func (s *fakeSource) NewExecutor(id string, _ registry.ExecutorConfig) (runner.Executor, error) {
	executor, ok := s.executors[id]
	if !ok {
		return nil, registry.ErrUnknownPlatform
	}
	return executor, nil
}

func failing(description string) types.TestOutcome {
	return types.TestOutcome{Description: description, Error: &types.OutcomeError{Message: "boom"}}
}

// newTestWorkspace creates a workdir with the import_meta suites and compat data.
func newTestWorkspace(t *testing.T) (*Config, string) {
	t.Helper()
	workDir := t.TempDir()

	suiteDir := filepath.Join(workDir, "compat-suite", "javascript", "operators", "import_meta")
	require.NoError(t, os.MkdirAll(suiteDir, 0o755))
	for _, name := range []string{"_.test.js", "url.test.js"} {
		require.NoError(t, os.WriteFile(filepath.Join(suiteDir, name), []byte("test('works', () => {})\n"), 0o644))
	}

	dataDir := filepath.Join(workDir, "data")
	docPath := filepath.Join(dataDir, "javascript", "operators", "import_meta.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(docPath), 0o755))
	require.NoError(t, os.WriteFile(docPath, []byte(importMetaDoc), 0o644))

	return &Config{
		WorkDir:     workDir,
		Patterns:    []string{"compat-suite/**/*.test.js"},
		SuiteRoot:   filepath.Join(workDir, "compat-suite"),
		DataDir:     dataDir,
		ExecTimeout: time.Second,
		PageTimeout: time.Second,
		Concurrency: 2,
		Log:         log.NewLogger(log.DiscardHandler()),
	}, docPath
}

func newTestOrchestrator(cfg *Config, source platformSource, out *bytes.Buffer) *Orchestrator {
	return &Orchestrator{
		config:           cfg,
		version:          "test",
		platforms:        source,
		formatter:        NewConsoleResultFormatter(cfg.Log, out),
		reporter:         NewDefaultMetricsReporter(),
		shutdownCallback: func(error) {},
	}
}

func twoPlatforms() *fakeSource {
	return &fakeSource{
		ids: []string{"nodejs", "deno"},
		executors: map[string]*fakeExecutor{
			"nodejs": {
				platform: types.PlatformInfo{ID: "nodejs", Kind: types.PlatformKindRuntime, Name: "Node.js"},
				version:  "22.3.0",
			},
			"deno": {
				platform: types.PlatformInfo{ID: "deno", Kind: types.PlatformKindRuntime, Name: "Deno"},
				version:  "1.40.0",
				outcomes: map[string][]types.TestOutcome{
					"url.test.js": {failing("works")},
				},
			},
		},
	}
}

func TestRunAppliesResults(t *testing.T) {
	cfg, docPath := newTestWorkspace(t)
	var out bytes.Buffer
	o := newTestOrchestrator(cfg, twoPlatforms(), &out)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Platforms, 2)
	assert.Equal(t, "nodejs@22.3.0", result.Platforms[0].Platform.String())
	assert.Equal(t, "deno@1.40.0", result.Platforms[1].Platform.String())
	assert.NotEmpty(t, result.RunID)

	var actions []compatdata.MergeAction
	var features []string
	for _, c := range result.Changes {
		actions = append(actions, c.Action)
		features = append(features, c.Description())
	}
	assert.Equal(t, []compatdata.MergeAction{
		compatdata.ActionAdded,
		compatdata.ActionInitialized,
		compatdata.ActionInitialized,
		compatdata.ActionInitialized,
	}, actions)
	assert.Equal(t, []string{
		"javascript/operators/import_meta [nodejs]",
		"javascript/operators/import_meta/url [nodejs]",
		"javascript/operators/import_meta [deno]",
		"javascript/operators/import_meta/url [deno]",
	}, features)

	stats := result.Stats()
	assert.Equal(t, 4, stats.Suites)
	assert.Equal(t, 3, stats.Passed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, StatusPartial, stats.Status())

	doc, err := os.ReadFile(docPath)
	require.NoError(t, err)
	support := gjson.GetBytes(doc, "javascript.operators.import_meta.__compat.support")
	assert.Equal(t, "22.3.0", support.Get("nodejs.version_added").String())
	assert.Equal(t, "<1.40.0", support.Get("deno.version_added").String())
	urlSupport := gjson.GetBytes(doc, "javascript.operators.import_meta.url.__compat.support")
	assert.Equal(t, "<22.3.0", urlSupport.Get("nodejs.version_added").String())
	assert.Equal(t, "false", urlSupport.Get("deno.version_added").Raw)

	assert.Contains(t, out.String(), "Compat Results")
	assert.Contains(t, out.String(), "javascript/operators/import_meta/url")
	assert.Contains(t, out.String(), result.String())
}

func TestRunDryRun(t *testing.T) {
	cfg, docPath := newTestWorkspace(t)
	cfg.DryRun = true
	var out bytes.Buffer
	o := newTestOrchestrator(cfg, twoPlatforms(), &out)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	doc, err := os.ReadFile(docPath)
	require.NoError(t, err)
	assert.Equal(t, importMetaDoc, string(doc))

	require.Len(t, result.Diff, 4)
	assert.Equal(t, `javascript/operators/import_meta [nodejs]: {"version_added":false} -> {"version_added":"22.3.0"}`, result.Diff[0])
	for _, line := range result.Diff {
		assert.Contains(t, out.String(), line)
	}
	assert.Contains(t, result.String(), "4 support statements would change")
}

func TestRunFatalErrors(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, cfg *Config, source *fakeSource)
		wantErr error
	}{
		{
			name: "unknown platform",
			prepare: func(t *testing.T, cfg *Config, source *fakeSource) {
				source.resolveErr = registry.ErrUnknownPlatform
			},
			wantErr: registry.ErrUnknownPlatform,
		},
		{
			name: "no suites",
			prepare: func(t *testing.T, cfg *Config, source *fakeSource) {
				cfg.Patterns = []string{"nothing/**/*.test.js"}
			},
			wantErr: errNoSuites,
		},
		{
			name: "missing feature",
			prepare: func(t *testing.T, cfg *Config, source *fakeSource) {
				path := filepath.Join(cfg.SuiteRoot, "javascript", "operators", "import_meta", "missing.test.js")
				require.NoError(t, os.WriteFile(path, []byte("\n"), 0o644))
			},
			wantErr: compatdata.ErrFeatureNotFound,
		},
		{
			name: "unexplained partial",
			prepare: func(t *testing.T, cfg *Config, source *fakeSource) {
				source.executors["deno"].outcomes = map[string][]types.TestOutcome{
					"url.test.js": {{Description: "works"}, failing("")},
				}
			},
			wantErr: runner.ErrUnexplainedPartial,
		},
		{
			name: "duplicate test registration",
			prepare: func(t *testing.T, cfg *Config, source *fakeSource) {
				source.executors["nodejs"].outcomes = map[string][]types.TestOutcome{
					"url.test.js": {{
						Description: runner.RegisterDescription,
						Error:       &types.OutcomeError{Message: "Duplicate test with description: works"},
						Fatal:       true,
					}},
				}
			},
			wantErr: runner.ErrInvalidSuite,
		},
		{
			name: "setup failure",
			prepare: func(t *testing.T, cfg *Config, source *fakeSource) {
				source.executors["nodejs"].setupErr = errors.New("node: not found")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, docPath := newTestWorkspace(t)
			source := twoPlatforms()
			tt.prepare(t, cfg, source)
			o := newTestOrchestrator(cfg, source, &bytes.Buffer{})

			_, err := o.Run(context.Background())
			require.Error(t, err)
			assert.True(t, IsRuntimeError(err), err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			doc, err := os.ReadFile(docPath)
			require.NoError(t, err)
			assert.Equal(t, importMetaDoc, string(doc), "compat data is not written on fatal errors")
		})
	}
}

func TestRunSkipsPlatformsWithoutSuites(t *testing.T) {
	cfg, _ := newTestWorkspace(t)
	cfg.DryRun = true
	// Only the vite override exists for this file, so nodejs has nothing to run.
	cfg.Patterns = []string{"compat-suite/**/only~vite.test.js"}
	path := filepath.Join(cfg.SuiteRoot, "javascript", "operators", "import_meta", "only~vite.test.js")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o644))

	source := twoPlatforms()
	source.ids = []string{"nodejs"}
	o := newTestOrchestrator(cfg, source, &bytes.Buffer{})

	_, err := o.Run(context.Background())
	assert.ErrorIs(t, err, errNoSuites)
}

func TestRunWritesRunLogs(t *testing.T) {
	cfg, _ := newTestWorkspace(t)
	cfg.LogDir = filepath.Join(cfg.WorkDir, "logs")
	o := newTestOrchestrator(cfg, twoPlatforms(), &bytes.Buffer{})

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	runDir := filepath.Join(cfg.LogDir, logging.RunDirectoryPrefix+result.RunID)
	raw, err := os.ReadFile(filepath.Join(runDir, logging.RawOutcomesLog))
	require.NoError(t, err)
	assert.Len(t, bytes.Split(bytes.TrimSpace(raw), []byte("\n")), 4)

	summary, err := os.ReadFile(filepath.Join(runDir, logging.SummaryFilename))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "Compat Results")
	assert.Contains(t, string(summary), result.String())
}

func TestStart(t *testing.T) {
	tests := []struct {
		name      string
		strict    bool
		failing   bool
		wantErr   bool
		wantClose bool
	}{
		{name: "all pass", wantClose: true},
		{name: "failures without strict", failing: true, wantClose: true},
		{name: "strict all pass", strict: true, wantClose: true},
		{name: "strict with failures", strict: true, failing: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := newTestWorkspace(t)
			cfg.Strict = tt.strict
			source := twoPlatforms()
			if !tt.failing {
				source.executors["deno"].outcomes = nil
			}

			closed := make(chan error, 1)
			o := newTestOrchestrator(cfg, source, &bytes.Buffer{})
			o.shutdownCallback = func(err error) { closed <- err }

			err := o.Start(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsSuiteFailureError(err))
				assert.Equal(t, 1, ExitCode(err))
			} else {
				require.NoError(t, err)
				require.NotNil(t, o.Result())
			}

			if tt.wantClose {
				select {
				case err := <-closed:
					assert.NoError(t, err)
				case <-time.After(5 * time.Second):
					t.Fatal("shutdown callback was not called")
				}
			}

			assert.False(t, o.Stopped())
			require.NoError(t, o.Stop(context.Background()))
			assert.True(t, o.Stopped())
		})
	}
}

func TestNewUsesRegistry(t *testing.T) {
	cfg, _ := newTestWorkspace(t)
	cfg.Platforms = []string{"rhino"}

	o, err := New(context.Background(), cfg, "test", func(error) {})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	assert.True(t, IsRuntimeError(err))
	assert.ErrorIs(t, err, registry.ErrUnknownPlatform)

	_, err = New(context.Background(), nil, "test", nil)
	assert.Error(t, err)

	cfg.PlatformConfig = filepath.Join(cfg.WorkDir, "missing.yaml")
	_, err = New(context.Background(), cfg, "test", nil)
	assert.Error(t, err)
}
