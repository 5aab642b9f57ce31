package compat

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/bundlercompat/compat-runner/flags"
)

// configFromArgs runs a cli app with args and returns the Config it builds.
func configFromArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var cfg *Config
	var cfgErr error
	app := &cli.App{
		Flags: flags.Flags,
		Action: func(ctx *cli.Context) error {
			cfg, cfgErr = NewConfig(ctx, log.NewLogger(log.DiscardHandler()))
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"compat-runner"}, args...)))
	return cfg, cfgErr
}

func TestNewConfig(t *testing.T) {
	workDir := t.TempDir()
	overrides := filepath.Join(workDir, "platforms.yaml")
	require.NoError(t, os.WriteFile(overrides, []byte("platforms: {}\n"), 0o644))

	cfg, err := configFromArgs(t,
		"--workdir", workDir,
		"--platform", "nodejs,deno",
		"-p", "bundler",
		"--config", "platforms.yaml",
		"--log-dir", "logs",
		"--data-dir", "/srv/data",
		"--dry-run",
		"--strict",
		"--concurrency", "3",
		"--exec-timeout", "10s",
		"compat-suite/**/*.test.js",
		"extra/*.test.js",
	)
	require.NoError(t, err)

	assert.Equal(t, workDir, cfg.WorkDir)
	assert.Equal(t, []string{"compat-suite/**/*.test.js", "extra/*.test.js"}, cfg.Patterns)
	assert.Equal(t, []string{"nodejs,deno", "bundler"}, cfg.Platforms)
	assert.Equal(t, filepath.Join(workDir, "compat-suite"), cfg.SuiteRoot)
	assert.Equal(t, "/srv/data", cfg.DataDir)
	assert.Equal(t, overrides, cfg.PlatformConfig)
	assert.Equal(t, filepath.Join(workDir, "logs"), cfg.LogDir)
	assert.True(t, cfg.DryRun)
	assert.True(t, cfg.Strict)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.ExecTimeout)
	assert.Equal(t, time.Second, cfg.PageTimeout)
	assert.NotNil(t, cfg.Log)
}

func TestNewConfigDefaults(t *testing.T) {
	workDir := t.TempDir()
	cfg, err := configFromArgs(t, "--workdir", workDir, "a.test.js")
	require.NoError(t, err)

	assert.Empty(t, cfg.Platforms)
	assert.Empty(t, cfg.PlatformConfig)
	assert.Empty(t, cfg.LogDir)
	assert.Equal(t, filepath.Join(workDir, "src", "content", "bundler-compat-data"), cfg.DataDir)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.ExecTimeout)
}

func TestNewConfigErrors(t *testing.T) {
	workDir := t.TempDir()
	file := filepath.Join(workDir, "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	tests := []struct {
		name string
		args []string
	}{
		{name: "no patterns", args: []string{"--workdir", workDir}},
		{name: "missing workdir", args: []string{"--workdir", filepath.Join(workDir, "missing"), "a.test.js"}},
		{name: "workdir is a file", args: []string{"--workdir", file, "a.test.js"}},
		{name: "missing platform config", args: []string{"--workdir", workDir, "--config", "nope.yaml", "a.test.js"}},
		{name: "zero concurrency", args: []string{"--workdir", workDir, "--concurrency", "0", "a.test.js"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := configFromArgs(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/work/a/b", resolvePath("/work", "a/b"))
	assert.Equal(t, "/abs", resolvePath("/work", "/abs/"))
	assert.Equal(t, "/work", resolvePath("/work", "."))
}
