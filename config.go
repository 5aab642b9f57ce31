package compat

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/bundlercompat/compat-runner/flags"
)

// Config holds the application configuration
type Config struct {
	WorkDir        string        // Project directory, absolute
	Patterns       []string      // Suite file glob patterns, relative to WorkDir
	Platforms      []string      // Platform filters as given on the command line
	SuiteRoot      string        // Directory compat groups are derived from
	DataDir        string        // Directory holding the compat data documents
	PlatformConfig string        // Optional yaml overrides file
	LogDir         string        // Directory for raw outcome logs, empty to disable
	DryRun         bool          // Print support changes instead of writing them
	Strict         bool          // Fail the run when any suite is not ok
	ExecTimeout    time.Duration // Deadline for one runtime suite process
	PageTimeout    time.Duration // Deadline for a browser page to report completion
	Concurrency    int           // Number of platforms run at the same time
	Log            log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	workDir := ctx.String(flags.WorkDir.Name)
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		workDir = wd
	}
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for workdir '%s': %w", workDir, err)
	}
	info, err := os.Stat(absWorkDir)
	if err != nil {
		return nil, fmt.Errorf("workdir '%s': %w", absWorkDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workdir '%s' is not a directory", absWorkDir)
	}

	platformConfig := ctx.String(flags.PlatformConfig.Name)
	if platformConfig != "" {
		platformConfig = resolvePath(absWorkDir, platformConfig)
		if _, err := os.Stat(platformConfig); err != nil {
			return nil, fmt.Errorf("platform config '%s': %w", platformConfig, err)
		}
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir != "" {
		logDir = resolvePath(absWorkDir, logDir)
	}

	return &Config{
		WorkDir:        absWorkDir,
		Patterns:       ctx.Args().Slice(),
		Platforms:      ctx.StringSlice(flags.Platform.Name),
		SuiteRoot:      resolvePath(absWorkDir, ctx.String(flags.SuiteRoot.Name)),
		DataDir:        resolvePath(absWorkDir, ctx.String(flags.DataDir.Name)),
		PlatformConfig: platformConfig,
		LogDir:         logDir,
		DryRun:         ctx.Bool(flags.DryRun.Name),
		Strict:         ctx.Bool(flags.Strict.Name),
		ExecTimeout:    ctx.Duration(flags.ExecTimeout.Name),
		PageTimeout:    ctx.Duration(flags.PageTimeout.Name),
		Concurrency:    ctx.Int(flags.Concurrency.Name),
		Log:            log,
	}, nil
}

// resolvePath makes path absolute relative to base.
func resolvePath(base, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}
