package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/ethereum/go-ethereum/log"

	"github.com/bundlercompat/compat-runner/types"
)

const esbuildModulePath = "github.com/evanw/esbuild"

// ExpectBundleURL is the page asset holding the bundled expect package.
const ExpectBundleURL = "/__compat_expect.js"

// ErrExpectNotInstalled is returned when the workdir has no expect package.
var ErrExpectNotInstalled = errors.New("expect package is not installed")

// The require sits inside try so that a bundle failing to initialise in the
// browser leaves the built-in matchers in place.
const expectBundleEntry = `try {
  globalThis.expect = require('expect').expect;
} catch (e) {
  console.debug('expect unavailable', e);
}
`

// BuildExpectBundle bundles the workdir's expect package into a classic
// script for harness pages.
func BuildExpectBundle(workDir string) ([]byte, error) {
	if _, err := os.Stat(filepath.Join(workDir, "node_modules", "expect", "package.json")); err != nil {
		return nil, ErrExpectNotInstalled
	}
	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   expectBundleEntry,
			ResolveDir: workDir,
			Sourcefile: "compat-expect.js",
		},
		Bundle:   true,
		Format:   api.FormatIIFE,
		Target:   api.ES2022,
		Platform: api.PlatformBrowser,
		Define: map[string]string{
			"process.env.NODE_ENV": `"production"`,
			"global":               "globalThis",
		},
		AbsWorkingDir: workDir,
		Write:         false,
		LogLevel:      api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("bundling expect: %s", result.Errors[0].Text)
	}
	if len(result.OutputFiles) == 0 {
		return nil, errors.New("bundling expect: no output")
	}
	return result.OutputFiles[0].Contents, nil
}

// EsbuildBuilder bundles suites in-process with the linked esbuild.
type EsbuildBuilder struct {
	log log.Logger
}

var _ Builder = (*EsbuildBuilder)(nil)

func NewEsbuildBuilder(logger log.Logger) *EsbuildBuilder {
	return &EsbuildBuilder{log: logger}
}

// Version reports the esbuild module version this binary was built with.
func (b *EsbuildBuilder) Version(context.Context) (string, error) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", fmt.Errorf("build info unavailable")
	}
	for _, dep := range info.Deps {
		if dep.Path != esbuildModulePath {
			continue
		}
		if dep.Replace != nil {
			dep = dep.Replace
		}
		return strings.TrimPrefix(dep.Version, "v"), nil
	}
	return "", fmt.Errorf("%s is not linked into this binary", esbuildModulePath)
}

func (b *EsbuildBuilder) Build(_ context.Context, filename string, cwd string, page *PageContext) []types.TestOutcome {
	outdir := filepath.Join(cwd, ".tmp", page.ID)
	result := api.Build(api.BuildOptions{
		Target:   api.ES2022,
		Bundle:   true,
		Platform: api.PlatformBrowser,
		EntryPointsAdvanced: []api.EntryPoint{{
			InputPath:  filename,
			OutputPath: DefaultEntryOutput,
		}},
		AbsWorkingDir: cwd,
		Write:         false,
		PublicPath:    "/" + page.ID,
		Outdir:        outdir,
		LogLevel:      api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		failures := make([]types.TestOutcome, 0, len(result.Errors))
		for _, msg := range result.Errors {
			description := msg.ID
			if description == "" {
				description = BuildSuiteDescription
			}
			failures = append(failures, types.TestOutcome{
				Description: description,
				Error:       &types.OutcomeError{Message: msg.Text},
			})
		}
		return failures
	}

	for _, file := range result.OutputFiles {
		rel, err := filepath.Rel(outdir, file.Path)
		if err != nil {
			return []types.TestOutcome{types.NewFailedOutcome(BuildSuiteDescription,
				fmt.Errorf("Test suite failed to build: %w", err))}
		}
		page.Files["/"+filepath.ToSlash(rel)] = file.Contents
	}
	if b.log != nil {
		b.log.Debug("Bundled suite", "file", filename, "outputs", len(result.OutputFiles))
	}
	return nil
}
