// Package compat runs compat suites on JavaScript platforms and records the
// observed support in the bundler compat data.
package compat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sourcegraph/conc/pool"

	"github.com/bundlercompat/compat-runner/compatdata"
	"github.com/bundlercompat/compat-runner/logging"
	"github.com/bundlercompat/compat-runner/metrics"
	"github.com/bundlercompat/compat-runner/registry"
	"github.com/bundlercompat/compat-runner/runner"
	"github.com/bundlercompat/compat-runner/testlist"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// errNoSuites is returned when the patterns match no suite on any platform.
var errNoSuites = errors.New("no suite files matched")

// platformSource resolves platform filters and builds executors.
type platformSource interface {
	Resolve(filters []string) ([]string, error)
	NewExecutor(id string, cfg registry.ExecutorConfig) (runner.Executor, error)
}

// Orchestrator implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &Orchestrator{}

// Orchestrator performs one run: it executes the selected suites on every
// selected platform and merges the results into the compat data.
type Orchestrator struct {
	config    *Config
	version   string
	platforms platformSource
	formatter ResultFormatter
	reporter  MetricsReporter
	result    *RunResult

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// platformRun is the work planned for one platform.
type platformRun struct {
	id     string
	suites []string
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Orchestrator, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating orchestrator with config",
		"workDir", config.WorkDir,
		"suiteRoot", config.SuiteRoot,
		"dataDir", config.DataDir,
		"platforms", config.Platforms,
		"dryRun", config.DryRun,
		"concurrency", config.Concurrency)

	reg, err := registry.NewRegistry(registry.Config{
		Log:           config.Log,
		OverridesFile: config.PlatformConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	return &Orchestrator{
		config:           config,
		version:          version,
		platforms:        reg,
		formatter:        NewConsoleResultFormatter(config.Log, os.Stdout),
		reporter:         NewDefaultMetricsReporter(),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start performs the run and signals shutdown when it completes.
// Start implements the cliapp.Lifecycle interface.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.running.Store(true)
	o.config.Log.Info("Starting compat run", "version", o.version)

	result, err := o.Run(ctx)
	if err != nil {
		o.config.Log.Error("Compat run failed", "err", err)
		return err
	}
	o.result = result

	if o.config.Strict && result.Stats().Status() != StatusPass {
		o.config.Log.Warn("Strict mode: some suites did not fully pass")
		return NewSuiteFailureError(result.String())
	}

	go func() {
		o.shutdownCallback(nil)
	}()
	return nil
}

// Stop implements the cliapp.Lifecycle interface.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if !o.running.Load() {
		return nil
	}
	o.running.Store(false)
	o.config.Log.Info("Compat runner stopped")
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (o *Orchestrator) Stopped() bool {
	return !o.running.Load()
}

// Result returns the result of the last completed run.
func (o *Orchestrator) Result() *RunResult {
	return o.result
}

// Run executes every planned platform, then applies the results to the
// compat data in platform order and file order. Any error aborts the run
// before compat data is written and is returned as a RuntimeError.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	runID := uuid.New().String()
	log := o.config.Log.New("run_id", runID)

	plan, err := o.plan()
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	var sink runner.OutcomeSink
	var fileLogger *logging.FileLogger
	if o.config.LogDir != "" {
		fileLogger, err = logging.NewFileLogger(o.config.LogDir, runID)
		if err != nil {
			return nil, NewRuntimeError(fmt.Errorf("failed to create file logger: %w", err))
		}
		defer func() {
			if err := fileLogger.Complete(); err != nil {
				log.Warn("Failed to close run logs", "err", err)
			}
		}()
		sink = logging.NewRawOutcomeSink(fileLogger, o.config.WorkDir)
		log.Info("Writing raw outcomes", "dir", fileLogger.GetDirectory())
	}

	suiteRunner, err := runner.NewRunner(runner.Config{
		SuiteRoot: o.config.SuiteRoot,
		WorkDir:   o.config.WorkDir,
		Log:       log,
		Sink:      sink,
	})
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to create runner: %w", err))
	}

	platforms, err := o.runPlatforms(ctx, suiteRunner, plan)
	if err != nil {
		metrics.RecordErrorDetails("run", err)
		return nil, NewRuntimeError(err)
	}

	result := &RunResult{
		RunID:     runID,
		Platforms: platforms,
		DryRun:    o.config.DryRun,
	}
	if err := o.apply(result); err != nil {
		metrics.RecordErrorDetails("merge", err)
		return nil, NewRuntimeError(err)
	}
	result.Duration = time.Since(start)

	if err := o.formatter.FormatResults(result); err != nil {
		log.Warn("Failed to print results", "err", err)
	}
	if fileLogger != nil {
		summary := RenderResultsTable(result, table.StyleDefault) + "\n" + result.String() + "\n"
		if err := fileLogger.LogSummary(summary); err != nil {
			log.Warn("Failed to write run summary", "err", err)
		}
	}
	o.reporter.ReportResults(result)

	log.Info("Compat run finished", "status", result.Stats().Status(), "duration", result.Duration)
	return result, nil
}

// plan resolves the platform filters and finds the suites of each platform.
// Platforms without suites are skipped.
func (o *Orchestrator) plan() ([]platformRun, error) {
	ids, err := o.platforms.Resolve(o.config.Platforms)
	if err != nil {
		return nil, err
	}

	var plan []platformRun
	for _, id := range ids {
		suites, err := testlist.FindSuites(o.config.Patterns, o.config.WorkDir, id)
		if err != nil {
			return nil, fmt.Errorf("finding suites for %s: %w", id, err)
		}
		if len(suites) == 0 {
			o.config.Log.Warn("No suites matched, skipping platform", "platform", id, "patterns", o.config.Patterns)
			continue
		}
		plan = append(plan, platformRun{id: id, suites: suites})
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: %v", errNoSuites, o.config.Patterns)
	}
	return plan, nil
}

// runPlatforms runs up to Concurrency platforms at once. The first error
// cancels the remaining platforms.
func (o *Orchestrator) runPlatforms(ctx context.Context, suiteRunner *runner.Runner, plan []platformRun) ([]*PlatformResult, error) {
	results := make([]*PlatformResult, len(plan))

	p := pool.New().
		WithErrors().
		WithFirstError().
		WithMaxGoroutines(max(o.config.Concurrency, 1)).
		WithContext(ctx).
		WithCancelOnError()
	for i, run := range plan {
		p.Go(func(ctx context.Context) error {
			executor, err := o.platforms.NewExecutor(run.id, registry.ExecutorConfig{
				WorkDir:     o.config.WorkDir,
				ExecTimeout: o.config.ExecTimeout,
				PageTimeout: o.config.PageTimeout,
				Log:         o.config.Log.New("platform", run.id),
			})
			if err != nil {
				return fmt.Errorf("creating executor for %s: %w", run.id, err)
			}

			start := time.Now()
			suites, err := suiteRunner.Run(ctx, executor, run.suites)
			if err != nil {
				return err
			}
			results[i] = &PlatformResult{
				Platform: executor.Platform(),
				Suites:   suites,
				Duration: time.Since(start),
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// apply merges every suite result into the store, then writes the modified
// documents, or collects the diff in dry-run mode.
func (o *Orchestrator) apply(result *RunResult) error {
	store := compatdata.NewStore(compatdata.StoreConfig{
		DataDir: o.config.DataDir,
		DryRun:  o.config.DryRun,
		Log:     o.config.Log,
	})

	for _, p := range result.Platforms {
		for _, suite := range p.Suites {
			change, err := store.Apply(suite)
			if err != nil {
				return err
			}
			result.Changes = append(result.Changes, change)
			if change.Changed() {
				o.config.Log.Info("Support changed", "feature", change.Description(), "action", change.Action, "support", change.After)
			}
		}
	}

	if o.config.DryRun {
		result.Diff = store.Diff()
		return nil
	}
	return store.Flush()
}
