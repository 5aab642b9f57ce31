package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bundlercompat/compat-runner/metrics"
	"github.com/bundlercompat/compat-runner/types"
)

// OutcomeSink receives the raw outcomes of every suite before aggregation.
type OutcomeSink interface {
	Write(platform types.PlatformInfo, filename string, outcomes []types.TestOutcome) error
}

// Config holds configuration for creating a Runner
type Config struct {
	SuiteRoot string
	WorkDir   string
	Log       log.Logger
	Sink      OutcomeSink
}

// Runner runs suite files on a platform and aggregates their outcomes.
type Runner struct {
	suiteRoot string
	workDir   string
	log       log.Logger
	sink      OutcomeSink
	tracer    trace.Tracer
}

// NewRunner creates a new runner instance
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("work directory is required")
	}
	if cfg.SuiteRoot == "" {
		cfg.SuiteRoot = filepath.Join(cfg.WorkDir, DefaultSuiteRoot)
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &Runner{
		suiteRoot: cfg.SuiteRoot,
		workDir:   cfg.WorkDir,
		log:       cfg.Log,
		sink:      cfg.Sink,
		tracer:    otel.Tracer("compat runner"),
	}, nil
}

// Run sets up the executor, runs every file on it in order and closes it,
// also when Setup fails.
// The results are returned in file order.
func (r *Runner) Run(ctx context.Context, executor Executor, filenames []string) ([]*types.SuiteResult, error) {
	platformID := executor.Platform().ID
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("platform %s", platformID))
	defer span.End()

	defer func() {
		if err := executor.Close(); err != nil {
			r.log.Warn("Failed to close executor", "platform", platformID, "err", err)
		}
	}()
	if err := executor.Setup(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("setting up %s: %w", platformID, err)
	}

	platform := executor.Platform()
	span.SetAttributes(attribute.String("platform.version", platform.Version))
	r.log.Info("Running suites", "platform", platform.String(), "suites", len(filenames))

	results := make([]*types.SuiteResult, 0, len(filenames))
	for _, filename := range filenames {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := r.runSuite(ctx, executor, platform, filename)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *Runner) runSuite(ctx context.Context, executor Executor, platform types.PlatformInfo, filename string) (*types.SuiteResult, error) {
	rel, err := filepath.Rel(r.workDir, filename)
	if err != nil {
		rel = filename
	}
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("suite %s", rel))
	defer span.End()

	start := time.Now()
	outcomes := executor.RunSuite(ctx, filename, r.workDir)
	duration := time.Since(start)

	if r.sink != nil {
		if err := r.sink.Write(platform, filename, outcomes); err != nil {
			r.log.Warn("Failed to record raw outcomes", "file", rel, "err", err)
		}
	}

	result, err := ToSuiteResult(platform, filename, r.suiteRoot, outcomes)
	if err != nil {
		metrics.RecordErrorDetails("aggregate", err)
		return nil, err
	}
	result.Duration = duration

	metrics.RecordSuite(platform.ID, result.Status(), duration)
	metrics.RecordOutcomes(platform.ID, result.Pass, result.Fail)
	span.SetAttributes(
		attribute.String("status", result.Status()),
		attribute.Int("pass", result.Pass),
		attribute.Int("total", result.Total),
	)

	r.log.Info("Suite finished",
		"platform", platform.ID,
		"file", rel,
		"status", result.Status(),
		"pass", result.Pass,
		"total", result.Total,
		"duration", duration)
	for _, outcome := range outcomes {
		if !outcome.Passed() {
			r.log.Debug("Test failed", "platform", platform.ID, "file", rel, "test", outcome.Description, "err", outcome.Error.Message)
		}
	}
	return result, nil
}
