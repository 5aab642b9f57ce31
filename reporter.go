package compat

import (
	"github.com/bundlercompat/compat-runner/metrics"
)

// MetricsReporter is responsible for reporting metrics from run results.
type MetricsReporter interface {
	ReportResults(result *RunResult)
}

// DefaultMetricsReporter implements the MetricsReporter interface.
type DefaultMetricsReporter struct{}

// NewDefaultMetricsReporter creates a new DefaultMetricsReporter.
func NewDefaultMetricsReporter() *DefaultMetricsReporter {
	return &DefaultMetricsReporter{}
}

// ReportResults records one merge per applied suite result and the run totals.
// Per-suite counters are recorded by the runner as suites finish.
func (r *DefaultMetricsReporter) ReportResults(result *RunResult) {
	for _, change := range result.Changes {
		metrics.RecordMerge(change.Platform, string(change.Action))
	}

	stats := result.Stats()
	status := StatusPass
	if stats.Status() != StatusPass {
		status = StatusFail
	}
	metrics.RecordRun(result.RunID, status, stats.Passed, stats.Partial, stats.Failed, result.Duration)
}
