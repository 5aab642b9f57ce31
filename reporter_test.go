package compat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMetricsReporter_ReportResults(t *testing.T) {
	reporter := NewDefaultMetricsReporter()

	assert.NotPanics(t, func() {
		reporter.ReportResults(createSampleResult())
		reporter.ReportResults(&RunResult{RunID: "empty-run"})
	})
}
