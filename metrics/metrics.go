package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "compat"
)

var (
	Debug                bool = true
	validSuiteResults         = []string{"pass", "partial", "fail"}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	suitesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "suites_total",
		Help:      "Count of suite runs",
	}, []string{
		"platform",
		"result",
	})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "outcomes_total",
		Help:      "Count of individual test outcomes",
	}, []string{
		"platform",
		"result",
	})

	mergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "merges_total",
		Help:      "Count of support statement merges",
	}, []string{
		"platform",
		"action",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of completed runs",
	}, []string{
		"result",
	})

	runSuites = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_suites",
		Help:      "Suites of the last run by result",
	}, []string{
		"run_id",
		"result",
	})

	runDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last run",
	})

	suiteDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_duration_seconds",
		Help:      "Duration of the last suite run",
	}, []string{
		"platform",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordSuite counts one finished suite. result is "pass", "partial" or "fail".
func RecordSuite(platform string, result string, duration time.Duration) {
	if !slices.Contains(validSuiteResults, result) {
		log.Error("RecordSuite - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "suites_total",
			"platform", platform,
			"result", result)
	}
	suitesTotal.WithLabelValues(platform, result).Inc()
	suiteDuration.WithLabelValues(platform).Set(duration.Seconds())
}

func RecordOutcomes(platform string, passed int, failed int) {
	outcomesTotal.WithLabelValues(platform, "pass").Add(float64(passed))
	outcomesTotal.WithLabelValues(platform, "fail").Add(float64(failed))
}

func RecordMerge(platform string, action string) {
	if Debug {
		log.Debug("metric inc",
			"m", "merges_total",
			"platform", platform,
			"action", action)
	}
	mergesTotal.WithLabelValues(platform, action).Inc()
}

// RecordRun records a finished run. result is "pass" when every suite passed
// and "fail" otherwise.
func RecordRun(runID string, result string, passed, partial, failed int, duration time.Duration) {
	if Debug {
		log.Debug("metric inc",
			"m", "runs_total",
			"run_id", runID,
			"result", result)
	}
	runsTotal.WithLabelValues(result).Inc()
	runSuites.WithLabelValues(runID, "pass").Set(float64(passed))
	runSuites.WithLabelValues(runID, "partial").Set(float64(partial))
	runSuites.WithLabelValues(runID, "fail").Set(float64(failed))
	runDuration.Set(duration.Seconds())
}
