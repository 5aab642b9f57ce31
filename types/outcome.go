package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Description prefixes with protocol meaning.
const (
	NotePrefix     = "NOTE: "
	NoteFailPrefix = "NOTE/FAIL: "
	FailsPrefix    = "Fails: "
)

// OutcomeError describes why a single test failed.
type OutcomeError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// TestOutcome is the result of one registered test inside a suite file. It is
// the unit exchanged over stdout and the browser console.
type TestOutcome struct {
	Description string        `json:"description"`
	Error       *OutcomeError `json:"error"`
	// Fatal marks a harness registration error, such as a duplicate test
	// description. It invalidates the whole suite file.
	Fatal bool `json:"fatal,omitempty"`
}

// Passed reports whether the test completed without error.
func (o TestOutcome) Passed() bool {
	return o.Error == nil
}

// NewFailedOutcome builds a synthetic failing outcome.
func NewFailedOutcome(description string, err error) TestOutcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return TestOutcome{
		Description: description,
		Error:       &OutcomeError{Message: msg},
	}
}

// SuiteResult aggregates all outcomes of one suite file on one platform.
type SuiteResult struct {
	Platform      PlatformInfo  `json:"platform"`
	Filename      string        `json:"filename"`
	CompatGroup   string        `json:"compatGroup"`
	CompatSubpath []string      `json:"compatSubpath"`
	Notes         []string      `json:"notes"`
	Flags         []string      `json:"flags"`
	OK            bool          `json:"ok"`
	Partial       bool          `json:"partial"`
	Pass          int           `json:"pass"`
	Fail          int           `json:"fail"`
	Total         int           `json:"total"`
	Results       []TestOutcome `json:"results"`
	Duration      time.Duration `json:"duration"`
}

// Status summarises the result as "pass", "partial" or "fail".
func (r *SuiteResult) Status() string {
	switch {
	case r.OK:
		return "pass"
	case r.Partial:
		return "partial"
	default:
		return "fail"
	}
}

// FeaturePath returns the dotted feature path within the compat group.
func (r *SuiteResult) FeaturePath() string {
	return strings.Join(r.CompatSubpath, ".")
}

// Validate checks the relationship between counters and flags.
func (r *SuiteResult) Validate() error {
	if r.Pass < 0 || r.Fail < 0 || r.Pass+r.Fail != r.Total {
		return fmt.Errorf("inconsistent counters for %s: pass=%d fail=%d total=%d", r.Filename, r.Pass, r.Fail, r.Total)
	}
	if r.OK != (r.Total > 0 && r.Fail == 0) {
		return fmt.Errorf("ok flag does not match counters for %s", r.Filename)
	}
	if r.Partial != (r.Total > 0 && r.Fail > 0 && r.Pass > 0) {
		return fmt.Errorf("partial flag does not match counters for %s", r.Filename)
	}
	if r.Partial && len(r.Notes) == 0 {
		return errors.New("partial result for " + r.Filename + " has no notes")
	}
	return nil
}
