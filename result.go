package compat

import (
	"fmt"
	"time"

	"github.com/bundlercompat/compat-runner/compatdata"
	"github.com/bundlercompat/compat-runner/types"
)

// Suite statuses as reported by types.SuiteResult.Status.
const (
	StatusPass    = "pass"
	StatusPartial = "partial"
	StatusFail    = "fail"
)

// RunStats counts suites by status and the tests inside them.
type RunStats struct {
	Suites  int
	Passed  int
	Partial int
	Failed  int

	Tests       int
	TestsPassed int
	TestsFailed int
}

func (s *RunStats) add(r *types.SuiteResult) {
	s.Suites++
	switch r.Status() {
	case StatusPass:
		s.Passed++
	case StatusPartial:
		s.Partial++
	default:
		s.Failed++
	}
	s.Tests += r.Total
	s.TestsPassed += r.Pass
	s.TestsFailed += r.Fail
}

func (s *RunStats) merge(o RunStats) {
	s.Suites += o.Suites
	s.Passed += o.Passed
	s.Partial += o.Partial
	s.Failed += o.Failed
	s.Tests += o.Tests
	s.TestsPassed += o.TestsPassed
	s.TestsFailed += o.TestsFailed
}

// Status is "pass" when every suite passed, "fail" when none did and
// "partial" otherwise. A run without suites passes.
func (s RunStats) Status() string {
	switch {
	case s.Passed == s.Suites:
		return StatusPass
	case s.Failed == s.Suites:
		return StatusFail
	default:
		return StatusPartial
	}
}

// PlatformResult holds the suite results of one platform in file order.
type PlatformResult struct {
	Platform types.PlatformInfo
	Suites   []*types.SuiteResult
	Duration time.Duration
}

// Stats counts the suites of this platform.
func (p *PlatformResult) Stats() RunStats {
	var stats RunStats
	for _, suite := range p.Suites {
		stats.add(suite)
	}
	return stats
}

// RunResult is the outcome of one invocation.
type RunResult struct {
	RunID     string
	Platforms []*PlatformResult
	Changes   []compatdata.Change
	Diff      []string
	DryRun    bool
	Duration  time.Duration
}

// Stats counts the suites of every platform.
func (r *RunResult) Stats() RunStats {
	var stats RunStats
	for _, p := range r.Platforms {
		stats.merge(p.Stats())
	}
	return stats
}

// Changed returns the changes that modified a support statement.
func (r *RunResult) Changed() []compatdata.Change {
	var changed []compatdata.Change
	for _, c := range r.Changes {
		if c.Changed() {
			changed = append(changed, c)
		}
	}
	return changed
}

// String returns a one line summary of the run.
func (r *RunResult) String() string {
	stats := r.Stats()
	verb := "updated"
	if r.DryRun {
		verb = "would change"
	}
	return fmt.Sprintf("Run %s: %d suites on %d platforms, %d passed, %d partial, %d failed; %d support statements %s",
		r.RunID, stats.Suites, len(r.Platforms), stats.Passed, stats.Partial, stats.Failed, len(r.Changed()), verb)
}
