// Package exitcodes defines the exit codes of the compat runner.
package exitcodes

// Exit code constants
//
// * Success (0): the run completed and results were recorded, whatever they were
// * SuiteFailure (1): with --strict, at least one suite did not fully pass
// * RuntimeErr (2): usage, configuration or compat data errors that abort the run
const (
	Success      = 0
	SuiteFailure = 1
	RuntimeErr   = 2
)
