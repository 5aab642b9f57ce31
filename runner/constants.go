package runner

import "time"

// Suite execution constants
const (
	// DefaultExecTimeout bounds a single subprocess suite run
	DefaultExecTimeout = 5 * time.Second

	// DefaultPageTimeout bounds the wait for the <done> sentinel of a page run
	DefaultPageTimeout = 1 * time.Second

	// DefaultVersionTimeout bounds platform version queries
	DefaultVersionTimeout = 10 * time.Second

	// DefaultSuiteRoot is the directory compat groups are derived from
	DefaultSuiteRoot = "compat-suite"

	// Suite file naming
	SuiteFileSuffix    = ".test.js"
	PlatformQualifier  = "~"
	RootFeatureName    = "_"
	DoneSentinel       = "<done>"
	ScratchDirName     = ".tmp/compat-runner"
	DefaultEntryURL    = "/main.js"
	DefaultEntryOutput = "main"

	// Synthetic outcome descriptions
	RunSuiteDescription   = "Run test suite"
	RegisterDescription   = "Register tests"
	BuildSuiteDescription = "Build test suite"
	PageErrorDescription  = "Failed to run on page"
)
