package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "COMPAT_RUNNER"

var (
	Platform = &cli.StringSliceFlag{
		Name:    "platform",
		Aliases: []string{"p"},
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PLATFORM"),
		Usage:   "Platforms to run on: ids (comma separated), '*', 'runtime' or 'bundler'. Defaults to nodejs",
	}
	DryRun = &cli.BoolFlag{
		Name:    "dry-run",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DRY_RUN"),
		Usage:   "Print the support changes instead of writing the compat data",
	}
	WorkDir = &cli.StringFlag{
		Name:    "workdir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKDIR"),
		Usage:   "Project directory; patterns and relative paths are resolved against it. Defaults to the current directory",
	}
	SuiteRoot = &cli.StringFlag{
		Name:    "suite-root",
		Value:   "compat-suite",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUITE_ROOT"),
		Usage:   "Directory compat groups are derived from",
	}
	DataDir = &cli.StringFlag{
		Name:    "data-dir",
		Value:   "src/content/bundler-compat-data",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DATA_DIR"),
		Usage:   "Directory holding the <group>.json compat data documents",
	}
	PlatformConfig = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Optional yaml file with platform overrides (binary, flags, disabled) and browser settings",
	}
	ExecTimeout = &cli.DurationFlag{
		Name:    "exec-timeout",
		Value:   5 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXEC_TIMEOUT"),
		Usage:   "Deadline for one suite run in a runtime process",
	}
	PageTimeout = &cli.DurationFlag{
		Name:    "page-timeout",
		Value:   1 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PAGE_TIMEOUT"),
		Usage:   "Deadline for a browser page to report completion",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   1,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of platforms run at the same time",
	}
	Strict = &cli.BoolFlag{
		Name:    "strict",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STRICT"),
		Usage:   "Exit with status 1 when any suite does not fully pass",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOG_DIR"),
		Usage:   "Directory for per-run raw outcome logs. Disabled when empty",
	}
)

var optionalFlags = []cli.Flag{
	Platform,
	DryRun,
	WorkDir,
	SuiteRoot,
	DataDir,
	PlatformConfig,
	ExecTimeout,
	PageTimeout,
	Concurrency,
	Strict,
	LogDir,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(Flags, optionalFlags...)
}

// ArgsUsage documents the positional arguments.
const ArgsUsage = "<pattern> [pattern...]"

// CheckRequired validates what flag definitions cannot express.
func CheckRequired(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("expected test file patterns (%s)", ArgsUsage)
	}
	if ctx.Int(Concurrency.Name) < 1 {
		return fmt.Errorf("flag %s must be at least 1", Concurrency.Name)
	}
	for _, f := range []*cli.DurationFlag{ExecTimeout, PageTimeout} {
		if ctx.Duration(f.Name) <= 0 {
			return fmt.Errorf("flag %s must be positive", f.Name)
		}
	}
	return nil
}
