package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/mod/semver"

	"github.com/bundlercompat/compat-runner/types"
)

var (
	// ErrSuiteTimeout is reported when a suite does not finish within its deadline.
	ErrSuiteTimeout = errors.New("test suite timed out")
	// ErrOutputTruncated is reported when a suite writes more output than is kept.
	ErrOutputTruncated = errors.New("test suite output truncated")
)

// Executor runs suite files on one platform.
type Executor interface {
	// Platform describes the platform. Version is only known after Setup.
	Platform() types.PlatformInfo

	// Setup prepares the executor and resolves the platform version. It is
	// called once per run, before any suite.
	Setup(ctx context.Context) error

	// RunSuite runs one suite file and returns its outcomes in order.
	// Invocation failures are reported as synthetic failed outcomes.
	RunSuite(ctx context.Context, filename string, cwd string) []types.TestOutcome

	Close() error
}

// ShimMode selects how the shim is loaded before the suite.
type ShimMode int

const (
	// ShimPreload passes the shim through a preload flag, e.g. --import=<shim>.
	ShimPreload ShimMode = iota
	// ShimEntryWrapper runs the shim as the entry point with the suite as its argument.
	ShimEntryWrapper
)

// ExecSpec describes how a subprocess platform is invoked.
type ExecSpec struct {
	Platform types.PlatformInfo
	Binary   string
	Flags    []string

	Shim     string
	ShimMode ShimMode
	// ShimFlag is a format string receiving the shim location, used with ShimPreload.
	ShimFlag string
	// ShimAsURL passes the shim location as a file:// URL.
	ShimAsURL bool

	VersionArgs    []string
	VersionPattern *regexp.Regexp
}

// ExecExecutorConfig configures an ExecExecutor.
type ExecExecutorConfig struct {
	Spec    ExecSpec
	WorkDir string
	Timeout time.Duration
	// MaxOutputBytes bounds the stdout kept per suite.
	MaxOutputBytes int
	Log            log.Logger
}

// ExecExecutor runs each suite in a fresh runtime process.
type ExecExecutor struct {
	spec     ExecSpec
	platform types.PlatformInfo
	workDir  string
	timeout  time.Duration
	maxOut   int
	shimPath string
	log      log.Logger
}

var _ Executor = (*ExecExecutor)(nil)

// NewExecExecutor creates a subprocess executor.
func NewExecExecutor(cfg ExecExecutorConfig) (*ExecExecutor, error) {
	if cfg.Spec.Binary == "" {
		return nil, fmt.Errorf("binary cannot be empty for platform %s", cfg.Spec.Platform.ID)
	}
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("workdir cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultExecTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultStdoutTailBytes
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided to executor, using default")
	}
	return &ExecExecutor{
		spec:     cfg.Spec,
		platform: cfg.Spec.Platform,
		workDir:  cfg.WorkDir,
		timeout:  cfg.Timeout,
		maxOut:   cfg.MaxOutputBytes,
		log:      cfg.Log.New("platform", cfg.Spec.Platform.ID),
	}, nil
}

func (e *ExecExecutor) Platform() types.PlatformInfo {
	return e.platform
}

func (e *ExecExecutor) Setup(ctx context.Context) error {
	dir, err := InstallShims(e.workDir)
	if err != nil {
		return err
	}
	e.shimPath = filepath.Join(dir, e.spec.Shim)

	version, err := e.queryVersion(ctx)
	if err != nil {
		return err
	}
	e.platform.Version = version
	e.log.Info("Resolved platform version", "version", version)
	return nil
}

func (e *ExecExecutor) queryVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultVersionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, e.spec.Binary, e.spec.VersionArgs...).Output()
	if err != nil {
		return "", fmt.Errorf("querying %s version: %w", e.spec.Binary, err)
	}
	return ParseVersionOutput(string(out), e.spec.VersionPattern)
}

// ParseVersionOutput extracts a semantic version from a version command's
// output using the first capture group of pattern.
func ParseVersionOutput(output string, pattern *regexp.Regexp) (string, error) {
	version := strings.TrimSpace(output)
	if pattern != nil {
		m := pattern.FindStringSubmatch(output)
		if len(m) < 2 {
			return "", fmt.Errorf("could not find a version in %q", output)
		}
		version = m[1]
	}
	version = strings.TrimPrefix(version, "v")
	if !semver.IsValid("v" + version) {
		return "", fmt.Errorf("invalid platform version %q", version)
	}
	return version, nil
}

// Args returns the command line used to run filename, without the binary.
func (e *ExecExecutor) Args(filename string) []string {
	args := append([]string{}, e.spec.Flags...)
	shim := e.shimPath
	if e.spec.ShimAsURL {
		shim = (&url.URL{Scheme: "file", Path: filepath.ToSlash(shim)}).String()
	}
	switch e.spec.ShimMode {
	case ShimEntryWrapper:
		args = append(args, shim)
	default:
		args = append(args, fmt.Sprintf(e.spec.ShimFlag, shim))
	}
	return append(args, filename)
}

func (e *ExecExecutor) RunSuite(ctx context.Context, filename string, cwd string) []types.TestOutcome {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.spec.Binary, e.Args(filename)...)
	cmd.Dir = cwd
	cmd.WaitDelay = time.Second

	stdout := newTailBuffer(e.maxOut)
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	e.log.Debug("Running suite", "file", filename, "args", cmd.Args)
	runErr := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return []types.TestOutcome{types.NewFailedOutcome(RunSuiteDescription,
			fmt.Errorf("%w after %s", ErrSuiteTimeout, e.timeout))}
	}
	// Lost outcome lines would under-count the suite.
	if stdout.Truncated() {
		e.log.Warn("Suite output was truncated", "file", filename, "limit", e.maxOut)
		return []types.TestOutcome{types.NewFailedOutcome(RunSuiteDescription,
			fmt.Errorf("%w: more than %d bytes written", ErrOutputTruncated, e.maxOut))}
	}

	// The harness exits non-zero after reporting a registration error.
	outcomes := ParseOutcomes(stdout.Bytes(), e.log)
	if fatal := FatalOutcomes(outcomes); len(fatal) > 0 {
		return fatal
	}

	if runErr != nil {
		msg := strings.TrimSpace(stripansi.Strip(stderr.String()))
		e.log.Warn("Suite process failed", "file", filename, "err", runErr, "stderr", msg)
		if msg != "" {
			runErr = fmt.Errorf("%w\n%s", runErr, msg)
		}
		return []types.TestOutcome{types.NewFailedOutcome(RunSuiteDescription, runErr)}
	}
	return outcomes
}

func (e *ExecExecutor) Close() error {
	return nil
}
