package registry

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/bundlercompat/compat-runner/runner"
	"github.com/bundlercompat/compat-runner/types"
)

// DefaultPlatform is selected when no platform filter is given.
const DefaultPlatform = "nodejs"

// Filter tokens that expand to more than one platform.
const (
	FilterAll     = "*"
	FilterRuntime = string(types.PlatformKindRuntime)
	FilterBundler = string(types.PlatformKindBundler)
)

var (
	// ErrUnknownPlatform is returned for a filter naming no known platform.
	ErrUnknownPlatform = errors.New("unrecognized platform")
	// ErrPlatformDisabled is returned when a disabled platform is named explicitly.
	ErrPlatformDisabled = errors.New("platform is disabled")
)

// Platform is one entry of the platform table.
type Platform struct {
	types.PlatformInfo

	// Binary is the default executable. Bundlers hosted by the build bridge
	// use it as the node binary.
	Binary string
	Flags  []string

	newExecutor func(p Platform, cfg ExecutorConfig) (runner.Executor, error)
}

var denoVersionPattern = regexp.MustCompile(`(?m)^deno v?([\d.]+)`)

// platforms is the static table in declaration order.
var platforms = []Platform{
	{
		PlatformInfo: types.PlatformInfo{ID: "nodejs", Kind: types.PlatformKindRuntime, Name: "Node.js"},
		Binary:       "node",
		Flags:        []string{"--no-warnings"},
		newExecutor: func(p Platform, cfg ExecutorConfig) (runner.Executor, error) {
			return newExecExecutor(p, cfg, runner.ExecSpec{
				Shim:        runner.SetupShim,
				ShimFlag:    "--import=%s",
				ShimAsURL:   true,
				VersionArgs: []string{"--version"},
			})
		},
	},
	{
		PlatformInfo: types.PlatformInfo{ID: "deno", Kind: types.PlatformKindRuntime, Name: "Deno"},
		Binary:       "deno",
		Flags:        []string{"run", "--allow-env", "--allow-read", "--cached-only", "--no-lock"},
		newExecutor: func(p Platform, cfg ExecutorConfig) (runner.Executor, error) {
			return newExecExecutor(p, cfg, runner.ExecSpec{
				Shim:           runner.DenoShim,
				ShimMode:       runner.ShimEntryWrapper,
				VersionArgs:    []string{"--version"},
				VersionPattern: denoVersionPattern,
			})
		},
	},
	{
		PlatformInfo: types.PlatformInfo{ID: "bun", Kind: types.PlatformKindRuntime, Name: "Bun"},
		Binary:       "bun",
		newExecutor: func(p Platform, cfg ExecutorConfig) (runner.Executor, error) {
			return newExecExecutor(p, cfg, runner.ExecSpec{
				Shim:        runner.SetupShim,
				ShimFlag:    "--preload=%s",
				VersionArgs: []string{"--version"},
			})
		},
	},
	{
		PlatformInfo: types.PlatformInfo{ID: "esbuild", Kind: types.PlatformKindBundler, Name: "esbuild"},
		newExecutor: func(p Platform, cfg ExecutorConfig) (runner.Executor, error) {
			return newBundlingExecutor(p, cfg, runner.NewEsbuildBuilder(cfg.Log))
		},
	},
	{
		PlatformInfo: types.PlatformInfo{ID: "vite", Kind: types.PlatformKindBundler, Name: "Vite"},
		Binary:       "node",
		newExecutor:  newBridgeExecutor,
	},
	{
		PlatformInfo: types.PlatformInfo{ID: "webpack", Kind: types.PlatformKindBundler, Name: "webpack"},
		Binary:       "node",
		newExecutor:  newBridgeExecutor,
	},
	{
		PlatformInfo: types.PlatformInfo{ID: "rspack", Kind: types.PlatformKindBundler, Name: "Rspack"},
		Binary:       "node",
		newExecutor:  newBridgeExecutor,
	},
	{
		PlatformInfo: types.PlatformInfo{ID: "rsbuild", Kind: types.PlatformKindBundler, Name: "Rsbuild"},
		Binary:       "node",
		newExecutor:  newBridgeExecutor,
	},
}

func newExecExecutor(p Platform, cfg ExecutorConfig, spec runner.ExecSpec) (runner.Executor, error) {
	spec.Platform = p.PlatformInfo
	spec.Binary = p.Binary
	spec.Flags = slices.Clone(p.Flags)
	return runner.NewExecExecutor(runner.ExecExecutorConfig{
		Spec:    spec,
		WorkDir: cfg.WorkDir,
		Timeout: cfg.ExecTimeout,
		Log:     cfg.Log,
	})
}

func newBundlingExecutor(p Platform, cfg ExecutorConfig, builder runner.Builder) (runner.Executor, error) {
	var opts []chromedp.ExecAllocatorOption
	if cfg.BrowserPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.BrowserPath))
	}
	for _, flag := range cfg.BrowserFlags {
		name, value, found := strings.Cut(strings.TrimLeft(flag, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return runner.NewBundlingExecutor(runner.BundlingExecutorConfig{
		Platform:       p.PlatformInfo,
		Builder:        builder,
		WorkDir:        cfg.WorkDir,
		PageTimeout:    cfg.PageTimeout,
		BrowserOptions: opts,
		Log:            cfg.Log,
	})
}

func newBridgeExecutor(p Platform, cfg ExecutorConfig) (runner.Executor, error) {
	return newBundlingExecutor(p, cfg, runner.NewBridgeBuilder(runner.BridgeBuilderConfig{
		Bundler: p.ID,
		Node:    p.Binary,
		WorkDir: cfg.WorkDir,
		Log:     cfg.Log,
	}))
}

// PlatformOverride adjusts a table entry from the overrides file.
type PlatformOverride struct {
	Binary   string   `yaml:"binary"`
	Flags    []string `yaml:"flags"`
	Disabled bool     `yaml:"disabled"`
}

// BrowserConfig selects the browser used by bundler platforms.
type BrowserConfig struct {
	Path  string   `yaml:"path"`
	Flags []string `yaml:"flags"`
}

// Overrides is the optional yaml configuration file.
type Overrides struct {
	Browser   BrowserConfig               `yaml:"browser"`
	Platforms map[string]PlatformOverride `yaml:"platforms"`
}

// Config contains registry configuration
type Config struct {
	Log log.Logger
	// OverridesFile is an optional yaml file with per-platform overrides.
	OverridesFile string
}

// ExecutorConfig carries the run settings shared by every executor.
type ExecutorConfig struct {
	WorkDir      string
	ExecTimeout  time.Duration
	PageTimeout  time.Duration
	BrowserPath  string
	BrowserFlags []string
	Log          log.Logger
}

// Registry resolves platform filters and constructs executors.
type Registry struct {
	log       log.Logger
	overrides Overrides

	mu        sync.RWMutex
	platforms []Platform
	disabled  map[string]bool
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{
		log:      cfg.Log,
		disabled: make(map[string]bool),
	}

	var overrides Overrides
	if cfg.OverridesFile != "" {
		loaded, err := loadOverrides(cfg.OverridesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load overrides: %w", err)
		}
		overrides = *loaded
	}
	if err := r.apply(overrides); err != nil {
		return nil, err
	}

	cfg.Log.Debug("Registry loaded", "platforms", len(r.platforms), "disabled", len(r.disabled))
	return r, nil
}

func (r *Registry) apply(overrides Overrides) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.overrides = overrides
	r.platforms = make([]Platform, len(platforms))
	for i, p := range platforms {
		p.Flags = slices.Clone(p.Flags)
		r.platforms[i] = p
	}

	for id, o := range overrides.Platforms {
		i := slices.IndexFunc(r.platforms, func(p Platform) bool { return p.ID == id })
		if i < 0 {
			return fmt.Errorf("%w in overrides: %q", ErrUnknownPlatform, id)
		}
		if o.Binary != "" {
			r.platforms[i].Binary = o.Binary
		}
		if o.Flags != nil {
			r.platforms[i].Flags = slices.Clone(o.Flags)
		}
		if o.Disabled {
			r.disabled[id] = true
		}
	}
	return nil
}

// loadOverrides loads an overrides file
func loadOverrides(path string) (*Overrides, error) {
	log.Debug("Reading platform overrides file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading overrides file: %w", err)
	}

	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parsing overrides file: %w", err)
	}
	return &o, nil
}

// Platforms returns the table in declaration order, overrides applied.
func (r *Registry) Platforms() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.platforms)
}

// Platform returns one table entry.
func (r *Registry) Platform(id string) (Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.platforms {
		if p.ID == id {
			return p, nil
		}
	}
	return Platform{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, id)
}

// Resolve expands platform filters into platform ids, in table order and
// without duplicates. Each filter is "*", a platform kind, or a comma
// separated list of ids. No filters selects DefaultPlatform.
func (r *Registry) Resolve(filters []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(filters) == 0 {
		filters = []string{DefaultPlatform}
	}

	selected := make(map[string]bool)
	for _, filter := range filters {
		switch filter = strings.TrimSpace(filter); filter {
		case FilterAll:
			for _, p := range r.platforms {
				if !r.disabled[p.ID] {
					selected[p.ID] = true
				}
			}
		case FilterRuntime, FilterBundler:
			for _, p := range r.platforms {
				if string(p.Kind) == filter && !r.disabled[p.ID] {
					selected[p.ID] = true
				}
			}
		default:
			for _, id := range strings.Split(filter, ",") {
				id = strings.TrimSpace(id)
				if !slices.ContainsFunc(r.platforms, func(p Platform) bool { return p.ID == id }) {
					return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, id)
				}
				if r.disabled[id] {
					return nil, fmt.Errorf("%w: %q", ErrPlatformDisabled, id)
				}
				selected[id] = true
			}
		}
	}

	var ids []string
	for _, p := range r.platforms {
		if selected[p.ID] {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

// NewExecutor constructs the executor for a platform. Browser settings from
// the overrides file apply when cfg does not set them.
func (r *Registry) NewExecutor(id string, cfg ExecutorConfig) (runner.Executor, error) {
	p, err := r.Platform(id)
	if err != nil {
		return nil, err
	}
	if cfg.Log == nil {
		cfg.Log = r.log
	}
	if cfg.BrowserPath == "" {
		cfg.BrowserPath = r.overrides.Browser.Path
	}
	if cfg.BrowserFlags == nil {
		cfg.BrowserFlags = r.overrides.Browser.Flags
	}
	return p.newExecutor(p, cfg)
}
