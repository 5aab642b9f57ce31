package runner

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/bundlercompat/compat-runner/types"
)

// DefaultBuildTimeout bounds one bridge build.
const DefaultBuildTimeout = 60 * time.Second

// BridgeBuilder bundles suites with a JavaScript bundler (vite, webpack,
// rspack, rsbuild) through a node process running the build bridge shim.
type BridgeBuilder struct {
	bundler string
	node    string
	workDir string
	timeout time.Duration
	log     log.Logger
}

var _ Builder = (*BridgeBuilder)(nil)

// BridgeBuilderConfig configures a BridgeBuilder.
type BridgeBuilderConfig struct {
	Bundler string
	Node    string
	WorkDir string
	Timeout time.Duration
	Log     log.Logger
}

func NewBridgeBuilder(cfg BridgeBuilderConfig) *BridgeBuilder {
	if cfg.Node == "" {
		cfg.Node = "node"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBuildTimeout
	}
	return &BridgeBuilder{
		bundler: cfg.Bundler,
		node:    cfg.Node,
		workDir: cfg.WorkDir,
		timeout: cfg.Timeout,
		log:     cfg.Log,
	}
}

type bridgeFile struct {
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
	Contents string `json:"contents"`
}

type bridgeOutput struct {
	Version      string              `json:"version"`
	Main         string              `json:"main"`
	MainIsModule bool                `json:"mainIsModule"`
	Files        []bridgeFile        `json:"files"`
	Errors       []types.TestOutcome `json:"errors"`
}

func (b *BridgeBuilder) call(ctx context.Context, args ...string) (*bridgeOutput, error) {
	dir, err := InstallShims(b.workDir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.node, append([]string{filepath.Join(dir, BridgeShim)}, args...)...)
	cmd.Dir = b.workDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stripansi.Strip(stderr.String())); msg != "" {
			return nil, fmt.Errorf("%w\n%s", err, msg)
		}
		return nil, err
	}

	// The bundler may print before the bridge does; the document is the last line.
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	var out bridgeOutput
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &out); err != nil {
		return nil, fmt.Errorf("decoding build bridge output: %w", err)
	}
	return &out, nil
}

func (b *BridgeBuilder) Version(ctx context.Context) (string, error) {
	out, err := b.call(ctx, "version", b.bundler)
	if err != nil {
		return "", err
	}
	return ParseVersionOutput(out.Version, nil)
}

func (b *BridgeBuilder) Build(ctx context.Context, filename string, cwd string, page *PageContext) []types.TestOutcome {
	entry, err := filepath.Rel(cwd, filename)
	if err != nil {
		entry = filename
	}
	out, err := b.call(ctx, "build", b.bundler, filepath.ToSlash(entry), "/"+page.ID+"/")
	if err != nil {
		return []types.TestOutcome{types.NewFailedOutcome(BuildSuiteDescription,
			fmt.Errorf("Test suite failed to build: %w", err))}
	}
	if len(out.Errors) > 0 {
		return out.Errors
	}

	for _, f := range out.Files {
		contents := []byte(f.Contents)
		if f.Encoding == "base64" {
			contents, err = base64.StdEncoding.DecodeString(f.Contents)
			if err != nil {
				return []types.TestOutcome{types.NewFailedOutcome(BuildSuiteDescription,
					fmt.Errorf("decoding %s: %w", f.Path, err))}
			}
		}
		page.Files[f.Path] = contents
	}
	if out.Main != "" {
		page.MainURL = out.Main
	}
	page.MainIsModule = out.MainIsModule
	if b.log != nil {
		b.log.Debug("Bundled suite", "bundler", b.bundler, "file", filename, "outputs", len(out.Files))
	}
	return nil
}
