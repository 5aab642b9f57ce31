package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/ethereum/go-ethereum/log"

	"github.com/bundlercompat/compat-runner/types"
)

// Builder turns a suite file into a page context for the browser.
type Builder interface {
	// Version returns the bundler version.
	Version(ctx context.Context) (string, error)

	// Build fills page with the bundled suite. Build failures are returned
	// as outcomes, in which case the suite is not run.
	Build(ctx context.Context, filename string, cwd string, page *PageContext) []types.TestOutcome
}

// BundlingExecutorConfig configures a BundlingExecutor.
type BundlingExecutorConfig struct {
	Platform types.PlatformInfo
	Builder  Builder
	// WorkDir is searched for the expect package. Without it pages use the
	// built-in matchers.
	WorkDir        string
	PageTimeout    time.Duration
	BrowserOptions []chromedp.ExecAllocatorOption
	Log            log.Logger
}

// BundlingExecutor bundles each suite and runs it in a headless browser
// page served by a PageServer.
type BundlingExecutor struct {
	platform    types.PlatformInfo
	builder     Builder
	workDir     string
	pageTimeout time.Duration
	browserOpts []chromedp.ExecAllocatorOption
	log         log.Logger

	expectBundle []byte

	mu            sync.Mutex
	server        *PageServer
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

var _ Executor = (*BundlingExecutor)(nil)

// NewBundlingExecutor creates a browser-backed executor.
func NewBundlingExecutor(cfg BundlingExecutorConfig) (*BundlingExecutor, error) {
	if cfg.Builder == nil {
		return nil, fmt.Errorf("builder cannot be nil for platform %s", cfg.Platform.ID)
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = DefaultPageTimeout
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided to bundling executor, using default")
	}
	return &BundlingExecutor{
		platform:    cfg.Platform,
		builder:     cfg.Builder,
		workDir:     cfg.WorkDir,
		pageTimeout: cfg.PageTimeout,
		browserOpts: cfg.BrowserOptions,
		log:         cfg.Log.New("platform", cfg.Platform.ID),
	}, nil
}

func (e *BundlingExecutor) Platform() types.PlatformInfo {
	return e.platform
}

func (e *BundlingExecutor) Setup(ctx context.Context) error {
	version, err := e.builder.Version(ctx)
	if err != nil {
		return fmt.Errorf("resolving %s version: %w", e.platform.ID, err)
	}
	e.platform.Version = version
	e.log.Info("Resolved platform version", "version", version)

	if e.workDir != "" {
		bundle, err := BuildExpectBundle(e.workDir)
		switch {
		case err == nil:
			e.expectBundle = bundle
		case errors.Is(err, ErrExpectNotInstalled):
			e.log.Debug("Using built-in matchers on pages")
		default:
			e.log.Warn("Using built-in matchers on pages", "err", err)
		}
	}
	return nil
}

// start launches the page server and the browser on first use.
func (e *BundlingExecutor) start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCtx != nil {
		return nil
	}

	server := NewPageServer(e.log)
	if err := server.Start(); err != nil {
		return err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:], e.browserOpts...)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		_ = server.Close()
		return fmt.Errorf("starting browser: %w", err)
	}

	e.server = server
	e.browserCtx = browserCtx
	e.browserCancel = browserCancel
	e.allocCancel = allocCancel
	e.log.Debug("Started headless browser")
	return nil
}

func (e *BundlingExecutor) RunSuite(ctx context.Context, filename string, cwd string) []types.TestOutcome {
	page := NewPageContext()
	if failures := e.builder.Build(ctx, filename, cwd, page); len(failures) > 0 {
		return failures
	}
	if e.expectBundle != nil {
		page.Files[ExpectBundleURL] = e.expectBundle
		page.ExpectURL = ExpectBundleURL
	}

	if err := e.start(); err != nil {
		return []types.TestOutcome{types.NewFailedOutcome(RunSuiteDescription, err)}
	}

	e.server.Register(page)
	outcomes, pageErrors := e.runPage(ctx, page)
	for _, err := range e.server.Unregister(page.ID) {
		pageErrors = append(pageErrors, types.NewFailedOutcome(PageErrorDescription, err))
	}

	// A registration error also throws on the page; report the cause.
	if fatal := FatalOutcomes(outcomes); len(fatal) > 0 {
		return fatal
	}
	if len(pageErrors) > 0 {
		return pageErrors
	}
	return outcomes
}

// runPage opens a tab on the harness page, collects outcome lines until the
// done sentinel and closes the tab.
func (e *BundlingExecutor) runPage(ctx context.Context, page *PageContext) ([]types.TestOutcome, []types.TestOutcome) {
	tabCtx, cancel := chromedp.NewContext(e.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		mu         sync.Mutex
		lines      []types.TestOutcome
		pageErrors []types.TestOutcome
		once       sync.Once
		done       = make(chan struct{})
	)

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			text := consoleText(ev.Args)
			if text == DoneSentinel {
				once.Do(func() { close(done) })
				return
			}
			if ev.Type != runtime.APITypeLog {
				e.log.Debug("Console message", "type", ev.Type, "text", text)
				return
			}
			outcome, ok := ParseOutcome(text)
			if !ok {
				e.log.Debug("Ignoring console output", "text", text)
				return
			}
			mu.Lock()
			lines = append(lines, outcome)
			mu.Unlock()
		case *runtime.EventExceptionThrown:
			mu.Lock()
			pageErrors = append(pageErrors, exceptionOutcome(ev.ExceptionDetails))
			mu.Unlock()
		}
	})

	if err := chromedp.Run(tabCtx, chromedp.Navigate(e.server.URL(page.ID))); err != nil {
		return nil, []types.TestOutcome{types.NewFailedOutcome(PageErrorDescription, err)}
	}

	var waitErr error
	timer := time.NewTimer(e.pageTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		waitErr = fmt.Errorf("%w after %s", ErrSuiteTimeout, e.pageTimeout)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	if err := chromedp.Cancel(tabCtx); err != nil {
		e.log.Debug("Closing tab failed", "err", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(pageErrors) > 0 {
		return append([]types.TestOutcome(nil), lines...), append([]types.TestOutcome(nil), pageErrors...)
	}
	if waitErr != nil {
		return []types.TestOutcome{types.NewFailedOutcome(RunSuiteDescription, waitErr)}, nil
	}
	return append([]types.TestOutcome(nil), lines...), nil
}

// consoleText joins console arguments the way the browser prints them.
func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		raw := []byte(arg.Value)
		if arg.Type == runtime.TypeString {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				parts = append(parts, s)
				continue
			}
		}
		if len(raw) > 0 {
			parts = append(parts, string(raw))
			continue
		}
		parts = append(parts, arg.Description)
	}
	return strings.Join(parts, " ")
}

func exceptionOutcome(details *runtime.ExceptionDetails) types.TestOutcome {
	if details == nil {
		return types.NewFailedOutcome(PageErrorDescription, nil)
	}
	message := details.Text
	stack := ""
	if details.Exception != nil && details.Exception.Description != "" {
		stack = details.Exception.Description
		message, _, _ = strings.Cut(stack, "\n")
	}
	return types.TestOutcome{
		Description: PageErrorDescription,
		Error:       &types.OutcomeError{Message: message, Stack: stack},
	}
}

func (e *BundlingExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCancel != nil {
		e.browserCancel()
		e.allocCancel()
		e.browserCtx = nil
	}
	if e.server != nil {
		err := e.server.Close()
		e.server = nil
		return err
	}
	return nil
}
