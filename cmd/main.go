package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	compat "github.com/bundlercompat/compat-runner"
	"github.com/bundlercompat/compat-runner/flags"
	"github.com/bundlercompat/compat-runner/service"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
			return
		}
		// Suite failures exit with 1, everything else with 2
		cli.HandleExitCoder(cli.Exit(err.Error(), compat.ExitCode(err)))
	}

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "compat-runner"
	app.Usage = "Bundler and runtime compatibility test runner"
	app.Description = "compat-runner runs compat suites on JavaScript runtimes and bundlers and records the observed support in the compat data"
	app.ArgsUsage = flags.ArgsUsage
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	return app
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := compat.NewConfig(ctx, log)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, compat.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg)

	orchestrator, err := compat.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, compat.NewRuntimeError(fmt.Errorf("failed to create orchestrator: %w", err))
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if !metricsCfg.Enabled {
		return orchestrator, nil
	}
	if err := metricsCfg.Check(); err != nil {
		return nil, compat.NewRuntimeError(fmt.Errorf("invalid metrics config: %w", err))
	}
	return &serviceLifecycle{
		Lifecycle: orchestrator,
		svc:       service.New(service.NewConfig(metricsCfg.ListenAddr, metricsCfg.ListenPort), log),
	}, nil
}

// serviceLifecycle serves healthz and metrics for as long as the run lasts.
type serviceLifecycle struct {
	cliapp.Lifecycle
	svc *service.Service
}

func (l *serviceLifecycle) Start(ctx context.Context) error {
	l.svc.Start(ctx)
	if err := l.Lifecycle.Start(ctx); err != nil {
		l.svc.Shutdown()
		return err
	}
	return nil
}

func (l *serviceLifecycle) Stop(ctx context.Context) error {
	l.svc.Shutdown()
	return l.Lifecycle.Stop(ctx)
}
