package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/forerun-dev/forerun/internal/buildrunner"
	"github.com/forerun-dev/forerun/internal/dependency"
	"github.com/forerun-dev/forerun/internal/logging"
	"github.com/forerun-dev/forerun/internal/manifest"
	"github.com/forerun-dev/forerun/internal/orchestrator"
	"github.com/forerun-dev/forerun/internal/probe"
	"github.com/forerun-dev/forerun/internal/waitloop"
)

// Run loads a manifest and executes the orchestration it describes.
func Run(ctx context.Context, manifestPath string) (orchestrator.Outcome, error) {
	return Launch(ctx, manifestPath, nil)
}

// Launch is Run with an explicit logger; its signature matches what the
// daemon expects for starting runs.
func Launch(ctx context.Context, manifestPath string, logger *slog.Logger) (orchestrator.Outcome, error) {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return orchestrator.Outcome{}, err
	}
	return RunWithLogger(ctx, m, logger)
}

// RunWithLogger wires the manifest into concrete services and executes one
// orchestration end to end. The returned error covers wiring problems only;
// run results, including failures, arrive as the Outcome.
func RunWithLogger(ctx context.Context, m *manifest.Manifest, logger *slog.Logger) (orchestrator.Outcome, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")

	if m == nil {
		return orchestrator.Outcome{}, errors.New("manifest is required")
	}
	if err := m.Validate(); err != nil {
		return orchestrator.Outcome{}, err
	}

	p, err := BuildProbe(m.Probe)
	if err != nil {
		return orchestrator.Outcome{}, err
	}

	service, closeSink, err := buildService(m.Dependency, m.Probe.Target, logger)
	if err != nil {
		return orchestrator.Outcome{}, err
	}
	defer closeSink()

	orch := &orchestrator.Orchestrator{
		Logger:  logger,
		Service: service,
		Probe:   p,
		Policy:  Policy(m.Policy),
		Runner: &buildrunner.Runner{
			Logger: logger.With("service", "build"),
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		},
	}

	outcome := orch.Run(ctx, buildrunner.BuildSpec{
		Command: m.Build.Command,
		Env:     m.Build.Env,
		EnvFile: m.Build.EnvFile,
		Dir:     m.Build.Dir,
	})
	return outcome, nil
}

// Wait runs only the readiness wait from a manifest, without building.
func Wait(ctx context.Context, m *manifest.Manifest, logger *slog.Logger) (waitloop.Verdict, error) {
	p, err := BuildProbe(m.Probe)
	if err != nil {
		return waitloop.Verdict{}, err
	}
	return waitloop.Wait(ctx, p, m.Probe.Target, Policy(m.Policy), logger), nil
}

// ProbeOnce performs a single readiness check from a probe config.
func ProbeOnce(ctx context.Context, cfg manifest.ProbeConfig) (probe.Result, error) {
	p, err := BuildProbe(cfg)
	if err != nil {
		return probe.Result{}, err
	}
	return p.Check(ctx, cfg.Target), nil
}

// BuildProbe constructs the readiness probe a config selects.
func BuildProbe(cfg manifest.ProbeConfig) (probe.Probe, error) {
	switch cfg.Kind {
	case "postgres":
		return &probe.PostgresProbe{Timeout: cfg.CheckTimeout.Std()}, nil
	case "http":
		return &probe.HTTPProbe{ExpectBody: cfg.ExpectBody, Timeout: cfg.CheckTimeout.Std()}, nil
	case "command":
		return &probe.CommandProbe{Timeout: cfg.CheckTimeout.Std()}, nil
	default:
		return nil, fmt.Errorf("unknown probe kind %q", cfg.Kind)
	}
}

// Policy converts the manifest policy into wait-loop form.
func Policy(cfg manifest.PolicyConfig) waitloop.Policy {
	return waitloop.Policy{
		Interval:    cfg.Interval.Std(),
		MaxInterval: cfg.MaxInterval.Std(),
		Timeout:     cfg.Timeout.Std(),
		MaxAttempts: cfg.MaxAttempts,
	}
}

func buildService(cfg manifest.DependencyConfig, probeTarget string, logger *slog.Logger) (dependency.Service, func(), error) {
	if cfg.Borrowed() {
		service := &dependency.BorrowedService{
			Address:       cfg.Address,
			ProbeEndpoint: probeTarget,
		}
		return service, func() {}, nil
	}

	sink, closeSink, err := openLogSink(cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}

	service := &dependency.CommandService{
		Logger:        logger,
		Command:       cfg.Command,
		Address:       cfg.Address,
		ProbeEndpoint: probeTarget,
		LogSink:       sink,
		Dir:           cfg.Dir,
		Env:           cfg.Env,
	}
	return service, closeSink, nil
}

// openLogSink interprets the dependency log destination: empty discards,
// "-" streams to stderr, anything else appends to a file.
func openLogSink(destination string) (io.Writer, func(), error) {
	switch destination {
	case "":
		return io.Discard, func() {}, nil
	case "-":
		return os.Stderr, func() {}, nil
	default:
		file, err := os.OpenFile(destination, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open dependency log %s: %w", destination, err)
		}
		return file, func() { _ = file.Close() }, nil
	}
}
