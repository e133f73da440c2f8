package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/forerun-dev/forerun/internal/buildrunner"
	"github.com/forerun-dev/forerun/internal/dependency"
	"github.com/forerun-dev/forerun/internal/logging"
	"github.com/forerun-dev/forerun/internal/probe"
	"github.com/forerun-dev/forerun/internal/waitloop"
)

// Orchestrator sequences one run: start the dependency, wait until it is
// ready, execute the build, stop the dependency. Cleanup runs on every
// path, including failures, and the build never executes unless the
// dependency handle reached the ready state.
type Orchestrator struct {
	Logger  *slog.Logger
	Service dependency.Service
	Probe   probe.Probe
	Policy  waitloop.Policy
	Runner  *buildrunner.Runner
}

// Run executes the full sequence synchronously and returns the terminal
// Outcome. It never returns an error: every failure mode is folded into
// the Outcome so callers see exactly one result per run.
func (o *Orchestrator) Run(ctx context.Context, spec buildrunner.BuildSpec) (outcome Outcome) {
	logger := logging.Ensure(o.Logger).With("component", "orchestrator")

	phase := PhaseIdle
	setPhase := func(next Phase) {
		logger.Debug("phase transition", "from", phase, "to", next)
		phase = next
	}

	setPhase(PhaseDependencyStarting)
	handle, err := o.Service.Start(ctx)
	if err != nil {
		setPhase(PhaseCleanup)
		outcome.Status = StatusDependencyFailed
		outcome.Err = err
		outcome.StopErr = o.stop(logger, nil)
		setPhase(PhaseComplete)
		return outcome
	}
	outcome.Handle = handle
	logger.Info("dependency starting", "handle", handle.ID, "address", handle.Address)

	defer func() {
		outcome.StopErr = o.stop(logger, handle)
		setPhase(PhaseComplete)
	}()

	setPhase(PhaseDependencyWaiting)
	verdict := waitloop.Wait(ctx, o.Probe, handle.ProbeEndpoint, o.Policy, o.Logger)
	outcome.Wait = &verdict
	if verdict.Status != waitloop.Ready {
		setPhase(PhaseCleanup)
		switch verdict.Status {
		case waitloop.TimedOut:
			outcome.Status = StatusTimeout
			outcome.Err = fmt.Errorf("dependency not ready after %d attempts in %s: %w",
				verdict.Attempts, verdict.Elapsed, errOrUnknown(verdict.LastErr))
		default:
			outcome.Status = StatusDependencyFailed
			outcome.Err = errOrUnknown(verdict.LastErr)
		}
		return outcome
	}

	if err := o.Service.MarkReady(handle); err != nil {
		setPhase(PhaseCleanup)
		outcome.Status = StatusDependencyFailed
		outcome.Err = err
		return outcome
	}

	setPhase(PhaseBuilding)
	result, err := o.Runner.Run(ctx, spec)
	outcome.Build = &result
	setPhase(PhaseCleanup)
	if err != nil {
		outcome.Status = StatusBuildFailed
		outcome.Err = err
		return outcome
	}
	if result.Failed() {
		outcome.Status = StatusBuildFailed
		outcome.Err = fmt.Errorf("build exited with code %d", result.ExitCode)
		return outcome
	}

	outcome.Status = StatusSuccess
	return outcome
}

// stop always runs exactly once per run; its error is recorded on the
// outcome but never replaces the primary status.
func (o *Orchestrator) stop(logger *slog.Logger, handle *dependency.Handle) error {
	if err := o.Service.Stop(handle); err != nil {
		logger.Error("dependency cleanup failed", "error", err)
		return err
	}
	return nil
}

func errOrUnknown(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("no probe attempt completed")
}
