package orchestrator

import (
	"github.com/forerun-dev/forerun/internal/buildrunner"
	"github.com/forerun-dev/forerun/internal/dependency"
	"github.com/forerun-dev/forerun/internal/waitloop"
)

// Status is the terminal status of an orchestration run.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusTimeout          Status = "timeout"
	StatusBuildFailed      Status = "build_failed"
	StatusDependencyFailed Status = "dependency_failed"
)

// Phase tracks progress through the run for logging and inspection.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseDependencyStarting Phase = "dependency_starting"
	PhaseDependencyWaiting  Phase = "dependency_waiting"
	PhaseBuilding           Phase = "building"
	PhaseCleanup            Phase = "cleanup"
	PhaseComplete           Phase = "complete"
)

// Outcome is the single terminal result of a run. Only the orchestrator
// produces one; lower components report structured results it folds in.
type Outcome struct {
	Status Status

	// Handle references the dependency used for the run, if one started.
	Handle *dependency.Handle

	// Wait reports how the readiness wait ended, when it ran.
	Wait *waitloop.Verdict

	// Build carries the build execution verbatim, when it ran.
	Build *buildrunner.Result

	// Err is the error behind a non-success status, when there is one.
	Err error

	// StopErr records a cleanup failure. It never masks Status.
	StopErr error
}

// Exit codes per terminal status, used by the CLI.
const (
	ExitSuccess          = 0
	ExitBuildFailed      = 2
	ExitTimeout          = 3
	ExitDependencyFailed = 4
)

// ExitCode maps the outcome status onto the CLI exit-code contract.
func (o Outcome) ExitCode() int {
	switch o.Status {
	case StatusSuccess:
		return ExitSuccess
	case StatusBuildFailed:
		return ExitBuildFailed
	case StatusTimeout:
		return ExitTimeout
	default:
		return ExitDependencyFailed
	}
}
