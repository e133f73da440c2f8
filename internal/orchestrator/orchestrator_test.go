package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/forerun-dev/forerun/internal/buildrunner"
	"github.com/forerun-dev/forerun/internal/dependency"
	"github.com/forerun-dev/forerun/internal/probe"
	"github.com/forerun-dev/forerun/internal/waitloop"
)

type stubService struct {
	startErr error
	stopErr  error

	startCalls int
	stopCalls  int
	readyCalls int
	handle     *dependency.Handle
}

func (s *stubService) Start(ctx context.Context) (*dependency.Handle, error) {
	s.startCalls++
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.handle = &dependency.Handle{
		ID:            "run-test",
		Address:       "127.0.0.1:5433",
		ProbeEndpoint: "endpoint",
		State:         dependency.StateStarting,
	}
	return s.handle, nil
}

func (s *stubService) MarkReady(handle *dependency.Handle) error {
	s.readyCalls++
	handle.State = dependency.StateReady
	return nil
}

func (s *stubService) Stop(handle *dependency.Handle) error {
	s.stopCalls++
	if handle != nil {
		handle.State = dependency.StateStopped
	}
	return s.stopErr
}

// countingProbe fails until ready, recording the handle state seen by the
// build through the shared service.
type countingProbe struct {
	failBefore int
	calls      int
}

func (p *countingProbe) Kind() string { return "stub" }

func (p *countingProbe) Check(ctx context.Context, endpoint string) probe.Result {
	p.calls++
	if p.calls > p.failBefore {
		return probe.Result{Success: true}
	}
	return probe.Result{Success: false, Err: fmt.Errorf("refused (attempt %d)", p.calls)}
}

func fastPolicy() waitloop.Policy {
	return waitloop.Policy{
		Interval:    time.Millisecond,
		MaxInterval: time.Millisecond,
		Timeout:     5 * time.Second,
	}
}

func TestRunSuccessStopsDependencyOnce(t *testing.T) {
	t.Parallel()

	service := &stubService{}
	o := &Orchestrator{
		Service: service,
		Probe:   &countingProbe{failBefore: 3},
		Policy:  fastPolicy(),
		Runner:  &buildrunner.Runner{},
	}

	outcome := o.Run(context.Background(), buildrunner.BuildSpec{
		Command: []string{"sh", "-c", "echo ok"},
	})

	if outcome.Status != StatusSuccess {
		t.Fatalf("Run() status = %v (err %v), want Success", outcome.Status, outcome.Err)
	}
	if outcome.ExitCode() != ExitSuccess {
		t.Fatalf("ExitCode() = %d, want 0", outcome.ExitCode())
	}
	if outcome.Wait == nil || outcome.Wait.Attempts != 4 {
		t.Fatalf("Run() wait verdict = %+v, want success on attempt 4", outcome.Wait)
	}
	if service.stopCalls != 1 {
		t.Fatalf("stop called %d times, want 1", service.stopCalls)
	}
	if service.readyCalls != 1 {
		t.Fatal("dependency was never marked ready before the build")
	}
	if outcome.Handle.State != dependency.StateStopped {
		t.Fatalf("handle state = %v, want StateStopped", outcome.Handle.State)
	}
}

func TestRunStartFailure(t *testing.T) {
	t.Parallel()

	service := &stubService{startErr: &dependency.StartError{Reason: "port unavailable"}}
	o := &Orchestrator{
		Service: service,
		Probe:   &countingProbe{},
		Policy:  fastPolicy(),
		Runner:  &buildrunner.Runner{},
	}

	outcome := o.Run(context.Background(), buildrunner.BuildSpec{Command: []string{"true"}})

	if outcome.Status != StatusDependencyFailed {
		t.Fatalf("Run() status = %v, want DependencyFailed", outcome.Status)
	}
	if outcome.ExitCode() != ExitDependencyFailed {
		t.Fatalf("ExitCode() = %d, want %d", outcome.ExitCode(), ExitDependencyFailed)
	}
	var startErr *dependency.StartError
	if !errors.As(outcome.Err, &startErr) {
		t.Fatalf("Run() err = %v, want *StartError", outcome.Err)
	}
	if service.stopCalls != 1 {
		t.Fatalf("stop called %d times, want 1 (cleanup always runs)", service.stopCalls)
	}
	if outcome.Build != nil {
		t.Fatal("build ran despite dependency failure")
	}
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()

	service := &stubService{}
	o := &Orchestrator{
		Service: service,
		Probe:   &countingProbe{failBefore: 1 << 30},
		Policy: waitloop.Policy{
			Interval:    time.Millisecond,
			MaxInterval: time.Millisecond,
			Timeout:     25 * time.Millisecond,
		},
		Runner: &buildrunner.Runner{},
	}

	outcome := o.Run(context.Background(), buildrunner.BuildSpec{Command: []string{"true"}})

	if outcome.Status != StatusTimeout {
		t.Fatalf("Run() status = %v, want Timeout", outcome.Status)
	}
	if outcome.ExitCode() != ExitTimeout {
		t.Fatalf("ExitCode() = %d, want %d", outcome.ExitCode(), ExitTimeout)
	}
	if outcome.Build != nil {
		t.Fatal("build ran despite the dependency never becoming ready")
	}
	if service.stopCalls != 1 {
		t.Fatalf("stop called %d times, want 1", service.stopCalls)
	}
	if outcome.Err == nil || !strings.Contains(outcome.Err.Error(), "not ready") {
		t.Fatalf("Run() err = %v, want readiness context", outcome.Err)
	}
}

func TestRunBuildFailure(t *testing.T) {
	t.Parallel()

	service := &stubService{}
	o := &Orchestrator{
		Service: service,
		Probe:   &countingProbe{},
		Policy:  fastPolicy(),
		Runner:  &buildrunner.Runner{},
	}

	outcome := o.Run(context.Background(), buildrunner.BuildSpec{
		Command: []string{"sh", "-c", "echo migration missing >&2; exit 1"},
	})

	if outcome.Status != StatusBuildFailed {
		t.Fatalf("Run() status = %v, want BuildFailed", outcome.Status)
	}
	if outcome.ExitCode() != ExitBuildFailed {
		t.Fatalf("ExitCode() = %d, want %d", outcome.ExitCode(), ExitBuildFailed)
	}
	if outcome.Build == nil || !strings.Contains(outcome.Build.Stderr, "migration missing") {
		t.Fatalf("Run() build = %+v, want captured stderr", outcome.Build)
	}
	if service.stopCalls != 1 {
		t.Fatalf("stop called %d times, want 1 (cleanup after failed build)", service.stopCalls)
	}
}

func TestRunStopErrorNeverMasksStatus(t *testing.T) {
	t.Parallel()

	service := &stubService{stopErr: &dependency.StopError{Reason: "unkillable"}}
	o := &Orchestrator{
		Service: service,
		Probe:   &countingProbe{},
		Policy:  fastPolicy(),
		Runner:  &buildrunner.Runner{},
	}

	outcome := o.Run(context.Background(), buildrunner.BuildSpec{
		Command: []string{"sh", "-c", "echo ok"},
	})

	if outcome.Status != StatusSuccess {
		t.Fatalf("Run() status = %v, want Success despite stop error", outcome.Status)
	}
	if outcome.StopErr == nil {
		t.Fatal("Run() dropped the stop error")
	}
}

func TestRunMisconfiguredProbeFailsFast(t *testing.T) {
	t.Parallel()

	service := &stubService{}
	o := &Orchestrator{
		Service: service,
		Probe:   &probe.PostgresProbe{},
		Policy:  fastPolicy(),
		Runner:  &buildrunner.Runner{},
	}

	// The stub handle's endpoint is not a postgres URL, so the first check
	// reports a misconfiguration and the wait aborts without retrying.
	outcome := o.Run(context.Background(), buildrunner.BuildSpec{Command: []string{"true"}})

	if outcome.Status != StatusDependencyFailed {
		t.Fatalf("Run() status = %v, want DependencyFailed", outcome.Status)
	}
	if outcome.Wait == nil || outcome.Wait.Attempts != 1 {
		t.Fatalf("Run() wait verdict = %+v, want a single aborted attempt", outcome.Wait)
	}
	if service.stopCalls != 1 {
		t.Fatalf("stop called %d times, want 1", service.stopCalls)
	}
}

func TestRunBorrowedDependency(t *testing.T) {
	t.Parallel()

	service := &dependency.BorrowedService{ProbeEndpoint: "endpoint"}
	o := &Orchestrator{
		Service: service,
		Probe:   &countingProbe{},
		Policy:  fastPolicy(),
		Runner:  &buildrunner.Runner{},
	}

	outcome := o.Run(context.Background(), buildrunner.BuildSpec{
		Command: []string{"sh", "-c", "echo ok"},
	})

	if outcome.Status != StatusSuccess {
		t.Fatalf("Run() status = %v (err %v), want Success", outcome.Status, outcome.Err)
	}
	if !outcome.Handle.Borrowed {
		t.Fatal("handle not marked borrowed")
	}
}
