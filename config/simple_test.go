package config

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/forerun-dev/forerun/internal/manifest"
	"github.com/forerun-dev/forerun/internal/orchestrator"
	"github.com/forerun-dev/forerun/internal/waitloop"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func healthServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunWithLoggerBorrowedDependency(t *testing.T) {
	t.Parallel()

	server := healthServer(t, "ok")

	m := &manifest.Manifest{
		Probe: manifest.ProbeConfig{Kind: "http", Target: server.URL, ExpectBody: "ok"},
		Policy: manifest.PolicyConfig{
			Interval: manifest.Duration(time.Millisecond),
			Timeout:  manifest.Duration(5 * time.Second),
		},
		Build: manifest.BuildConfig{Command: []string{"sh", "-c", "test -n \"$HEALTH_URL\""},
			Env: map[string]string{"HEALTH_URL": server.URL}},
	}

	outcome, err := RunWithLogger(context.Background(), m, newTestLogger())
	if err != nil {
		t.Fatalf("RunWithLogger() error = %v", err)
	}
	if outcome.Status != orchestrator.StatusSuccess {
		t.Fatalf("RunWithLogger() status = %v (err %v), want Success", outcome.Status, outcome.Err)
	}
	if !outcome.Handle.Borrowed {
		t.Fatal("dependency without a command should be borrowed")
	}
}

func TestRunWithLoggerOwnedDependency(t *testing.T) {
	t.Parallel()

	m := &manifest.Manifest{
		Dependency: manifest.DependencyConfig{
			// A stand-in dependency that stays alive until stopped.
			Command: []string{"sleep", "60"},
		},
		Probe: manifest.ProbeConfig{Kind: "command", Target: "true"},
		Policy: manifest.PolicyConfig{
			Interval: manifest.Duration(time.Millisecond),
			Timeout:  manifest.Duration(5 * time.Second),
		},
		Build: manifest.BuildConfig{Command: []string{"sh", "-c", "echo artifacts"}},
	}

	outcome, err := RunWithLogger(context.Background(), m, newTestLogger())
	if err != nil {
		t.Fatalf("RunWithLogger() error = %v", err)
	}
	if outcome.Status != orchestrator.StatusSuccess {
		t.Fatalf("RunWithLogger() status = %v (err %v), want Success", outcome.Status, outcome.Err)
	}
	if outcome.Handle.PID <= 0 {
		t.Fatal("owned dependency has no pid")
	}
	if !strings.Contains(outcome.Build.Stdout, "artifacts") {
		t.Fatalf("build stdout = %q", outcome.Build.Stdout)
	}
}

func TestRunWithLoggerInvalidManifest(t *testing.T) {
	t.Parallel()

	if _, err := RunWithLogger(context.Background(), nil, newTestLogger()); err == nil {
		t.Fatal("RunWithLogger(nil) succeeded")
	}

	m := &manifest.Manifest{Build: manifest.BuildConfig{Command: []string{"true"}}}
	if _, err := RunWithLogger(context.Background(), m, newTestLogger()); err == nil {
		t.Fatal("RunWithLogger() succeeded without a probe")
	}
}

func TestWaitFacade(t *testing.T) {
	t.Parallel()

	server := healthServer(t, "ready")

	m := &manifest.Manifest{
		Probe: manifest.ProbeConfig{Kind: "http", Target: server.URL},
		Policy: manifest.PolicyConfig{
			Interval: manifest.Duration(time.Millisecond),
			Timeout:  manifest.Duration(5 * time.Second),
		},
	}

	verdict, err := Wait(context.Background(), m, newTestLogger())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if verdict.Status != waitloop.Ready {
		t.Fatalf("Wait() status = %v, want Ready", verdict.Status)
	}
}

func TestProbeOnce(t *testing.T) {
	t.Parallel()

	server := healthServer(t, "ok")

	result, err := ProbeOnce(context.Background(), manifest.ProbeConfig{Kind: "http", Target: server.URL})
	if err != nil {
		t.Fatalf("ProbeOnce() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("ProbeOnce() failed: %v", result.Err)
	}

	if _, err := ProbeOnce(context.Background(), manifest.ProbeConfig{Kind: "redis", Target: "x"}); err == nil {
		t.Fatal("ProbeOnce() accepted an unknown probe kind")
	}
}

func TestBuildProbeKinds(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"postgres", "http", "command"} {
		p, err := BuildProbe(manifest.ProbeConfig{Kind: kind, Target: "x"})
		if err != nil {
			t.Fatalf("BuildProbe(%q) error = %v", kind, err)
		}
		if p.Kind() != kind {
			t.Fatalf("BuildProbe(%q).Kind() = %q", kind, p.Kind())
		}
	}
}
