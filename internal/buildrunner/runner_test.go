package buildrunner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesSuccess(t *testing.T) {
	t.Parallel()

	runner := &Runner{}
	result, err := runner.Run(context.Background(), BuildSpec{
		Command: []string{"sh", "-c", "echo built"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Failed() {
		t.Fatalf("Run() exit code = %d, want 0", result.ExitCode)
	}
	if !strings.Contains(result.Stdout, "built") {
		t.Fatalf("Run() stdout = %q, want it to contain 'built'", result.Stdout)
	}
	if result.Duration <= 0 {
		t.Fatalf("Run() duration = %v", result.Duration)
	}
}

func TestRunCapturesFailureVerbatim(t *testing.T) {
	t.Parallel()

	runner := &Runner{}
	result, err := runner.Run(context.Background(), BuildSpec{
		Command: []string{"sh", "-c", "echo schema missing >&2; exit 1"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for a non-zero exit", err)
	}
	if result.ExitCode != 1 {
		t.Fatalf("Run() exit code = %d, want 1", result.ExitCode)
	}
	if !strings.Contains(result.Stderr, "schema missing") {
		t.Fatalf("Run() stderr = %q, want captured message", result.Stderr)
	}
}

func TestRunPassesEnvironment(t *testing.T) {
	t.Parallel()

	runner := &Runner{}
	result, err := runner.Run(context.Background(), BuildSpec{
		Command: []string{"sh", "-c", `echo "url=$DATABASE_URL flag=$FEATURE_FLAG"`},
		Env: map[string]string{
			"DATABASE_URL": "postgres://127.0.0.1:5433/app",
			"FEATURE_FLAG": "on",
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(result.Stdout, "url=postgres://127.0.0.1:5433/app") {
		t.Fatalf("Run() stdout = %q, env value not passed", result.Stdout)
	}
	if !strings.Contains(result.Stdout, "flag=on") {
		t.Fatalf("Run() stdout = %q, env value not passed", result.Stdout)
	}
}

func TestRunMergesEnvFileWithExplicitWins(t *testing.T) {
	t.Parallel()

	envFile := filepath.Join(t.TempDir(), ".env.build")
	content := "FROM_FILE=file-value\nOVERRIDDEN=file-value\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	runner := &Runner{}
	result, err := runner.Run(context.Background(), BuildSpec{
		Command: []string{"sh", "-c", `echo "$FROM_FILE $OVERRIDDEN"`},
		EnvFile: envFile,
		Env:     map[string]string{"OVERRIDDEN": "explicit-value"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(result.Stdout, "file-value explicit-value") {
		t.Fatalf("Run() stdout = %q, want merged env", result.Stdout)
	}
}

func TestRunMissingEnvFile(t *testing.T) {
	t.Parallel()

	runner := &Runner{}
	_, err := runner.Run(context.Background(), BuildSpec{
		Command: []string{"true"},
		EnvFile: filepath.Join(t.TempDir(), "absent.env"),
	})
	if err == nil {
		t.Fatal("Run() succeeded with a missing env file")
	}
}

func TestRunEmptyCommand(t *testing.T) {
	t.Parallel()

	runner := &Runner{}
	if _, err := runner.Run(context.Background(), BuildSpec{}); err == nil {
		t.Fatal("Run() succeeded with an empty command")
	}
}

func TestRunHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	runner := &Runner{}
	result, err := runner.Run(ctx, BuildSpec{Command: []string{"sleep", "60"}})
	if err == nil && !result.Failed() {
		t.Fatal("Run() ignored context cancellation")
	}
}
