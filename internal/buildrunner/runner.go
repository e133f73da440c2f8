package buildrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/forerun-dev/forerun/internal/logging"
)

// Runner executes a build command once with a composed environment and
// captures its output. Stdout and Stderr, when set, additionally receive
// the build output live.
type Runner struct {
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer
}

// Run blocks for the duration of the build. A non-zero exit is reported in
// the Result, not as an error; the returned error is reserved for builds
// that could not run at all.
func (r *Runner) Run(ctx context.Context, spec BuildSpec) (Result, error) {
	logger := logging.Ensure(r.Logger).With("component", "buildrunner")

	if len(spec.Command) == 0 {
		return Result{}, errors.New("build command is empty")
	}

	env, err := composeEnv(spec)
	if err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = teeTo(&stdout, r.Stdout)
	cmd.Stderr = teeTo(&stderr, r.Stderr)

	logger.Info("running build", "command", strings.Join(spec.Command, " "))
	start := time.Now()
	runErr := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			logger.Error("build failed", "exit_code", result.ExitCode, "duration", result.Duration)
			return result, nil
		}
		return result, fmt.Errorf("run build command: %w", runErr)
	}

	logger.Info("build succeeded", "duration", result.Duration)
	return result, nil
}

// composeEnv layers the build environment: inherited process env, then the
// dotenv file, then explicit Env entries, later layers winning.
func composeEnv(spec BuildSpec) ([]string, error) {
	merged := map[string]string{}

	if spec.EnvFile != "" {
		fromFile, err := godotenv.Read(spec.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", spec.EnvFile, err)
		}
		for key, value := range fromFile {
			merged[key] = value
		}
	}
	for key, value := range spec.Env {
		merged[key] = value
	}

	env := os.Environ()
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+merged[key])
	}
	return env, nil
}

func teeTo(capture io.Writer, live io.Writer) io.Writer {
	if live == nil {
		return capture
	}
	return io.MultiWriter(capture, live)
}
