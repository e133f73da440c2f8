package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forerun-dev/forerun/config"
	"github.com/forerun-dev/forerun/internal/daemon"
	"github.com/forerun-dev/forerun/internal/logging"
	"github.com/forerun-dev/forerun/internal/manifest"
	"github.com/forerun-dev/forerun/internal/orchestrator"
	"github.com/forerun-dev/forerun/internal/waitloop"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// exitError carries the exit code an orchestration outcome maps to.
type exitError struct {
	code   int
	status orchestrator.Status
}

func (e *exitError) Error() string {
	return fmt.Sprintf("run finished with status %s", e.status)
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	logLevel := defaultLogLevel

	root := &cobra.Command{
		Use:           "forerun",
		Short:         "Make a transient dependency ready before a build, then tear it down",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		return nil
	}

	root.AddCommand(
		newRunCommand(logger, false),
		newRunCommand(logger, true),
		newWaitCommand(logger),
		newProbeCommand(logger),
		newDaemonCommand(logger),
	)
	return root
}

// manifestFlags compose an in-memory manifest from CLI flags. A --manifest
// file, when given, supplies the base and flags override it.
type manifestFlags struct {
	manifestPath string

	probeKind    string
	target       string
	expectBody   string
	checkTimeout manifest.Duration

	timeout     manifest.Duration
	interval    manifest.Duration
	maxInterval manifest.Duration
	maxAttempts int

	depCommand string
	depAddr    string
	depLog     string
	depDir     string

	env     []string
	envFile string
	dir     string
}

func (f *manifestFlags) register(cmd *cobra.Command, withDependency bool) {
	flags := cmd.Flags()
	flags.StringVar(&f.manifestPath, "manifest", "", "Path to a YAML run manifest; flags override its values")
	flags.StringVar(&f.probeKind, "probe", "", "Readiness probe kind (postgres, http, command)")
	flags.StringVar(&f.target, "target", "", "Probe endpoint: connection URL, health URL, or check command")
	flags.StringVar(&f.expectBody, "expect-body", "", "Substring the http probe requires in the response body")
	flags.DurationVar((*time.Duration)(&f.checkTimeout), "check-timeout", 0, "Timeout for a single probe attempt")
	flags.DurationVar((*time.Duration)(&f.timeout), "policy-timeout", 0, "Overall readiness timeout")
	flags.DurationVar((*time.Duration)(&f.interval), "policy-interval", 0, "Initial delay between probe attempts")
	flags.DurationVar((*time.Duration)(&f.maxInterval), "policy-max-interval", 0, "Backoff cap between probe attempts")
	flags.IntVar(&f.maxAttempts, "policy-max-attempts", 0, "Maximum probe attempts (0 = bounded by timeout only)")
	if withDependency {
		flags.StringVar(&f.depCommand, "dep-command", "", "Dependency command line to launch")
		flags.StringVar(&f.depAddr, "dep-addr", "", "Local host:port the dependency binds")
		flags.StringVar(&f.depLog, "dep-log", "", "Dependency log destination: file path, or '-' for stderr")
		flags.StringVar(&f.depDir, "dep-dir", "", "Working directory for the dependency")
	}
	flags.StringArrayVar(&f.env, "env", nil, "KEY=VALUE passed to the build; repeat flag to add more")
	flags.StringVar(&f.envFile, "env-file", "", "Dotenv file merged beneath explicit --env values")
	flags.StringVar(&f.dir, "dir", "", "Working directory for the build")
}

func (f *manifestFlags) compose(buildArgs []string, borrowed bool) (*manifest.Manifest, error) {
	m := &manifest.Manifest{}
	if f.manifestPath != "" {
		loaded, err := manifest.Load(f.manifestPath)
		if err != nil {
			return nil, err
		}
		m = loaded
	}

	if f.probeKind != "" {
		m.Probe.Kind = f.probeKind
	}
	if f.target != "" {
		m.Probe.Target = f.target
	}
	if f.expectBody != "" {
		m.Probe.ExpectBody = f.expectBody
	}
	if f.checkTimeout > 0 {
		m.Probe.CheckTimeout = f.checkTimeout
	}
	if f.timeout > 0 {
		m.Policy.Timeout = f.timeout
	}
	if f.interval > 0 {
		m.Policy.Interval = f.interval
	}
	if f.maxInterval > 0 {
		m.Policy.MaxInterval = f.maxInterval
	}
	if f.maxAttempts > 0 {
		m.Policy.MaxAttempts = f.maxAttempts
	}

	if borrowed {
		m.Dependency.Command = nil
	} else {
		if f.depCommand != "" {
			m.Dependency.Command = strings.Fields(f.depCommand)
		}
		if f.depAddr != "" {
			m.Dependency.Address = f.depAddr
		}
		if f.depLog != "" {
			m.Dependency.LogFile = f.depLog
		}
		if f.depDir != "" {
			m.Dependency.Dir = f.depDir
		}
	}

	if len(buildArgs) > 0 {
		m.Build.Command = buildArgs
	}
	if f.envFile != "" {
		m.Build.EnvFile = f.envFile
	}
	if f.dir != "" {
		m.Build.Dir = f.dir
	}
	if len(f.env) > 0 {
		if m.Build.Env == nil {
			m.Build.Env = map[string]string{}
		}
		for _, pair := range f.env {
			key, value, found := strings.Cut(pair, "=")
			if !found || strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("--env %q is not KEY=VALUE", pair)
			}
			m.Build.Env[key] = value
		}
	}

	return m, nil
}

func newRunCommand(logger *slog.Logger, borrowed bool) *cobra.Command {
	use := "run"
	short := "Start the dependency, wait for readiness, run the build, tear down"
	if borrowed {
		use = "exec"
		short = "Wait for an externally managed dependency, then run the build"
	}

	var flags manifestFlags
	cmd := &cobra.Command{
		Use:   use + " [flags] -- <build command...>",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := flags.compose(args, borrowed)
			if err != nil {
				return err
			}

			cmdLogger := logger.With("command", use)
			outcome, err := config.RunWithLogger(cmd.Context(), m, cmdLogger)
			if err != nil {
				return err
			}

			switch outcome.Status {
			case orchestrator.StatusSuccess:
				cmdLogger.Info("run succeeded", "status", outcome.Status)
				return nil
			default:
				cmdLogger.Error("run failed", "status", outcome.Status, "error", outcome.Err)
				if outcome.Build != nil && outcome.Build.Failed() {
					fmt.Fprint(cmd.ErrOrStderr(), outcome.Build.Stderr)
				}
				return &exitError{code: outcome.ExitCode(), status: outcome.Status}
			}
		},
	}
	flags.register(cmd, !borrowed)
	return cmd
}

func newWaitCommand(logger *slog.Logger) *cobra.Command {
	var flags manifestFlags
	cmd := &cobra.Command{
		Use:   "wait [flags]",
		Short: "Wait until the dependency answers its readiness probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := flags.compose(nil, true)
			if err != nil {
				return err
			}

			cmdLogger := logger.With("command", "wait")
			verdict, err := config.Wait(cmd.Context(), m, cmdLogger)
			if err != nil {
				return err
			}
			if verdict.Status != waitloop.Ready {
				cmdLogger.Error("dependency never became ready",
					"status", verdict.Status, "attempts", verdict.Attempts, "error", verdict.LastErr)
				return &exitError{code: orchestrator.ExitTimeout, status: orchestrator.StatusTimeout}
			}
			cmdLogger.Info("dependency ready", "attempts", verdict.Attempts, "elapsed", verdict.Elapsed)
			return nil
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newProbeCommand(logger *slog.Logger) *cobra.Command {
	var flags manifestFlags
	cmd := &cobra.Command{
		Use:   "probe [flags]",
		Short: "Run a single readiness check and report its latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := flags.compose(nil, true)
			if err != nil {
				return err
			}

			result, err := config.ProbeOnce(cmd.Context(), m.Probe)
			if err != nil {
				return err
			}
			if !result.Success {
				logger.Error("probe failed", "latency", result.Latency, "error", result.Err)
				return &exitError{code: orchestrator.ExitDependencyFailed, status: orchestrator.StatusDependencyFailed}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ready\t%s\n", result.Latency)
			return nil
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newDaemonCommand(logger *slog.Logger) *cobra.Command {
	var socketPath string
	resolveSocket := func() string {
		path := strings.TrimSpace(socketPath)
		if path == "" {
			return daemon.DefaultSocketPath
		}
		return path
	}

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the forerun background daemon",
	}
	cmd.PersistentFlags().StringVar(&socketPath, "socket", daemon.DefaultSocketPath, "Path to daemon control socket")

	cmd.AddCommand(
		newDaemonServeCommand(logger, resolveSocket),
		newDaemonStartCommand(logger, resolveSocket),
		newDaemonStopCommand(resolveSocket),
		newDaemonListCommand(resolveSocket),
	)
	return cmd
}

func newDaemonServeCommand(logger *slog.Logger, socketPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon server",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := daemon.New(socketPath(), config.Launch, logger)
			logger.Info("starting daemon", "socket", socketPath())
			if err := d.Start(cmd.Context()); err != nil {
				return err
			}
			logger.Info("daemon stopped")
			return nil
		},
	}
}

func newDaemonStartCommand(logger *slog.Logger, socketPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "start <manifest-path>",
		Args:  cobra.ExactArgs(1),
		Short: "Request the daemon to start an orchestration run",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestPath := strings.TrimSpace(args[0])
			if manifestPath == "" {
				return fmt.Errorf("manifest path is required")
			}

			client := daemon.NewClient(socketPath())
			id, err := client.StartRun(daemon.StartRunRequest{ManifestPath: manifestPath})
			if err != nil {
				return err
			}
			logger.Info("run scheduled", "id", id)
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newDaemonStopCommand(socketPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Args:  cobra.ExactArgs(1),
		Short: "Request the daemon to stop a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			client := daemon.NewClient(socketPath())
			if err := client.StopRun(id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "stopped", id)
			return nil
		},
	}
}

func newDaemonListCommand(socketPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs managed by the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := daemon.NewClient(socketPath())
			statuses, err := client.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(statuses) == 0 {
				fmt.Fprintln(out, "no runs")
				return nil
			}
			for _, status := range statuses {
				state := "running"
				if !status.Running {
					state = status.Status
					if status.Error != "" {
						state = fmt.Sprintf("%s (%s)", state, status.Error)
					}
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", status.ID, status.Manifest, state)
			}
			return nil
		},
	}
}
