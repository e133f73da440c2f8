package buildrunner

import "time"

// BuildSpec describes one build invocation. It is consumed once; the runner
// never retries, since build failures are not transient.
type BuildSpec struct {
	// Command is the build argv. Required.
	Command []string

	// Env is passed to the build name-for-name on top of the inherited
	// environment. Values are never validated beyond being present.
	Env map[string]string

	// EnvFile optionally names a dotenv file merged beneath Env; explicit
	// Env entries win.
	EnvFile string

	// Dir is the working directory for the build.
	Dir string
}

// Result captures one build execution verbatim.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Failed reports whether the build exited non-zero.
func (r Result) Failed() bool {
	return r.ExitCode != 0
}
