package manifest

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the declarative form of one orchestration run: the dependency
// to launch (or borrow), how to probe it, how long to wait, and the build
// to execute once it is ready.
type Manifest struct {
	Dependency DependencyConfig `yaml:"dependency"`
	Probe      ProbeConfig      `yaml:"probe"`
	Policy     PolicyConfig     `yaml:"policy"`
	Build      BuildConfig      `yaml:"build"`
}

// DependencyConfig describes the ephemeral dependency. An empty command
// means the dependency is borrowed: externally managed, only probed.
type DependencyConfig struct {
	Command []string          `yaml:"command,omitempty"`
	Address string            `yaml:"address,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Dir     string            `yaml:"dir,omitempty"`
	LogFile string            `yaml:"log_file,omitempty"`
}

// Borrowed reports whether the dependency lifecycle belongs to someone else.
func (c DependencyConfig) Borrowed() bool {
	return len(c.Command) == 0
}

// ProbeConfig selects and targets a readiness probe.
type ProbeConfig struct {
	// Kind is one of postgres, http, command.
	Kind string `yaml:"kind"`

	// Target is the probe endpoint: a connection URL for postgres, a
	// health URL for http, a command line for command.
	Target string `yaml:"target"`

	// ExpectBody applies to http probes only.
	ExpectBody string `yaml:"expect_body,omitempty"`

	// CheckTimeout bounds a single check.
	CheckTimeout Duration `yaml:"check_timeout,omitempty"`
}

// PolicyConfig bounds the readiness wait.
type PolicyConfig struct {
	Interval    Duration `yaml:"interval,omitempty"`
	MaxInterval Duration `yaml:"max_interval,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty"`
	MaxAttempts int      `yaml:"max_attempts,omitempty"`
}

// BuildConfig describes the single build invocation.
type BuildConfig struct {
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env,omitempty"`
	EnvFile string            `yaml:"env_file,omitempty"`
	Dir     string            `yaml:"dir,omitempty"`
}

// Duration wraps time.Duration with YAML support for values like "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates manifest bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest field by field so errors name what to fix.
func (m *Manifest) Validate() error {
	switch strings.TrimSpace(m.Probe.Kind) {
	case "postgres", "http", "command":
	case "":
		return fmt.Errorf("probe.kind is required")
	default:
		return fmt.Errorf("probe.kind %q is not one of postgres, http, command", m.Probe.Kind)
	}
	if strings.TrimSpace(m.Probe.Target) == "" {
		return fmt.Errorf("probe.target is required")
	}
	if len(m.Build.Command) == 0 {
		return fmt.Errorf("build.command is required")
	}
	for key := range m.Build.Env {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("build.env contains an empty key")
		}
	}
	if m.Policy.Interval < 0 || m.Policy.Timeout < 0 || m.Policy.MaxInterval < 0 {
		return fmt.Errorf("policy durations must not be negative")
	}
	if m.Policy.MaxAttempts < 0 {
		return fmt.Errorf("policy.max_attempts must not be negative")
	}
	if m.Dependency.Borrowed() && strings.TrimSpace(m.Dependency.Address) == "" && strings.TrimSpace(m.Probe.Target) == "" {
		return fmt.Errorf("dependency.address or probe.target is required for a borrowed dependency")
	}
	return nil
}
