// Package oci reads GPU fleet resources by running the oci CLI as a subprocess.
// Credential resolution is left entirely to the CLI's own profile handling.
package oci

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// defaultTimeout is used when no timeout option is provided.
const defaultTimeout = 2 * time.Minute

// CommandConfig parameterizes every oci CLI invocation.
type CommandConfig struct {
	Binary     string   // executable name or path
	Profile    string   // --profile, empty uses the CLI default
	Region     string   // --region, empty uses the profile's region
	ConfigFile string   // --config-file, empty uses the CLI default
	ExtraFlags []string // appended to every call
}

// Executor runs one CLI call and returns its stdout.
type Executor interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// Verify Runner satisfies Executor at compile time.
var _ Executor = (*Runner)(nil)

// Runner executes the oci CLI with a per-call timeout.
type Runner struct {
	config     CommandConfig
	timeout    time.Duration
	lookPath   func(string) (string, error)
	cmdBuilder func(ctx context.Context, args []string) *exec.Cmd
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// NewRunner creates a Runner from config and options.
func NewRunner(cfg CommandConfig, opts ...Option) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = "oci"
	}
	r := &Runner{
		config:   cfg,
		timeout:  defaultTimeout,
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cmdBuilder == nil {
		r.cmdBuilder = r.defaultCmdBuilder
	}
	return r
}

// Run executes the CLI with args plus the configured global flags.
// Stdout is returned on success; stderr is carried in the error otherwise.
func (r *Runner) Run(ctx context.Context, args ...string) ([]byte, error) {
	if r.lookPath != nil {
		if _, err := r.lookPath(r.config.Binary); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCLINotFound, r.config.Binary)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := r.cmdBuilder(ctx, buildArgs(r.config, args))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Args: args, Duration: r.timeout}
		}
		return nil, &ProviderError{
			Args: args,
			Err:  fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes())),
		}
	}
	return stdout.Bytes(), nil
}

// defaultCmdBuilder creates the real oci CLI command.
func (r *Runner) defaultCmdBuilder(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.config.Binary, args...)
	cmd.WaitDelay = time.Second
	return cmd
}

// buildArgs prepends the per-call args to the global flags from cfg.
func buildArgs(cfg CommandConfig, args []string) []string {
	out := make([]string, 0, len(args)+8)
	out = append(out, args...)
	if cfg.Profile != "" {
		out = append(out, "--profile", cfg.Profile)
	}
	if cfg.Region != "" {
		out = append(out, "--region", cfg.Region)
	}
	if cfg.ConfigFile != "" {
		out = append(out, "--config-file", cfg.ConfigFile)
	}
	out = append(out, cfg.ExtraFlags...)
	return out
}
