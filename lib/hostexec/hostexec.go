// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bureau-foundation/bureau-root-agent/lib/clock"
)

const (
	// DefaultTimeout applies when neither Options.Timeout nor
	// OSRunner.DefaultTimeout is set.
	DefaultTimeout = 2 * time.Minute

	// DefaultMaxOutput caps each of stdout and stderr.
	DefaultMaxOutput = 1024 * 1024

	// DefaultPath is the PATH given to child processes.
	DefaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

	// waitDelay bounds how long Wait blocks on inherited pipes after
	// the process group has been killed.
	waitDelay = 5 * time.Second
)

// Runner executes an argv on the host.
type Runner interface {
	Run(ctx context.Context, argv []string, options Options) (Result, error)
}

// Options adjusts a single Run call.
type Options struct {
	// Timeout overrides the runner's default timeout when positive.
	Timeout time.Duration

	// Stdin is fed to the child when non-nil.
	Stdin []byte

	// Dir is the working directory. Empty means "/".
	Dir string
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	// Stdout and Stderr are whitespace-trimmed and capped at the
	// runner's output limit.
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Failed reports whether the command exited non-zero.
func (r Result) Failed() bool {
	return r.ExitCode != 0
}

// Message returns stderr, or stdout when stderr is empty. This is the
// text reported to callers for a failed command.
func (r Result) Message() string {
	if r.Stderr != "" {
		return r.Stderr
	}
	if r.Stdout != "" {
		return r.Stdout
	}
	return fmt.Sprintf("exit status %d", r.ExitCode)
}

// TimeoutError is returned when a command's deadline expired and its
// process group was killed.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s: %s", e.Timeout, e.Command)
}

// IsTimeout reports whether err is (or wraps) a *TimeoutError.
func IsTimeout(err error) bool {
	var timeoutError *TimeoutError
	return errors.As(err, &timeoutError)
}

// OSRunner runs commands with os/exec.
type OSRunner struct {
	// Path is the PATH for children. Empty means DefaultPath.
	Path string

	// DefaultTimeout applies to calls without Options.Timeout.
	DefaultTimeout time.Duration

	// MaxOutput caps each output stream in bytes.
	MaxOutput int

	Clock  clock.Clock
	Logger *slog.Logger
}

// NewOSRunner returns an OSRunner with defaults filled in.
func NewOSRunner(path string, defaultTimeout time.Duration, maxOutput int, logger *slog.Logger) *OSRunner {
	if path == "" {
		path = DefaultPath
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return &OSRunner{
		Path:           path,
		DefaultTimeout: defaultTimeout,
		MaxOutput:      maxOutput,
		Clock:          clock.Real(),
		Logger:         logger,
	}
}

// Run executes argv. See the package documentation for semantics.
func (r *OSRunner) Run(ctx context.Context, argv []string, options Options) (Result, error) {
	if len(argv) == 0 || argv[0] == "" {
		return Result{}, errors.New("empty command")
	}

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = r.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxOutput := r.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	path := r.Path
	if path == "" {
		path = DefaultPath
	}

	runContext, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	binary, err := lookPath(argv[0], path)
	if err != nil {
		return Result{}, err
	}
	cmd := exec.CommandContext(runContext, binary, argv[1:]...)
	cmd.Args[0] = argv[0]
	cmd.Env = []string{"PATH=" + path, "LANG=C", "LC_ALL=C"}
	cmd.Dir = options.Dir
	if cmd.Dir == "" {
		cmd.Dir = "/"
	}
	if options.Stdin != nil {
		cmd.Stdin = bytes.NewReader(options.Stdin)
	}

	var stdout, stderr limitWriter
	stdout.max = maxOutput
	stderr.max = maxOutput
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	if r.Logger != nil {
		r.Logger.Info("exec", "argv", argv, "timeout", timeout)
	}

	started := r.now()
	runErr := cmd.Run()
	result := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: r.now().Sub(started),
	}

	if (stdout.truncated || stderr.truncated) && r.Logger != nil {
		r.Logger.Warn("exec output truncated", "command", argv[0], "max_bytes", maxOutput)
	}

	if runErr != nil {
		if errors.Is(runContext.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			r.logDone(argv, result, "timeout")
			return result, &TimeoutError{Command: argv[0], Timeout: timeout}
		}
		if ctx.Err() != nil {
			r.logDone(argv, result, "cancelled")
			return result, fmt.Errorf("%s: %w", argv[0], ctx.Err())
		}
		var exitError *exec.ExitError
		if !errors.As(runErr, &exitError) {
			return Result{}, fmt.Errorf("running %s: %w", argv[0], runErr)
		}
	}

	r.logDone(argv, result, "")
	return result, nil
}

// lookPath resolves name against the child's PATH rather than the
// daemon's own environment.
func lookPath(name, path string) (string, error) {
	if strings.Contains(name, "/") {
		if !filepath.IsAbs(name) {
			return "", fmt.Errorf("%s: relative command paths are not allowed", name)
		}
		return name, nil
	}
	for _, directory := range filepath.SplitList(path) {
		if directory == "" || !filepath.IsAbs(directory) {
			continue
		}
		candidate := filepath.Join(directory, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() || info.Mode().Perm()&0111 == 0 {
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("%s: executable not found in %s", name, path)
}

func (r *OSRunner) now() time.Time {
	if r.Clock == nil {
		return time.Now()
	}
	return r.Clock.Now()
}

func (r *OSRunner) logDone(argv []string, result Result, outcome string) {
	if r.Logger == nil {
		return
	}
	attributes := []any{
		"command", argv[0],
		"exit_code", result.ExitCode,
		"duration", result.Duration,
	}
	if outcome != "" {
		attributes = append(attributes, "outcome", outcome)
		r.Logger.Warn("exec finished", attributes...)
		return
	}
	r.Logger.Debug("exec finished", attributes...)
}

// limitWriter buffers up to max bytes and silently discards the rest,
// so a runaway child cannot grow the daemon's memory without bound.
type limitWriter struct {
	buffer    bytes.Buffer
	max       int
	truncated bool
}

var _ io.Writer = (*limitWriter)(nil)

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.max - w.buffer.Len()
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		w.buffer.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buffer.Write(p)
}

func (w *limitWriter) String() string {
	return w.buffer.String()
}
