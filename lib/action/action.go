// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/bureau-root-agent/lib/clock"
	"github.com/bureau-foundation/bureau-root-agent/lib/hostexec"
)

// Result is the success payload of a handler. Its keys are merged into
// the response alongside "ok": true.
type Result map[string]any

// Handler performs one action. Errors become {ok: false, error: ...}
// responses with err.Error() as the message.
type Handler func(ctx context.Context, params Params) (Result, error)

// Module is a named group of actions.
type Module struct {
	// Name orders modules during registry construction.
	Name string

	// Description is a one-line summary shown by "status".
	Description string

	// Source is the manifest path for directory modules and
	// "builtin" for compiled-in ones.
	Source string

	// Digest is the formatted blake3 digest of Source, empty for
	// built-in modules.
	Digest string

	Actions map[string]Handler
}

// SourceBuiltin marks modules compiled into the daemon.
const SourceBuiltin = "builtin"

// UnknownActionError is returned when a request names an action that
// is not in the registry.
type UnknownActionError struct {
	Name string
}

func (e *UnknownActionError) Error() string {
	return "unknown action: " + e.Name
}

// CommandError reports a host command that exited non-zero. The error
// text is the command's stderr (or stdout), which is what callers see.
type CommandError struct {
	Command  string
	ExitCode int
	Message  string
}

func (e *CommandError) Error() string {
	return e.Message
}

// Env carries daemon-wide dependencies into module constructors.
type Env struct {
	Runner hostexec.Runner
	Logger *slog.Logger
	Clock  clock.Clock

	// CommandTimeout is the default timeout for host commands that do
	// not set their own.
	CommandTimeout time.Duration
}

// Exec runs argv through the environment's runner. A zero timeout
// uses CommandTimeout. A non-zero exit is returned as *CommandError;
// the Result is returned either way so callers can inspect output.
func (e Env) Exec(ctx context.Context, argv []string, timeout time.Duration) (hostexec.Result, error) {
	if timeout <= 0 {
		timeout = e.CommandTimeout
	}
	result, err := e.Runner.Run(ctx, argv, hostexec.Options{Timeout: timeout})
	if err != nil {
		return result, err
	}
	if result.Failed() {
		return result, &CommandError{
			Command:  argv[0],
			ExitCode: result.ExitCode,
			Message:  result.Message(),
		}
	}
	return result, nil
}

// Describe returns "name (source)" for log messages.
func (m Module) Describe() string {
	if m.Source == "" || m.Source == SourceBuiltin {
		return m.Name
	}
	return fmt.Sprintf("%s (%s)", m.Name, m.Source)
}
