// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/bureau-foundation/bureau-root-agent/lib/frame"
)

const (
	// DefaultSocketPath is where the daemon listens unless configured
	// otherwise.
	DefaultSocketPath = "/run/bureau/root-agent.sock"

	// SocketEnvironmentVariable overrides DefaultSocketPath for
	// clients.
	SocketEnvironmentVariable = "BUREAU_ROOT_AGENT_SOCKET"

	// DefaultTimeout bounds a call whose context has no deadline. Disk
	// image customization and VM shutdown legitimately take minutes.
	DefaultTimeout = 300 * time.Second
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// ResolveSocketPath picks the socket path: explicit if non-empty, then
// $BUREAU_ROOT_AGENT_SOCKET, then DefaultSocketPath.
func ResolveSocketPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if fromEnvironment := os.Getenv(SocketEnvironmentVariable); fromEnvironment != "" {
		return fromEnvironment
	}
	return DefaultSocketPath
}

// ConnectionError means the daemon could not be reached or the stream
// broke before a complete response arrived. The request may or may not
// have executed when Op is "read".
type ConnectionError struct {
	// Op is "dial", "write", or "read".
	Op         string
	SocketPath string
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("root agent unreachable (%s %s): %v", e.Op, e.SocketPath, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RemoteError is a failure reported by the daemon: the request was
// received and rejected or failed while executing.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("root agent %s: %s", e.Action, e.Message)
}

// IsConnectionError reports whether err is (or wraps) a *ConnectionError.
func IsConnectionError(err error) bool {
	var connectionError *ConnectionError
	return errors.As(err, &connectionError)
}

// IsRemoteError reports whether err is (or wraps) a *RemoteError.
func IsRemoteError(err error) bool {
	var remoteError *RemoteError
	return errors.As(err, &remoteError)
}

// Client calls actions on the root agent. Each Call uses its own
// connection, so a Client is safe for concurrent use.
type Client struct {
	socketPath string

	// Timeout applies when the call's context has no deadline. Zero
	// means DefaultTimeout.
	Timeout time.Duration

	// MaxFrameBytes bounds request and response bodies. Zero means
	// frame.DefaultMaxSize.
	MaxFrameBytes int
}

// NewClient returns a client for socketPath, resolved with
// ResolveSocketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: ResolveSocketPath(socketPath)}
}

// SocketPath returns the socket the client connects to.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Call sends one request and returns the result keys of a successful
// response, without "ok". A nil params map sends empty params.
//
// Errors are a *ConnectionError when the daemon could not be reached
// or the stream broke, a *RemoteError when the daemon answered with
// ok=false, and a plain error when the request could not be encoded.
func (c *Client) Call(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	if action == "" {
		return nil, errors.New("action name is required")
	}
	if params == nil {
		params = map[string]any{}
	}

	encoded, err := frame.EncodeLimit(map[string]any{
		"action": action,
		"params": params,
	}, c.MaxFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", action, err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", SocketPath: c.socketPath, Err: err}
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)
	stopWatching := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stopWatching()

	if _, err := conn.Write(encoded); err != nil {
		return nil, &ConnectionError{Op: "write", SocketPath: c.socketPath, Err: c.cause(ctx, err)}
	}

	body, err := frame.ReadBody(conn, c.MaxFrameBytes)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("connection closed before response")
		}
		return nil, &ConnectionError{Op: "read", SocketPath: c.socketPath, Err: c.cause(ctx, err)}
	}

	var response map[string]any
	if err := frame.Unmarshal(body, &response); err != nil || response == nil {
		if err == nil {
			err = errors.New("response is not a JSON object")
		}
		return nil, &ConnectionError{Op: "read", SocketPath: c.socketPath, Err: err}
	}

	if ok, _ := response["ok"].(bool); !ok {
		message, _ := response["error"].(string)
		if message == "" {
			message = "unknown error"
		}
		return nil, &RemoteError{Action: action, Message: message}
	}
	delete(response, "ok")
	return response, nil
}

// cause prefers the context error when a deadline or cancellation is
// what broke the stream.
func (c *Client) cause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}
