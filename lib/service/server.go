// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/bureau-root-agent/lib/action"
	"github.com/bureau-foundation/bureau-root-agent/lib/audit"
	"github.com/bureau-foundation/bureau-root-agent/lib/clock"
	"github.com/bureau-foundation/bureau-root-agent/lib/frame"
	"github.com/bureau-foundation/bureau-root-agent/lib/netutil"
	"github.com/bureau-foundation/bureau-root-agent/lib/ownership"
	"github.com/bureau-foundation/bureau-root-agent/lib/peercred"
)

const (
	// DefaultSocketMode lets the owner and the socket group connect.
	DefaultSocketMode os.FileMode = 0o660

	DefaultHandlerTimeout = 10 * time.Minute
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultWriteTimeout   = 10 * time.Second
	DefaultMaxConnections = 64
)

// auditTimeout bounds one audit insert. The audit log is local SQLite,
// so this only trips when the database is locked by a stuck reader.
const auditTimeout = 5 * time.Second

const errMissingAction = "missing required field: action"

// ServerConfig holds the listener and per-connection limits. Zero
// values take the Default* constants.
type ServerConfig struct {
	SocketPath string
	SocketMode os.FileMode

	// SocketGroup is the group given ownership of the socket file.
	// Empty leaves the group alone. A group that does not exist on
	// this host is logged and skipped.
	SocketGroup string

	MaxFrameBytes  int
	HandlerTimeout time.Duration
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int

	Clock clock.Clock

	// Recorder receives one record per request. Nil disables auditing.
	Recorder audit.Recorder
}

func (c *ServerConfig) applyDefaults() {
	if c.SocketMode == 0 {
		c.SocketMode = DefaultSocketMode
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = frame.DefaultMaxSize
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = DefaultHandlerTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
}

// Server accepts connections on a Unix socket and dispatches each
// request frame to the registry.
type Server struct {
	registry *action.Registry
	config   ServerConfig
	logger   *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	// activeConnections tracks connection goroutines so Serve can wait
	// for in-flight requests to finish before returning.
	activeConnections sync.WaitGroup
}

// NewServer creates a server for registry. Call Serve to start it.
func NewServer(registry *action.Registry, config ServerConfig, logger *slog.Logger) *Server {
	config.applyDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		registry: registry,
		config:   config,
		logger:   logger,
		ready:    make(chan struct{}),
	}
}

// SocketPath returns the configured socket path.
func (s *Server) SocketPath() string {
	return s.config.SocketPath
}

// Ready is closed once the socket is listening with its final mode and
// group.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Serve listens on the socket and handles connections until ctx is
// cancelled. On cancellation it stops accepting, lets every request
// that is already executing finish and write its response, closes idle
// connections, and removes the socket file.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	defer func() {
		listener.Close()
		os.Remove(s.config.SocketPath)
	}()

	stopAccept := context.AfterFunc(ctx, func() { listener.Close() })
	defer stopAccept()

	s.logger.Info("root agent listening",
		"path", s.config.SocketPath,
		"mode", fmt.Sprintf("%04o", s.config.SocketMode),
		"actions", s.registry.Len(),
		"max_connections", s.config.MaxConnections,
	)
	s.readyOnce.Do(func() { close(s.ready) })

	slots := make(chan struct{}, s.config.MaxConnections)

acceptLoop:
	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			break acceptLoop
		}

		conn, err := listener.Accept()
		if err != nil {
			<-slots
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer func() {
				<-slots
				s.activeConnections.Done()
			}()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	s.logger.Info("root agent stopped", "path", s.config.SocketPath)
	return nil
}

// listen binds the socket with its final permissions. The umask keeps
// the socket from ever existing with wider access than configured.
func (s *Server) listen() (net.Listener, error) {
	path := s.config.SocketPath
	if path == "" {
		return nil, errors.New("socket path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}

	previous := unix.Umask(0o177)
	listener, err := net.Listen("unix", path)
	unix.Umask(previous)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}

	if err := os.Chmod(path, s.config.SocketMode); err != nil {
		listener.Close()
		return nil, fmt.Errorf("setting mode on %s: %w", path, err)
	}

	if group := s.config.SocketGroup; group != "" {
		gid := ownership.LookupGroupID(group)
		if gid < 0 {
			s.logger.Warn("socket group does not exist, leaving group unchanged",
				"group", group,
				"path", path,
			)
		} else if err := ownership.SetGroup(path, gid); err != nil {
			s.logger.Warn("could not set socket group",
				"group", group,
				"path", path,
				"error", err,
			)
		}
	}
	return listener, nil
}

// removeStaleSocket deletes a leftover socket file from a previous run.
// Anything other than a socket is left in place and reported, and a
// socket that still accepts connections belongs to a running instance.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking socket path %s: %w", path, err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("refusing to replace %s: not a socket (mode %s)", path, info.Mode())
	}
	if conn, err := net.DialTimeout("unix", path, 100*time.Millisecond); err == nil {
		conn.Close()
		return fmt.Errorf("another root agent is listening on %s", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	return nil
}

// connection holds per-connection deadline state. Once stopping is set
// every subsequent read deadline is in the past, so an idle connection
// unblocks immediately and a busy one exits after writing its current
// response.
type connection struct {
	net.Conn
	idleTimeout time.Duration

	mu       sync.Mutex
	stopping bool
}

func (c *connection) armIdleDeadline() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		c.SetReadDeadline(time.Now())
		return
	}
	c.SetReadDeadline(time.Now().Add(c.idleTimeout))
}

func (c *connection) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopping = true
	c.SetReadDeadline(time.Now())
}

func (c *connection) isStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

// handleConnection serves requests on conn in order until the peer
// closes it, a frame is malformed, or the server shuts down.
func (s *Server) handleConnection(ctx context.Context, netConn net.Conn) {
	defer netConn.Close()

	conn := &connection{Conn: netConn, idleTimeout: s.config.IdleTimeout}
	stopWatching := context.AfterFunc(ctx, conn.stop)
	defer stopWatching()

	logger := s.logger
	var peer *peercred.Credentials
	if credentials, err := peercred.Read(netConn); err == nil {
		peer = &credentials
		logger = logger.With("peer", credentials)
	} else {
		logger.Debug("peer credentials unavailable", "error", err)
	}

	for {
		conn.armIdleDeadline()
		body, err := frame.ReadBody(conn, s.config.MaxFrameBytes)
		if err != nil {
			s.logReadFailure(logger, conn, err)
			return
		}

		var message any
		if err := frame.Unmarshal(body, &message); err != nil {
			logger.Warn("closing connection after protocol error", "error", err)
			return
		}

		response := s.dispatch(ctx, message, peer, logger)
		if err := s.writeResponse(conn, response); err != nil {
			if netutil.IsExpectedCloseError(err) {
				logger.Debug("peer closed connection before response", "error", err)
			} else {
				logger.Warn("failed to write response", "error", err)
			}
			return
		}
	}
}

func (s *Server) logReadFailure(logger *slog.Logger, conn *connection, err error) {
	switch {
	case errors.Is(err, io.EOF):
		// Peer closed between requests.
	case errors.Is(err, os.ErrDeadlineExceeded) && conn.isStopping():
		logger.Debug("closing connection for shutdown")
	case errors.Is(err, os.ErrDeadlineExceeded):
		logger.Debug("closing idle connection", "idle_timeout", s.config.IdleTimeout)
	case netutil.IsExpectedCloseError(err):
		logger.Debug("peer closed connection", "error", err)
	default:
		logger.Warn("closing connection after protocol error", "error", err)
	}
}

// dispatch turns one decoded request into a response. It never fails:
// every problem becomes {ok: false, error: ...}.
func (s *Server) dispatch(ctx context.Context, message any, peer *peercred.Credentials, logger *slog.Logger) map[string]any {
	requestID := uuid.NewString()
	start := s.config.Clock.Now()

	name, params, err := parseRequest(message)
	logger = logger.With("request_id", requestID, "action", name)

	var result action.Result
	if err == nil {
		result, err = s.invoke(ctx, name, params, logger)
	}
	response := buildResponse(result, err)
	duration := clock.Since(s.config.Clock, start)

	if err != nil {
		logger.Warn("request failed", "error", response["error"], "duration", duration)
	} else {
		logger.Info("request completed", "duration", duration)
	}

	if s.config.Recorder != nil {
		s.record(ctx, audit.Record{
			RequestID: requestID,
			Time:      start,
			Action:    name,
			Params:    params,
			Peer:      peer,
			OK:        err == nil,
			Error:     errorText(response),
			Duration:  duration,
		}, logger)
	}
	return response
}

// parseRequest extracts the action name and parameters. A "params" key
// holding an object selects the nested form; otherwise every key except
// "action" is a parameter.
func parseRequest(message any) (string, map[string]any, error) {
	object, ok := message.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("invalid request: body must be a JSON object, got %s", jsonKind(message))
	}

	rawName, present := object["action"]
	if !present || rawName == nil {
		return "", nil, errors.New(errMissingAction)
	}
	name, ok := rawName.(string)
	if !ok {
		return "", nil, fmt.Errorf("invalid request: action must be a string, got %s", jsonKind(rawName))
	}
	if name == "" {
		return "", nil, errors.New(errMissingAction)
	}

	if rawParams, nested := object["params"]; nested {
		switch typed := rawParams.(type) {
		case nil:
			return name, map[string]any{}, nil
		case map[string]any:
			return name, typed, nil
		default:
			return name, nil, fmt.Errorf("invalid request: params must be a JSON object, got %s", jsonKind(rawParams))
		}
	}

	params := make(map[string]any, len(object)-1)
	for key, value := range object {
		if key != "action" {
			params[key] = value
		}
	}
	return name, params, nil
}

// invoke runs the handler for name. Handlers run under a context
// detached from server shutdown so an in-flight privileged operation
// is never interrupted halfway; the handler timeout still bounds it.
func (s *Server) invoke(ctx context.Context, name string, params map[string]any, logger *slog.Logger) (result action.Result, err error) {
	handler, err := s.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	handlerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.HandlerTimeout)
	defer cancel()

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("action handler panicked",
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			result = nil
			err = fmt.Errorf("internal error: %v", recovered)
		}
	}()

	result, err = handler(handlerCtx, action.Params(params))
	if err != nil && errors.Is(handlerCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("action %s exceeded handler timeout %s: %w", name, s.config.HandlerTimeout, err)
	}
	return result, err
}

// buildResponse produces the response envelope. Result keys "ok" and
// "error" are dropped so a handler cannot contradict the outcome.
func buildResponse(result action.Result, err error) map[string]any {
	if err != nil {
		message := err.Error()
		if message == "" {
			message = "action failed"
		}
		return map[string]any{"ok": false, "error": message}
	}
	response := make(map[string]any, len(result)+1)
	for key, value := range result {
		if key == "ok" || key == "error" {
			continue
		}
		response[key] = value
	}
	response["ok"] = true
	return response
}

// writeResponse frames and writes response. A response that cannot be
// encoded or exceeds the frame limit is replaced by an error response
// so the client is never left waiting.
func (s *Server) writeResponse(conn net.Conn, response map[string]any) error {
	encoded, err := frame.EncodeLimit(response, s.config.MaxFrameBytes)
	if err != nil {
		s.logger.Error("response could not be encoded", "error", err)
		encoded, err = frame.EncodeLimit(map[string]any{
			"ok":    false,
			"error": fmt.Sprintf("internal error: response could not be encoded: %v", err),
		}, s.config.MaxFrameBytes)
		if err != nil {
			return err
		}
	}
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	_, err = conn.Write(encoded)
	return err
}

func (s *Server) record(ctx context.Context, record audit.Record, logger *slog.Logger) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.config.Recorder.Record(recordCtx, record); err != nil {
		logger.Warn("audit record failed", "error", err)
	}
}

func errorText(response map[string]any) string {
	message, _ := response["error"].(string)
	return message
}

func jsonKind(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "number"
	}
}
