// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/bureau-foundation/bureau-root-agent/lib/action"
	"github.com/bureau-foundation/bureau-root-agent/lib/audit"
	"github.com/bureau-foundation/bureau-root-agent/lib/clock"
	"github.com/bureau-foundation/bureau-root-agent/lib/frame"
	"github.com/bureau-foundation/bureau-root-agent/lib/testutil"
)

// memoryRecorder captures audit records in memory.
type memoryRecorder struct {
	mu      sync.Mutex
	records []audit.Record
}

func (r *memoryRecorder) Record(_ context.Context, record audit.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *memoryRecorder) snapshot() []audit.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Record(nil), r.records...)
}

type testServer struct {
	socketPath string
	recorder   *memoryRecorder
	cancel     context.CancelFunc

	// done is closed when Serve returns; serveErr is valid after that.
	done     chan struct{}
	serveErr error
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// testModule registers handlers used across the server and client
// tests.
func testModule(release <-chan struct{}, started chan<- string) action.Module {
	return action.Module{
		Name:   "test",
		Source: action.SourceBuiltin,
		Actions: map[string]action.Handler{
			"echo": func(_ context.Context, params action.Params) (action.Result, error) {
				return action.Result(params), nil
			},
			"fail": func(_ context.Context, params action.Params) (action.Result, error) {
				return nil, errors.New("invalid dev: device not allowed: \"eth9\"")
			},
			"panic": func(context.Context, action.Params) (action.Result, error) {
				panic("handler exploded")
			},
			"forge": func(context.Context, action.Params) (action.Result, error) {
				return action.Result{"ok": false, "error": "forged", "value": 7}, nil
			},
			"huge": func(context.Context, action.Params) (action.Result, error) {
				return action.Result{"output": strings.Repeat("x", 2048)}, nil
			},
			"slow": func(ctx context.Context, _ action.Params) (action.Result, error) {
				if started != nil {
					started <- "slow"
				}
				select {
				case <-release:
					return action.Result{"output": "slow done"}, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		},
	}
}

func startServer(t *testing.T, config ServerConfig, modules ...action.Module) *testServer {
	t.Helper()

	if len(modules) == 0 {
		modules = []action.Module{testModule(nil, nil)}
	}
	registry := action.BuildRegistry(modules, testLogger())

	recorder := &memoryRecorder{}
	config.SocketPath = filepath.Join(testutil.SocketDir(t), "root-agent.sock")
	config.Recorder = recorder

	server := NewServer(registry, config, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		socketPath: config.SocketPath,
		recorder:   recorder,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go func() {
		ts.serveErr = server.Serve(ctx)
		close(ts.done)
	}()

	testutil.RequireClosed(t, server.Ready(), testutil.DefaultTimeout, "server ready")

	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, ts.done, testutil.DefaultTimeout, "server stop")
	})
	return ts
}

func dial(t *testing.T, socketPath string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(testutil.DefaultTimeout))
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, request any) map[string]any {
	t.Helper()
	if err := frame.Write(conn, request, 0); err != nil {
		t.Fatalf("writing request: %v", err)
	}
	response, err := frame.Read(conn, 0)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return response
}

func writeRawFrame(t *testing.T, conn net.Conn, body []byte) {
	t.Helper()
	header := make([]byte, frame.HeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := conn.Write(append(header, body...)); err != nil {
		t.Fatalf("writing raw frame: %v", err)
	}
}

// requireClosedWithoutReply asserts the server closed conn without
// sending anything.
func requireClosedWithoutReply(t *testing.T, conn net.Conn) {
	t.Helper()
	buffer := make([]byte, 1)
	read, err := conn.Read(buffer)
	if read != 0 || !(errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET)) {
		t.Fatalf("Read = %d, %v; want 0, EOF", read, err)
	}
}

func checkEnvelope(t *testing.T, response map[string]any) {
	t.Helper()
	ok, isBool := response["ok"].(bool)
	if !isBool {
		t.Fatalf("response has no boolean ok: %v", response)
	}
	_, hasError := response["error"]
	if ok && hasError {
		t.Errorf("ok response carries error: %v", response)
	}
	if !ok {
		message, isString := response["error"].(string)
		if !isString || message == "" {
			t.Errorf("failed response has no error message: %v", response)
		}
	}
}

func TestResponseEnvelope(t *testing.T) {
	server := startServer(t, ServerConfig{})
	conn := dial(t, server.socketPath)

	requests := []map[string]any{
		{"action": "echo", "params": map[string]any{"a": "b"}},
		{"action": "fail"},
		{"action": "panic"},
		{"action": "forge"},
		{"action": "no-such-action"},
		{"params": map[string]any{}},
	}
	for _, request := range requests {
		checkEnvelope(t, roundTrip(t, conn, request))
	}
}

func TestUnknownAction(t *testing.T) {
	server := startServer(t, ServerConfig{})
	conn := dial(t, server.socketPath)

	response := roundTrip(t, conn, map[string]any{"action": "frobnicate"})
	if response["ok"] != false || response["error"] != "unknown action: frobnicate" {
		t.Errorf("response = %v", response)
	}
}

func TestMissingAction(t *testing.T) {
	server := startServer(t, ServerConfig{})
	conn := dial(t, server.socketPath)

	for _, request := range []map[string]any{
		{"params": map[string]any{}},
		{"action": ""},
		{"action": nil},
	} {
		response := roundTrip(t, conn, request)
		if response["error"] != errMissingAction {
			t.Errorf("request %v: error = %v, want %q", request, response["error"], errMissingAction)
		}
	}
}

func TestRequestForms(t *testing.T) {
	server := startServer(t, ServerConfig{})
	conn := dial(t, server.socketPath)

	nested := roundTrip(t, conn, map[string]any{
		"action": "echo",
		"params": map[string]any{"address": "fd00::5/128"},
	})
	if nested["address"] != "fd00::5/128" {
		t.Errorf("nested form response = %v", nested)
	}

	flat := roundTrip(t, conn, map[string]any{"action": "echo", "dev": "vmbr0"})
	if flat["dev"] != "vmbr0" {
		t.Errorf("flat form response = %v", flat)
	}
	if _, leaked := flat["action"]; leaked {
		t.Errorf("action leaked into params: %v", flat)
	}

	badParams := roundTrip(t, conn, map[string]any{"action": "echo", "params": []any{1}})
	message, _ := badParams["error"].(string)
	if !strings.HasPrefix(message, "invalid request: params must be a JSON object") {
		t.Errorf("error = %q", message)
	}
}

func TestHandlerErrorKeepsConnectionOpen(t *testing.T) {
	server := startServer(t, ServerConfig{})
	conn := dial(t, server.socketPath)

	failed := roundTrip(t, conn, map[string]any{"action": "fail"})
	if failed["ok"] != false || !strings.HasPrefix(failed["error"].(string), "invalid dev") {
		t.Fatalf("fail response = %v", failed)
	}

	panicked := roundTrip(t, conn, map[string]any{"action": "panic"})
	if panicked["error"] != "internal error: handler exploded" {
		t.Fatalf("panic response = %v", panicked)
	}

	after := roundTrip(t, conn, map[string]any{"action": "echo", "params": map[string]any{"n": 1}})
	if after["ok"] != true {
		t.Fatalf("request after failures = %v", after)
	}
}

func TestResultCannotForgeEnvelope(t *testing.T) {
	server := startServer(t, ServerConfig{})
	conn := dial(t, server.socketPath)

	response := roundTrip(t, conn, map[string]any{"action": "forge"})
	if response["ok"] != true {
		t.Errorf("ok = %v, want true", response["ok"])
	}
	if _, present := response["error"]; present {
		t.Errorf("forged error key survived: %v", response)
	}
	if response["value"] != json.Number("7") {
		t.Errorf("value = %v, want 7", response["value"])
	}
}

func TestNonObjectBodyIsRequestError(t *testing.T) {
	server := startServer(t, ServerConfig{})
	conn := dial(t, server.socketPath)

	writeRawFrame(t, conn, []byte(`[1, 2, 3]`))
	response, err := frame.Read(conn, 0)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	message, _ := response["error"].(string)
	if !strings.HasPrefix(message, "invalid request: body must be a JSON object, got array") {
		t.Errorf("error = %q", message)
	}

	if roundTrip(t, conn, map[string]any{"action": "echo"})["ok"] != true {
		t.Error("connection unusable after non-object request")
	}
}

func TestMalformedJSONClosesConnection(t *testing.T) {
	server := startServer(t, ServerConfig{})
	conn := dial(t, server.socketPath)

	writeRawFrame(t, conn, []byte(`{"action": `))
	requireClosedWithoutReply(t, conn)
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	server := startServer(t, ServerConfig{MaxFrameBytes: 1024})
	conn := dial(t, server.socketPath)

	header := make([]byte, frame.HeaderSize)
	binary.BigEndian.PutUint32(header, 1<<30)
	if _, err := conn.Write(header); err != nil {
		t.Fatalf("writing header: %v", err)
	}
	requireClosedWithoutReply(t, conn)
}

func TestTruncatedFrameClosesConnection(t *testing.T) {
	server := startServer(t, ServerConfig{})
	conn := dial(t, server.socketPath)

	header := make([]byte, frame.HeaderSize)
	binary.BigEndian.PutUint32(header, 100)
	if _, err := conn.Write(append(header, []byte(`{"action"`)...)); err != nil {
		t.Fatalf("writing partial frame: %v", err)
	}
	conn.(*net.UnixConn).CloseWrite()
	requireClosedWithoutReply(t, conn)
}

func TestOversizedResponseBecomesError(t *testing.T) {
	server := startServer(t, ServerConfig{MaxFrameBytes: 1024})
	conn := dial(t, server.socketPath)

	response := roundTrip(t, conn, map[string]any{"action": "huge"})
	message, _ := response["error"].(string)
	if response["ok"] != false || !strings.HasPrefix(message, "internal error: response could not be encoded") {
		t.Errorf("response = %v", response)
	}
}

func TestConcurrentConnections(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 1)
	server := startServer(t, ServerConfig{}, testModule(release, started))

	slowConn := dial(t, server.socketPath)
	slowResponses := make(chan map[string]any, 1)
	go func() {
		if err := frame.Write(slowConn, map[string]any{"action": "slow"}, 0); err != nil {
			return
		}
		response, err := frame.Read(slowConn, 0)
		if err == nil {
			slowResponses <- response
		}
	}()
	testutil.RequireReceive(t, started, testutil.DefaultTimeout, "slow handler start")

	// A second connection is served while the first is blocked.
	fastConn := dial(t, server.socketPath)
	fast := roundTrip(t, fastConn, map[string]any{"action": "echo", "params": map[string]any{"fast": true}})
	if fast["fast"] != true {
		t.Fatalf("fast response = %v", fast)
	}

	select {
	case response := <-slowResponses:
		t.Fatalf("slow request finished early: %v", response)
	default:
	}

	testutil.RequireSend(t, release, struct{}{}, testutil.DefaultTimeout, "releasing slow handler")
	slow := testutil.RequireReceive(t, slowResponses, testutil.DefaultTimeout, "slow response")
	if slow["output"] != "slow done" {
		t.Errorf("slow response = %v", slow)
	}
}

func TestShutdownDrainsInFlightRequest(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 1)
	server := startServer(t, ServerConfig{}, testModule(release, started))

	conn := dial(t, server.socketPath)
	responses := make(chan map[string]any, 1)
	go func() {
		if err := frame.Write(conn, map[string]any{"action": "slow"}, 0); err != nil {
			return
		}
		response, err := frame.Read(conn, 0)
		if err == nil {
			responses <- response
		}
	}()
	testutil.RequireReceive(t, started, testutil.DefaultTimeout, "slow handler start")

	// An idle connection must not hold up shutdown.
	idle := dial(t, server.socketPath)
	roundTrip(t, idle, map[string]any{"action": "echo"})

	server.cancel()
	select {
	case <-server.done:
		t.Fatal("Serve returned while a request was executing")
	case <-time.After(50 * time.Millisecond): //nolint:realclock negative check
	}

	close(release)
	response := testutil.RequireReceive(t, responses, testutil.DefaultTimeout, "in-flight response")
	if response["ok"] != true {
		t.Errorf("in-flight response = %v", response)
	}
	testutil.RequireClosed(t, server.done, testutil.DefaultTimeout, "Serve return")
	if server.serveErr != nil {
		t.Errorf("Serve: %v", server.serveErr)
	}
	requireClosedWithoutReply(t, idle)

	if _, err := os.Lstat(server.socketPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket file still present after shutdown: %v", err)
	}
}

func TestSocketMode(t *testing.T) {
	server := startServer(t, ServerConfig{})

	info, err := os.Lstat(server.socketPath)
	if err != nil {
		t.Fatalf("Lstat: %v", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		t.Errorf("mode %s is not a socket", info.Mode())
	}
	if info.Mode().Perm() != DefaultSocketMode {
		t.Errorf("perm = %o, want %o", info.Mode().Perm(), DefaultSocketMode)
	}
}

func TestStaleSocketReplaced(t *testing.T) {
	path := filepath.Join(testutil.SocketDir(t), "root-agent.sock")
	stale, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	// Leave the file behind without a listener.
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	stale.Close()

	if err := removeStaleSocket(path); err != nil {
		t.Fatalf("removeStaleSocket: %v", err)
	}
	if _, err := os.Lstat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale socket not removed: %v", err)
	}
}

func TestStaleSocketRefusesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "root-agent.sock")
	if err := os.WriteFile(path, []byte("precious"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	err := removeStaleSocket(path)
	if err == nil || !strings.Contains(err.Error(), "not a socket") {
		t.Fatalf("removeStaleSocket = %v, want not-a-socket error", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "precious" {
		t.Error("regular file was modified")
	}
}

func TestStaleSocketRefusesLiveListener(t *testing.T) {
	server := startServer(t, ServerConfig{})
	err := removeStaleSocket(server.socketPath)
	if err == nil || !strings.Contains(err.Error(), "another root agent") {
		t.Fatalf("removeStaleSocket = %v, want live-listener error", err)
	}
}

func TestAuditRecords(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fakeClock := clock.Fake(start)
	ticking := action.Module{
		Name:   "ticking",
		Source: action.SourceBuiltin,
		Actions: map[string]action.Handler{
			"tick": func(context.Context, action.Params) (action.Result, error) {
				fakeClock.Advance(3 * time.Second)
				return action.Result{}, nil
			},
		},
	}
	server := startServer(t, ServerConfig{Clock: fakeClock}, testModule(nil, nil), ticking)
	conn := dial(t, server.socketPath)

	roundTrip(t, conn, map[string]any{"action": "echo", "params": map[string]any{"k": "v"}})
	roundTrip(t, conn, map[string]any{"action": "fail"})
	roundTrip(t, conn, map[string]any{"action": "tick"})

	records := server.recorder.snapshot()
	if len(records) != 3 {
		t.Fatalf("got %d audit records, want 3", len(records))
	}
	if records[0].Action != "echo" || !records[0].OK || records[0].Params["k"] != "v" {
		t.Errorf("first record = %+v", records[0])
	}
	if !records[0].Time.Equal(start) || records[0].Duration != 0 {
		t.Errorf("first record time = %s, duration = %s; want %s, 0", records[0].Time, records[0].Duration, start)
	}
	if records[1].Action != "fail" || records[1].OK || !strings.HasPrefix(records[1].Error, "invalid dev") {
		t.Errorf("second record = %+v", records[1])
	}
	if records[2].Action != "tick" || !records[2].Time.Equal(start) || records[2].Duration != 3*time.Second {
		t.Errorf("third record time = %s, duration = %s; want %s, 3s", records[2].Time, records[2].Duration, start)
	}
	if records[0].RequestID == "" || records[0].RequestID == records[1].RequestID {
		t.Errorf("request IDs %q, %q not unique", records[0].RequestID, records[1].RequestID)
	}
	if records[0].Peer == nil || records[0].Peer.UID != uint32(os.Getuid()) {
		t.Errorf("peer = %+v, want uid %d", records[0].Peer, os.Getuid())
	}
}

func TestHandlerTimeout(t *testing.T) {
	server := startServer(t, ServerConfig{HandlerTimeout: 50 * time.Millisecond})
	conn := dial(t, server.socketPath)

	// slow blocks until its context ends because nothing releases it.
	response := roundTrip(t, conn, map[string]any{"action": "slow"})
	checkEnvelope(t, response)
	if response["ok"] != false {
		t.Fatalf("response = %v, want failure", response)
	}
	message, _ := response["error"].(string)
	if !strings.Contains(message, "exceeded handler timeout") {
		t.Errorf("error = %q, want handler timeout", message)
	}

	// The connection stays usable after a timed-out request.
	echo := roundTrip(t, conn, map[string]any{"action": "echo", "params": map[string]any{"after": "timeout"}})
	if echo["ok"] != true || echo["after"] != "timeout" {
		t.Errorf("follow-up response = %v", echo)
	}
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name       string
		message    any
		wantAction string
		wantParams map[string]any
		wantError  string
	}{
		{
			name:       "nested",
			message:    map[string]any{"action": "qm-start", "params": map[string]any{"vmid": 100}},
			wantAction: "qm-start",
			wantParams: map[string]any{"vmid": 100},
		},
		{
			name:       "nested null params",
			message:    map[string]any{"action": "broker-renew", "params": nil},
			wantAction: "broker-renew",
			wantParams: map[string]any{},
		},
		{
			name:       "flat",
			message:    map[string]any{"action": "qm-stop", "vmid": 101},
			wantAction: "qm-stop",
			wantParams: map[string]any{"vmid": 101},
		},
		{
			name:      "string body",
			message:   "qm-start",
			wantError: "invalid request: body must be a JSON object, got string",
		},
		{
			name:      "numeric action",
			message:   map[string]any{"action": 5},
			wantError: "invalid request: action must be a string, got number",
		},
		{
			name:      "missing action",
			message:   map[string]any{},
			wantError: errMissingAction,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			name, params, err := parseRequest(test.message)
			if test.wantError != "" {
				if err == nil || err.Error() != test.wantError {
					t.Fatalf("error = %v, want %q", err, test.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRequest: %v", err)
			}
			if name != test.wantAction {
				t.Errorf("action = %q, want %q", name, test.wantAction)
			}
			if len(params) != len(test.wantParams) {
				t.Fatalf("params = %v, want %v", params, test.wantParams)
			}
			for key, want := range test.wantParams {
				if params[key] != want {
					t.Errorf("params[%q] = %v, want %v", key, params[key], want)
				}
			}
		})
	}
}
