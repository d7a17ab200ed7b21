// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/bureau-root-agent/lib/action"
	"github.com/bureau-foundation/bureau-root-agent/lib/frame"
	"github.com/bureau-foundation/bureau-root-agent/lib/testutil"
)

func TestResolveSocketPath(t *testing.T) {
	t.Setenv(SocketEnvironmentVariable, "")
	if got := ResolveSocketPath(""); got != DefaultSocketPath {
		t.Errorf("default = %q, want %q", got, DefaultSocketPath)
	}

	t.Setenv(SocketEnvironmentVariable, "/tmp/from-env.sock")
	if got := ResolveSocketPath(""); got != "/tmp/from-env.sock" {
		t.Errorf("from environment = %q", got)
	}
	if got := ResolveSocketPath("/tmp/explicit.sock"); got != "/tmp/explicit.sock" {
		t.Errorf("explicit = %q", got)
	}
}

func TestClientCall(t *testing.T) {
	server := startServer(t, ServerConfig{})
	client := NewClient(server.socketPath)

	result, err := client.Call(context.Background(), "echo", map[string]any{"vmid": 100})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if _, present := result["ok"]; present {
		t.Errorf("result still contains ok: %v", result)
	}
	if result["vmid"] != json.Number("100") {
		t.Errorf("vmid = %#v, want json.Number 100", result["vmid"])
	}
}

func TestClientRemoteError(t *testing.T) {
	server := startServer(t, ServerConfig{})
	client := NewClient(server.socketPath)

	_, err := client.Call(context.Background(), "no-such-action", nil)
	if !IsRemoteError(err) || IsConnectionError(err) {
		t.Fatalf("err = %v, want only a remote error", err)
	}
	var remote *RemoteError
	errors.As(err, &remote)
	if remote.Action != "no-such-action" || remote.Message != "unknown action: no-such-action" {
		t.Errorf("remote error = %+v", remote)
	}
}

func TestClientConnectionErrorWhenSocketMissing(t *testing.T) {
	client := NewClient(filepath.Join(testutil.SocketDir(t), "absent.sock"))

	_, err := client.Call(context.Background(), "echo", nil)
	if !IsConnectionError(err) || IsRemoteError(err) {
		t.Fatalf("err = %v, want only a connection error", err)
	}
	var connection *ConnectionError
	errors.As(err, &connection)
	if connection.Op != "dial" {
		t.Errorf("Op = %q, want dial", connection.Op)
	}
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	server := startServer(t, ServerConfig{}, testModule(release, nil))
	client := NewClient(server.socketPath)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := client.Call(ctx, "slow", nil)
	if !IsConnectionError(err) {
		t.Fatalf("err = %v, want connection error", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want it to wrap context.DeadlineExceeded", err)
	}
}

func TestClientConnectionClosedBeforeResponse(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "closer.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		frame.ReadBody(conn, 0)
		conn.Close()
	}()

	_, err = NewClient(socketPath).Call(context.Background(), "echo", nil)
	var connection *ConnectionError
	if !errors.As(err, &connection) || connection.Op != "read" {
		t.Fatalf("err = %v, want read connection error", err)
	}
}

func TestClientRejectsEmptyAction(t *testing.T) {
	_, err := NewClient("/nonexistent.sock").Call(context.Background(), "", nil)
	if err == nil || IsConnectionError(err) || IsRemoteError(err) {
		t.Fatalf("err = %v, want plain usage error", err)
	}
}

// callLog records the params each action received.
type callLog struct {
	mu    sync.Mutex
	calls map[string]action.Params
}

func (l *callLog) module(results map[string]action.Result) action.Module {
	handlers := make(map[string]action.Handler, len(results))
	for name, result := range results {
		handlers[name] = func(_ context.Context, params action.Params) (action.Result, error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.calls[name] = params
			return result, nil
		}
	}
	return action.Module{Name: "recorder", Actions: handlers}
}

func (l *callLog) params(t *testing.T, name string) action.Params {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	params, ok := l.calls[name]
	if !ok {
		t.Fatalf("action %s was not called", name)
	}
	return params
}

func TestClientWrappers(t *testing.T) {
	log := &callLog{calls: make(map[string]action.Params)}
	module := log.module(map[string]action.Result{
		"ip6-route-add":    {"output": ""},
		"ip6-route-del":    {"output": ""},
		"iptables-open":    {"output": ""},
		"iptables-close":   {"output": ""},
		"virt-customize":   {"output": "customized"},
		"generate-wallet":  {"address": "0x00000000000000000000000000000000000000aa"},
		"generate-keypair": {"public_key": "age1example", "keyfile": "/etc/bureau/relay.age"},
		"addressbook-save": {"count": 1},
		"broker-renew":     {"output": "renewed"},
		"qm-start":         {"output": "started"},
		"qm-stop":          {"output": "stopped"},
		"qm-shutdown":      {"output": "shut down"},
		"qm-destroy":       {"output": "destroyed"},
	})
	server := startServer(t, ServerConfig{}, module)
	client := NewClient(server.socketPath)
	ctx := context.Background()

	if err := client.IP6RouteAdd(ctx, "fd00::5/128", "vmbr0"); err != nil {
		t.Fatalf("IP6RouteAdd: %v", err)
	}
	if params := log.params(t, "ip6-route-add"); params["address"] != "fd00::5/128" || params["dev"] != "vmbr0" {
		t.Errorf("ip6-route-add params = %v", params)
	}

	if err := client.IP6RouteDel(ctx, "fd00::5/128", "tap100i0"); err != nil {
		t.Fatalf("IP6RouteDel: %v", err)
	}
	if params := log.params(t, "ip6-route-del"); params["dev"] != "tap100i0" {
		t.Errorf("ip6-route-del params = %v", params)
	}

	if err := client.IPTablesOpen(ctx, 8443, "udp", "vm-100"); err != nil {
		t.Fatalf("IPTablesOpen: %v", err)
	}
	params := log.params(t, "iptables-open")
	if params["port"] != json.Number("8443") || params["proto"] != "udp" || params["comment"] != "vm-100" {
		t.Errorf("iptables-open params = %v", params)
	}

	if err := client.IPTablesClose(ctx, 8443, "", "vm-100"); err != nil {
		t.Fatalf("IPTablesClose: %v", err)
	}
	if params := log.params(t, "iptables-close"); params.Has("proto") {
		t.Errorf("empty protocol should be omitted: %v", params)
	}

	output, err := client.VirtCustomize(ctx, "/var/lib/bureau/base.qcow2", [][]string{{"--install", "qemu-guest-agent"}})
	if err != nil || output != "customized" {
		t.Fatalf("VirtCustomize = %q, %v", output, err)
	}
	commands, err := log.params(t, "virt-customize").List("commands")
	if err != nil || len(commands) != 1 {
		t.Errorf("virt-customize commands = %v, %v", commands, err)
	}

	address, err := client.GenerateWallet(ctx, "hot")
	if err != nil || address != "0x00000000000000000000000000000000000000aa" {
		t.Fatalf("GenerateWallet = %q, %v", address, err)
	}

	keypair, err := client.GenerateKeypair(ctx, KeypairAge, "relay")
	if err != nil || keypair.PublicKey != "age1example" || keypair.Keyfile != "/etc/bureau/relay.age" {
		t.Fatalf("GenerateKeypair = %+v, %v", keypair, err)
	}
	if params := log.params(t, "generate-keypair"); params["type"] != "age" || params["name"] != "relay" {
		t.Errorf("generate-keypair params = %v", params)
	}

	err = client.AddressbookSave(ctx, map[string]AddressbookEntry{
		"hot": {Address: "0x00000000000000000000000000000000000000aa", Keyfile: "/etc/bureau/hot.key"},
	})
	if err != nil {
		t.Fatalf("AddressbookSave: %v", err)
	}
	entries, err := log.params(t, "addressbook-save").Map("entries")
	if err != nil || len(entries) != 1 {
		t.Errorf("addressbook entries = %v, %v", entries, err)
	}

	if output, err := client.BrokerRenew(ctx); err != nil || output != "renewed" {
		t.Errorf("BrokerRenew = %q, %v", output, err)
	}

	for name, call := range map[string]func(context.Context, int) (string, error){
		"qm-start":    client.QMStart,
		"qm-stop":     client.QMStop,
		"qm-shutdown": client.QMShutdown,
		"qm-destroy":  client.QMDestroy,
	} {
		if _, err := call(ctx, 100); err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if params := log.params(t, name); params["vmid"] != json.Number("100") {
			t.Errorf("%s params = %v", name, params)
		}
	}
}
