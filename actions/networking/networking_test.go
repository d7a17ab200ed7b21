// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/bureau-root-agent/lib/action"
	"github.com/bureau-foundation/bureau-root-agent/lib/hostexec"
	"github.com/bureau-foundation/bureau-root-agent/lib/validate"
)

func newModule(runner *hostexec.FakeRunner) action.Module {
	env := action.Env{
		Runner:         runner,
		Logger:         slog.New(slog.DiscardHandler),
		CommandTimeout: 2 * time.Minute,
	}
	return Module(env, Config{RouteDevices: []string{"vmbr0"}})
}

func TestRouteCommands(t *testing.T) {
	tests := []struct {
		action string
		want   []string
	}{
		{"ip6-route-add", []string{"ip", "-6", "route", "replace", "2001:db8::5/128", "dev", "vmbr0"}},
		{"ip6-route-del", []string{"ip", "-6", "route", "del", "2001:db8::5/128", "dev", "vmbr0"}},
	}
	for _, test := range tests {
		t.Run(test.action, func(t *testing.T) {
			runner := &hostexec.FakeRunner{
				Respond: func([]string, hostexec.Options) (hostexec.Result, error) {
					return hostexec.Result{Stdout: "ok"}, nil
				},
			}
			module := newModule(runner)
			result, err := module.Actions[test.action](context.Background(), action.Params{
				"address": "2001:db8::5/128",
				"dev":     "vmbr0",
			})
			if err != nil {
				t.Fatalf("handler: %v", err)
			}
			if result["output"] != "ok" {
				t.Errorf("output = %v, want ok", result["output"])
			}
			argvs := runner.Argvs()
			if len(argvs) != 1 || !slices.Equal(argvs[0], test.want) {
				t.Errorf("argv = %v, want %v", argvs, test.want)
			}
		})
	}
}

func TestTapDeviceAllowed(t *testing.T) {
	runner := &hostexec.FakeRunner{}
	module := newModule(runner)
	_, err := module.Actions["ip6-route-add"](context.Background(), action.Params{
		"address": "2001:db8::5/128",
		"dev":     "tap101i0",
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
}

func TestRouteValidation(t *testing.T) {
	tests := []struct {
		name   string
		params action.Params
	}{
		{"missing address", action.Params{"dev": "vmbr0"}},
		{"ipv4 address", action.Params{"address": "10.0.0.1/32", "dev": "vmbr0"}},
		{"wide prefix", action.Params{"address": "2001:db8::/64", "dev": "vmbr0"}},
		{"no prefix", action.Params{"address": "2001:db8::5", "dev": "vmbr0"}},
		{"injection", action.Params{"address": "2001:db8::5/128; reboot", "dev": "vmbr0"}},
		{"device not allowed", action.Params{"address": "2001:db8::5/128", "dev": "eth0"}},
		{"missing device", action.Params{"address": "2001:db8::5/128"}},
		{"device wrong type", action.Params{"address": "2001:db8::5/128", "dev": 7}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			runner := &hostexec.FakeRunner{}
			module := newModule(runner)
			_, err := module.Actions["ip6-route-add"](context.Background(), test.params)
			if !validate.IsError(err) {
				t.Fatalf("error = %v, want validation error", err)
			}
			if len(runner.Calls()) != 0 {
				t.Errorf("runner called %d times after validation failure", len(runner.Calls()))
			}
		})
	}
}

func TestCommandFailure(t *testing.T) {
	runner := &hostexec.FakeRunner{
		Respond: func([]string, hostexec.Options) (hostexec.Result, error) {
			return hostexec.Result{ExitCode: 2, Stderr: "RTNETLINK answers: No such process"}, nil
		},
	}
	module := newModule(runner)
	_, err := module.Actions["ip6-route-del"](context.Background(), action.Params{
		"address": "2001:db8::5/128",
		"dev":     "vmbr0",
	})
	var commandError *action.CommandError
	if !errors.As(err, &commandError) {
		t.Fatalf("error = %v, want *action.CommandError", err)
	}
	if err.Error() != "RTNETLINK answers: No such process" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestCommandTimeoutDefault(t *testing.T) {
	runner := &hostexec.FakeRunner{}
	module := newModule(runner)
	_, err := module.Actions["ip6-route-add"](context.Background(), action.Params{
		"address": "2001:db8::5/128",
		"dev":     "vmbr0",
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got := runner.Calls()[0].Options.Timeout; got != 2*time.Minute {
		t.Errorf("timeout = %s, want 2m", got)
	}
}
