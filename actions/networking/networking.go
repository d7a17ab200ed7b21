// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package networking provides the built-in IPv6 host route actions.
//
// Both actions take an "address" that must be a single IPv6 host
// (/128) and a "dev" that must be one of the configured route devices
// or a Proxmox tap device. ip6-route-add uses "ip -6 route replace" so
// repeating it is harmless.
package networking

import (
	"context"

	"github.com/bureau-foundation/bureau-root-agent/lib/action"
	"github.com/bureau-foundation/bureau-root-agent/lib/validate"
)

// ModuleName is the registry name of this module.
const ModuleName = "networking"

// Config holds the module's host-specific settings.
type Config struct {
	// RouteDevices are the bridges a host route may point at.
	RouteDevices []string
}

// Module returns the networking module bound to env.
func Module(env action.Env, config Config) action.Module {
	routes := &routeHandlers{env: env, devices: config.RouteDevices}
	return action.Module{
		Name:        ModuleName,
		Description: "IPv6 host routes",
		Source:      action.SourceBuiltin,
		Actions: map[string]action.Handler{
			"ip6-route-add": routes.handler("replace"),
			"ip6-route-del": routes.handler("del"),
		},
	}
}

type routeHandlers struct {
	env     action.Env
	devices []string
}

func (r *routeHandlers) handler(verb string) action.Handler {
	return func(ctx context.Context, params action.Params) (action.Result, error) {
		address, err := params.String("address")
		if err != nil {
			return nil, err
		}
		if _, err := validate.IPv6Host128("address", address); err != nil {
			return nil, err
		}
		device, err := params.String("dev")
		if err != nil {
			return nil, err
		}
		if _, err := validate.RouteDevice("dev", device, r.devices); err != nil {
			return nil, err
		}

		result, err := r.env.Exec(ctx, []string{"ip", "-6", "route", verb, address, "dev", device}, 0)
		if err != nil {
			return nil, err
		}
		return action.Result{"output": result.Stdout}, nil
	}
}
