// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxmox provides the built-in "qm" actions for managing
// Proxmox VE virtual machines.
//
// Every action takes a "vmid" (an integer 100-999999). qm-create and
// qm-set accept only allow-listed options; anything that would attach
// host devices, change hookscripts, or pass raw QEMU arguments is
// rejected before qm runs.
package proxmox

import (
	"context"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/bureau-root-agent/lib/action"
	"github.com/bureau-foundation/bureau-root-agent/lib/validate"
)

// ModuleName is the registry name of this module.
const ModuleName = "proxmox"

const (
	shutdownTimeout   = 5 * time.Minute
	createTimeout     = 5 * time.Minute
	importDiskTimeout = 10 * time.Minute
)

// setKeys are the qm set options a caller may change. qm create
// accepts the same keys plus a few that only make sense at creation.
var (
	setKeys = []string{
		"agent", "boot", "cores", "ide2", "memory", "name",
		"net0", "ostype", "scsi0", "scsihw", "serial0", "vga",
	}
	createOnlyKeys = []string{"bios", "cpu", "machine", "numa", "sockets"}
)

// Config holds the module's host-specific settings.
type Config struct {
	// StateDir is the tree qm-importdisk may import disks from.
	StateDir string
}

type handlers struct {
	env    action.Env
	config Config
}

// Module returns the proxmox module bound to env.
func Module(env action.Env, config Config) action.Module {
	h := &handlers{env: env, config: config}
	return action.Module{
		Name:        ModuleName,
		Description: "Proxmox VE virtual machines",
		Source:      action.SourceBuiltin,
		Actions: map[string]action.Handler{
			"qm-start":      h.simple("start", 0),
			"qm-stop":       h.simple("stop", 0),
			"qm-shutdown":   h.simple("shutdown", shutdownTimeout),
			"qm-destroy":    h.simple("destroy", 0, "--purge"),
			"qm-template":   h.simple("template", 0),
			"qm-create":     h.create,
			"qm-importdisk": h.importDisk,
			"qm-set":        h.set,
		},
	}
}

func vmid(params action.Params) (string, error) {
	raw, err := params.Raw("vmid")
	if err != nil {
		return "", err
	}
	id, err := validate.VMID("vmid", raw)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(id), nil
}

func (h *handlers) run(ctx context.Context, argv []string, timeout time.Duration) (action.Result, error) {
	result, err := h.env.Exec(ctx, argv, timeout)
	if err != nil {
		return nil, err
	}
	return action.Result{"output": result.Stdout}, nil
}

// simple handles the subcommands that take nothing but a VMID.
func (h *handlers) simple(subcommand string, timeout time.Duration, extra ...string) action.Handler {
	return func(ctx context.Context, params action.Params) (action.Result, error) {
		id, err := vmid(params)
		if err != nil {
			return nil, err
		}
		argv := append([]string{"qm", subcommand, id}, extra...)
		return h.run(ctx, argv, timeout)
	}
}

// create runs "qm create VMID --name NAME ARGS...". args is a flat
// list of "--option", value pairs.
func (h *handlers) create(ctx context.Context, params action.Params) (action.Result, error) {
	id, err := vmid(params)
	if err != nil {
		return nil, err
	}
	name, err := params.String("name")
	if err != nil {
		return nil, err
	}
	if _, err := validate.Name("name", name); err != nil {
		return nil, err
	}
	var args []any
	if params.Has("args") {
		if args, err = params.List("args"); err != nil {
			return nil, err
		}
	}

	argv := []string{"qm", "create", id, "--name", name}
	for i := 0; i < len(args); i += 2 {
		flag, ok := args[i].(string)
		if !ok || !strings.HasPrefix(flag, "--") {
			return nil, validate.Invalid("args", "unexpected positional arg: %v", args[i])
		}
		key := strings.TrimPrefix(flag, "--")
		if key == "name" || (!slices.Contains(setKeys, key) && !slices.Contains(createOnlyKeys, key)) {
			return nil, validate.Invalid("args", "disallowed arg: %s", flag)
		}
		if i+1 >= len(args) {
			return nil, validate.Invalid("args", "%s needs a value", flag)
		}
		value, err := optionValue("args", flag, args[i+1])
		if err != nil {
			return nil, err
		}
		argv = append(argv, flag, value)
	}
	return h.run(ctx, argv, createTimeout)
}

// set runs "qm set VMID --key value ..." with options in sorted key
// order.
func (h *handlers) set(ctx context.Context, params action.Params) (action.Result, error) {
	id, err := vmid(params)
	if err != nil {
		return nil, err
	}
	options, err := params.Map("options")
	if err != nil {
		return nil, err
	}
	if len(options) == 0 {
		return nil, validate.Invalid("options", "must not be empty")
	}
	keys := make([]string, 0, len(options))
	for key := range options {
		if !slices.Contains(setKeys, key) {
			return nil, validate.Invalid("options", "disallowed option: %s", key)
		}
		keys = append(keys, key)
	}
	slices.Sort(keys)

	argv := []string{"qm", "set", id}
	for _, key := range keys {
		value, err := optionValue("options", key, options[key])
		if err != nil {
			return nil, err
		}
		argv = append(argv, "--"+key, value)
	}
	return h.run(ctx, argv, 0)
}

// optionValue renders an option value, refusing anything qm could
// parse as another option.
func optionValue(field, option string, raw any) (string, error) {
	value, err := action.Scalar(field, raw)
	if err != nil {
		return "", validate.Invalid(field, "value for %s must be a string, number, or boolean", option)
	}
	if strings.HasPrefix(value, "-") && !isNumber(value) {
		return "", validate.Invalid(field, "value for %s looks like an option: %q", option, value)
	}
	return value, nil
}

// decimalPattern matches plain decimal numbers. Exponents, hex, Inf and
// NaN are not numbers here.
var decimalPattern = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

func isNumber(text string) bool {
	return decimalPattern.MatchString(text)
}

// importDisk runs "qm importdisk VMID DISK STORAGE" for a disk image in
// the state directory.
func (h *handlers) importDisk(ctx context.Context, params action.Params) (action.Result, error) {
	id, err := vmid(params)
	if err != nil {
		return nil, err
	}
	diskPath, err := params.String("disk_path")
	if err != nil {
		return nil, err
	}
	resolved, err := validate.PathUnder("disk_path", diskPath, []string{h.config.StateDir})
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return nil, validate.Invalid("disk_path", "disk file not found: %s", diskPath)
	}
	storage, err := params.String("storage")
	if err != nil {
		return nil, err
	}
	if _, err := validate.Storage("storage", storage); err != nil {
		return nil, err
	}
	return h.run(ctx, []string{"qm", "importdisk", id, resolved, storage}, importDiskTimeout)
}
