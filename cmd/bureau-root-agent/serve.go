// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bureau-root-agent/actions/networking"
	"github.com/bureau-foundation/bureau-root-agent/actions/proxmox"
	"github.com/bureau-foundation/bureau-root-agent/actions/system"
	"github.com/bureau-foundation/bureau-root-agent/lib/action"
	"github.com/bureau-foundation/bureau-root-agent/lib/audit"
	"github.com/bureau-foundation/bureau-root-agent/lib/clock"
	"github.com/bureau-foundation/bureau-root-agent/lib/config"
	"github.com/bureau-foundation/bureau-root-agent/lib/hostexec"
	"github.com/bureau-foundation/bureau-root-agent/lib/ownership"
	"github.com/bureau-foundation/bureau-root-agent/lib/plugin"
	"github.com/bureau-foundation/bureau-root-agent/lib/process"
	"github.com/bureau-foundation/bureau-root-agent/lib/service"
)

func runServe(args []string) error {
	var configPath string
	var allowUnprivileged bool
	flagSet := pflag.NewFlagSet(binaryName+" serve", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "configuration file (default $"+config.EnvironmentVariable+")")
	flagSet.BoolVar(&allowUnprivileged, "allow-unprivileged", false, "run without root, for development and tests")
	if err := parseFlags(flagSet, args); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if os.Geteuid() != 0 && !allowUnprivileged {
		return errors.New("must run as root (use --allow-unprivileged for development)")
	}

	level, _ := cfg.LogLevel()
	logger := process.NewLogger(process.FormatJSON, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon, err := newDaemon(cfg, configPath, clock.Real(), logger)
	if err != nil {
		return err
	}
	defer daemon.close()
	return daemon.serve(ctx)
}

// daemon is one serving instance: the merged registry plus the
// resources that outlive individual requests.
type daemon struct {
	config     *config.Config
	configPath string
	clock      clock.Clock
	logger     *slog.Logger

	registry *action.Registry
	failures []plugin.LoadFailure
	auditLog *audit.Log
	server   *service.Server
}

func newDaemon(cfg *config.Config, configPath string, c clock.Clock, logger *slog.Logger) (*daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	socketMode, err := cfg.SocketMode()
	if err != nil {
		return nil, err
	}

	runner := hostexec.NewOSRunner(cfg.Paths.ExecPath, cfg.Limits.CommandTimeout, cfg.Limits.MaxOutputBytes, logger)
	runner.Clock = c
	env := action.Env{
		Runner:         runner,
		Logger:         logger,
		Clock:          c,
		CommandTimeout: cfg.Limits.CommandTimeout,
	}

	modules, failures, err := loadModules(cfg, env)
	if err != nil {
		return nil, err
	}
	registry := action.BuildRegistry(modules, logger)

	d := &daemon{
		config:     cfg,
		configPath: configPath,
		clock:      c,
		logger:     logger,
		registry:   registry,
		failures:   failures,
	}

	serverConfig := service.ServerConfig{
		SocketPath:     cfg.Socket.Path,
		SocketMode:     socketMode,
		SocketGroup:    cfg.Socket.Group,
		MaxFrameBytes:  cfg.Limits.MaxFrameBytes,
		HandlerTimeout: cfg.Limits.HandlerTimeout,
		IdleTimeout:    cfg.Limits.IdleTimeout,
		WriteTimeout:   cfg.Limits.WriteTimeout,
		MaxConnections: cfg.Limits.MaxConnections,
		Clock:          c,
	}
	if cfg.Audit.Enabled {
		d.auditLog, err = audit.Open(audit.Config{Path: cfg.Paths.AuditDB, Logger: logger})
		if err != nil {
			return nil, err
		}
		serverConfig.Recorder = d.auditLog
	}
	d.server = service.NewServer(registry, serverConfig, logger)
	return d, nil
}

// loadModules returns the built-in modules followed by the plugin
// directory's modules. BuildRegistry orders them by name, so a plugin
// can only claim action names no earlier module took.
func loadModules(cfg *config.Config, env action.Env) ([]action.Module, []plugin.LoadFailure, error) {
	keyGroupID := ownership.LookupGroupID(cfg.System.KeyGroup)
	if keyGroupID < 0 {
		env.Logger.Warn("key group does not exist, key files keep the default group",
			"group", cfg.System.KeyGroup,
		)
	}

	modules := []action.Module{
		networking.Module(env, networking.Config{
			RouteDevices: cfg.Networking.RouteDevices,
		}),
		proxmox.Module(env, proxmox.Config{
			StateDir: cfg.Paths.StateDir,
		}),
		system.Module(env, system.Config{
			ConfigDir:          cfg.Paths.ConfigDir,
			ImageDirs:          cfg.Paths.ImageDirs,
			KeyGroupID:         keyGroupID,
			WalletDenyNames:    cfg.System.WalletDenyNames,
			CastBinary:         cfg.System.CastBinary,
			BrokerClientBinary: cfg.System.BrokerClientBinary,
		}),
	}

	plugins, failures, err := plugin.LoadDir(cfg.Paths.PluginDir, plugin.Options{
		Env:          env,
		RouteDevices: cfg.Networking.RouteDevices,
	})
	if err != nil {
		return nil, nil, err
	}
	return append(modules, plugins...), failures, nil
}

// serve publishes the state file once the socket is bound and runs
// the server until ctx is cancelled.
func (d *daemon) serve(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- d.server.Serve(ctx)
	}()

	select {
	case <-d.server.Ready():
	case err := <-serveErr:
		if err == nil {
			err = errors.New("server exited before listening")
		}
		return err
	}

	statePath := stateFilePath(d.config)
	if err := writeState(statePath, d.buildState()); err != nil {
		d.logger.Warn("could not write state file", "path", statePath, "error", err)
	} else {
		defer os.Remove(statePath)
	}

	return <-serveErr
}

// close releases the audit log. Safe to call more than once.
func (d *daemon) close() {
	if d.auditLog == nil {
		return
	}
	if err := d.auditLog.Close(); err != nil {
		d.logger.Warn("closing audit log", "error", err)
	}
	d.auditLog = nil
}
