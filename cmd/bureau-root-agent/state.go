// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/bureau-root-agent/lib/codec"
	"github.com/bureau-foundation/bureau-root-agent/lib/config"
	"github.com/bureau-foundation/bureau-root-agent/lib/ownership"
	"github.com/bureau-foundation/bureau-root-agent/lib/version"
)

// stateFileName is the daemon state file inside the run directory.
const stateFileName = "root-agent.state"

// State describes a running daemon. It is written as CBOR when the
// socket is ready and removed on clean exit. The json tags double as
// CBOR keys and as the field names of "status --json".
type State struct {
	PID       int       `json:"pid"`
	Socket    string    `json:"socket"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`

	// Binary and BinaryDigest identify the executable that is
	// serving, so operators can tell whether an upgrade took effect.
	Binary       string `json:"binary,omitempty"`
	BinaryDigest string `json:"binary_digest,omitempty"`

	ConfigFile string `json:"config_file,omitempty"`
	PluginDir  string `json:"plugin_dir"`
	AuditDB    string `json:"audit_db,omitempty"`

	Modules        []ModuleState   `json:"modules"`
	Conflicts      []ConflictState `json:"conflicts,omitempty"`
	PluginFailures []FailureState  `json:"plugin_failures,omitempty"`
}

// ModuleState is one merged module.
type ModuleState struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Source      string   `json:"source"`
	Digest      string   `json:"digest,omitempty"`
	Actions     []string `json:"actions"`
}

// ConflictState is an action name claimed by more than one module.
type ConflictState struct {
	Action  string `json:"action"`
	Kept    string `json:"kept"`
	Dropped string `json:"dropped"`
}

// FailureState is a plugin manifest that was skipped.
type FailureState struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

func stateFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.RunDir, stateFileName)
}

func (d *daemon) buildState() State {
	state := State{
		PID:        os.Getpid(),
		Socket:     d.server.SocketPath(),
		StartedAt:  d.clock.Now().UTC(),
		Version:    version.Info(),
		ConfigFile: d.configPath,
		PluginDir:  d.config.Paths.PluginDir,
	}
	if d.auditLog != nil {
		state.AuditDB = d.config.Paths.AuditDB
	}
	if digest, path, err := version.SelfDigest(); err == nil {
		state.Binary = path
		state.BinaryDigest = digest
	} else {
		d.logger.Warn("could not hash own binary", "error", err)
	}

	for _, module := range d.registry.Modules() {
		state.Modules = append(state.Modules, ModuleState{
			Name:        module.Name,
			Description: module.Description,
			Source:      module.Source,
			Digest:      module.Digest,
			Actions:     module.Actions,
		})
	}
	for _, conflict := range d.registry.Conflicts() {
		state.Conflicts = append(state.Conflicts, ConflictState{
			Action:  conflict.Action,
			Kept:    conflict.Kept,
			Dropped: conflict.Dropped,
		})
	}
	for _, failure := range d.failures {
		state.PluginFailures = append(state.PluginFailures, FailureState{
			Path:  failure.Path,
			Error: failure.Err.Error(),
		})
	}
	return state
}

func writeState(path string, state State) error {
	data, err := codec.Marshal(state)
	if err != nil {
		return err
	}
	return ownership.WriteFileAtomic(path, data, 0o644, -1)
}
