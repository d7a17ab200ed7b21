// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bureau-foundation/bureau-root-agent/lib/action"
	"github.com/bureau-foundation/bureau-root-agent/lib/binhash"
)

// maxManifestSize bounds how much of a manifest file is read.
const maxManifestSize = 1024 * 1024

// Options configures LoadDir.
type Options struct {
	// Env is handed to every compiled handler. Env.Logger receives
	// load warnings.
	Env action.Env

	// RouteDevices is the allow-list behind the "route-device"
	// validator.
	RouteDevices []string
}

// LoadFailure describes a manifest that was skipped.
type LoadFailure struct {
	Path string
	Err  error
}

func (f LoadFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Path, f.Err)
}

// LoadDir loads every manifest in directory. A missing directory is not
// an error and yields no modules. The returned error is non-nil only
// when the directory exists but cannot be listed; per-file problems are
// returned as failures alongside the modules that did load.
func LoadDir(directory string, options Options) ([]action.Module, []LoadFailure, error) {
	logger := options.Env.Logger

	entries, err := os.ReadDir(directory)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("plugin directory does not exist, no plugins loaded", "path", directory)
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("listing plugin directory %s: %w", directory, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	slices.Sort(names)

	var modules []action.Module
	var failures []LoadFailure
	for _, name := range names {
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(directory, name)
		if !IsManifestFile(name) {
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				continue
			}
			logger.Warn("skipping plugin file with unrecognised extension", "path", path)
			continue
		}

		module, err := loadFile(path, options)
		if err != nil {
			if errors.Is(err, errIsDirectory) {
				continue
			}
			logger.Warn("skipping plugin module", "path", path, "error", err)
			failures = append(failures, LoadFailure{Path: path, Err: err})
			continue
		}
		logger.Info("loaded plugin module",
			"module", module.Name,
			"path", path,
			"actions", len(module.Actions),
			"digest", module.Digest,
		)
		modules = append(modules, module)
	}
	return modules, failures, nil
}

var errIsDirectory = errors.New("is a directory")

// loadFile reads, parses, and compiles one manifest.
func loadFile(path string, options Options) (action.Module, error) {
	info, err := os.Stat(path)
	if err != nil {
		return action.Module{}, err
	}
	if info.IsDir() {
		return action.Module{}, errIsDirectory
	}
	if !info.Mode().IsRegular() {
		return action.Module{}, fmt.Errorf("not a regular file (mode %s)", info.Mode())
	}
	if info.Mode().Perm()&0o002 != 0 {
		return action.Module{}, fmt.Errorf("refusing world-writable manifest (mode %04o)", info.Mode().Perm())
	}
	if info.Size() > maxManifestSize {
		return action.Module{}, fmt.Errorf("manifest is %d bytes, limit is %d", info.Size(), maxManifestSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return action.Module{}, err
	}
	manifest, err := ParseManifest(path, data)
	if err != nil {
		return action.Module{}, err
	}
	handlers, err := compileManifest(manifest, options)
	if err != nil {
		return action.Module{}, err
	}

	return action.Module{
		Name:        ModuleName(path),
		Description: manifest.Description,
		Source:      path,
		Digest:      binhash.FormatDigest(binhash.HashBytes(data)),
		Actions:     handlers,
	}, nil
}
