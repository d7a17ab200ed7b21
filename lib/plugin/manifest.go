// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk form of a directory module.
type Manifest struct {
	Description string                `json:"description" yaml:"description" toml:"description"`
	Actions     map[string]ActionSpec `json:"actions" yaml:"actions" toml:"actions"`
}

// ActionSpec declares one action.
type ActionSpec struct {
	Description string `json:"description" yaml:"description" toml:"description"`

	// Command is the argv template. Elements may contain {name}
	// placeholders except the first, which must be literal.
	Command []string `json:"command" yaml:"command" toml:"command"`

	// Timeout is a Go duration string. Empty means the daemon's
	// command timeout.
	Timeout string `json:"timeout" yaml:"timeout" toml:"timeout"`

	Params map[string]ParamSpec `json:"params" yaml:"params" toml:"params"`

	// Schema is an optional JSON Schema applied to the whole params
	// object before the per-parameter checks.
	Schema map[string]any `json:"schema" yaml:"schema" toml:"schema"`
}

// ParamSpec declares how one parameter is checked. Exactly one of
// Validate, Pattern, or Enum must be set.
type ParamSpec struct {
	Validate string   `json:"validate" yaml:"validate" toml:"validate"`
	Pattern  string   `json:"pattern" yaml:"pattern" toml:"pattern"`
	Enum     []string `json:"enum" yaml:"enum" toml:"enum"`
	Optional bool     `json:"optional" yaml:"optional" toml:"optional"`

	// Default is used when the parameter is absent. Scalars only.
	Default any `json:"default" yaml:"default" toml:"default"`
}

// Extensions lists the recognised manifest file extensions.
var Extensions = []string{".json", ".jsonc", ".toml", ".yaml", ".yml"}

// IsManifestFile reports whether name has a manifest extension.
func IsManifestFile(name string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(name)))
}

// ParseManifest decodes data according to the extension of name.
// Unknown fields are errors in every format so that a misspelled
// "optional" or "validate" cannot silently weaken a check.
func ParseManifest(name string, data []byte) (*Manifest, error) {
	var manifest Manifest
	switch extension := strings.ToLower(filepath.Ext(name)); extension {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&manifest); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("empty manifest")
			}
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	case ".json", ".jsonc":
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&manifest); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
	case ".toml":
		metadata, err := toml.Decode(string(data), &manifest)
		if err != nil {
			return nil, fmt.Errorf("parsing TOML: %w", err)
		}
		if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing TOML: unknown field %q", undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("unsupported manifest extension %q", extension)
	}

	if len(manifest.Actions) == 0 {
		return nil, errors.New("manifest declares no actions")
	}
	return &manifest, nil
}

// ModuleName derives a module name from a manifest path by dropping the
// directory and extension: "/etc/bureau/plugins/20-wg.yaml" is "20-wg".
func ModuleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
