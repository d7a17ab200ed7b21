// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable consulted by Load when no
// explicit path is given.
const EnvironmentVariable = "BUREAU_ROOT_AGENT_CONFIG"

// Config is the root agent configuration.
type Config struct {
	Socket     SocketConfig     `yaml:"socket"`
	Paths      PathsConfig      `yaml:"paths"`
	Limits     LimitsConfig     `yaml:"limits"`
	Networking NetworkingConfig `yaml:"networking"`
	System     SystemConfig     `yaml:"system"`
	Log        LogConfig        `yaml:"log"`
	Audit      AuditConfig      `yaml:"audit"`
}

// SocketConfig configures the listening Unix socket.
type SocketConfig struct {
	// Path is the socket file. Default: /run/bureau/root-agent.sock
	Path string `yaml:"path"`

	// Mode is the octal permission string applied after bind.
	// Default: "0660". Modes granting access to others are rejected.
	Mode string `yaml:"mode"`

	// Group owns the socket. Members of this group may issue
	// requests. Default: bureau
	Group string `yaml:"group"`
}

// PathsConfig configures filesystem locations.
type PathsConfig struct {
	// PluginDir holds manifest files for directory modules.
	PluginDir string `yaml:"plugin_dir"`

	// ConfigDir holds key files and the address book.
	ConfigDir string `yaml:"config_dir"`

	// StateDir holds disk images for import and the audit database.
	StateDir string `yaml:"state_dir"`

	// RunDir holds the daemon state file.
	RunDir string `yaml:"run_dir"`

	// AuditDB is the sqlite audit log path.
	AuditDB string `yaml:"audit_db"`

	// ImageDirs are the trees virt-customize may operate in.
	ImageDirs []string `yaml:"image_dirs"`

	// ExecPath is the PATH given to host commands.
	ExecPath string `yaml:"exec_path"`
}

// LimitsConfig bounds resource use per connection and per request.
// IdleTimeout is how long a connection may sit between requests.
type LimitsConfig struct {
	MaxFrameBytes  int           `yaml:"max_frame_bytes"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxConnections int           `yaml:"max_connections"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

// NetworkingConfig configures the networking actions.
type NetworkingConfig struct {
	// RouteDevices are the bridges IPv6 host routes may point at, in
	// addition to Proxmox tap devices.
	RouteDevices []string `yaml:"route_devices"`
}

// SystemConfig configures the system actions.
type SystemConfig struct {
	// KeyGroup owns generated key files and the address book.
	KeyGroup string `yaml:"key_group"`

	// WalletDenyNames are reserved and cannot be generated.
	WalletDenyNames []string `yaml:"wallet_deny_names"`

	CastBinary         string `yaml:"cast_binary"`
	BrokerClientBinary string `yaml:"broker_client_binary"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// AuditConfig configures the request audit log.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultExecPath is the PATH handed to host commands by default.
const DefaultExecPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Socket: SocketConfig{
			Path:  "/run/bureau/root-agent.sock",
			Mode:  "0660",
			Group: "bureau",
		},
		Paths: PathsConfig{
			PluginDir: "/etc/bureau/root-agent.d",
			ConfigDir: "/etc/bureau",
			StateDir:  "/var/lib/bureau",
			RunDir:    "/run/bureau",
			AuditDB:   "/var/lib/bureau/root-agent-audit.db",
			ImageDirs: []string{"/var/lib/bureau", "/tmp"},
			ExecPath:  DefaultExecPath,
		},
		Limits: LimitsConfig{
			MaxFrameBytes:  1024 * 1024,
			HandlerTimeout: 10 * time.Minute,
			CommandTimeout: 2 * time.Minute,
			IdleTimeout:    5 * time.Minute,
			WriteTimeout:   10 * time.Second,
			MaxConnections: 64,
			MaxOutputBytes: 1024 * 1024,
		},
		Networking: NetworkingConfig{
			RouteDevices: []string{"vmbr0", "virbr0", "br0", "br-ext", "docker0"},
		},
		System: SystemConfig{
			KeyGroup:           "bureau",
			WalletDenyNames:    []string{"admin", "server", "dev", "broker"},
			CastBinary:         "cast",
			BrokerClientBinary: "broker-client",
		},
		Log:   LogConfig{Level: "info"},
		Audit: AuditConfig{Enabled: true},
	}
}

// Load resolves the configuration file and loads it. An explicit path
// wins over BUREAU_ROOT_AGENT_CONFIG; with neither, the defaults are
// returned with variables expanded.
func Load(explicitPath string) (*Config, error) {
	path := explicitPath
	if path == "" {
		path = os.Getenv(EnvironmentVariable)
	}
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged over
// the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.expandVariables()

	return cfg, nil
}

// loadFile merges a YAML file into the current config. Lists in the
// file replace the default lists rather than appending to them.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Paths.ConfigDir = expandVars(c.Paths.ConfigDir, vars)
	c.Paths.StateDir = expandVars(c.Paths.StateDir, vars)
	c.Paths.RunDir = expandVars(c.Paths.RunDir, vars)
	vars["CONFIG_DIR"] = c.Paths.ConfigDir
	vars["STATE_DIR"] = c.Paths.StateDir
	vars["RUN_DIR"] = c.Paths.RunDir

	c.Socket.Path = expandVars(c.Socket.Path, vars)
	c.Paths.PluginDir = expandVars(c.Paths.PluginDir, vars)
	c.Paths.AuditDB = expandVars(c.Paths.AuditDB, vars)
	c.Paths.ExecPath = expandVars(c.Paths.ExecPath, vars)
	for i, directory := range c.Paths.ImageDirs {
		c.Paths.ImageDirs[i] = expandVars(directory, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Names in
// vars take precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var netDevicePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	requireAbsolute := func(name, path string) {
		if path == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		} else if !filepath.IsAbs(path) {
			errs = append(errs, fmt.Errorf("%s must be an absolute path, got %q", name, path))
		}
	}

	requireAbsolute("socket.path", c.Socket.Path)
	if _, err := c.SocketMode(); err != nil {
		errs = append(errs, err)
	}

	requireAbsolute("paths.plugin_dir", c.Paths.PluginDir)
	requireAbsolute("paths.config_dir", c.Paths.ConfigDir)
	requireAbsolute("paths.state_dir", c.Paths.StateDir)
	requireAbsolute("paths.run_dir", c.Paths.RunDir)
	if c.Audit.Enabled {
		requireAbsolute("paths.audit_db", c.Paths.AuditDB)
	}
	if len(c.Paths.ImageDirs) == 0 {
		errs = append(errs, fmt.Errorf("paths.image_dirs must list at least one directory"))
	}
	for i, directory := range c.Paths.ImageDirs {
		requireAbsolute(fmt.Sprintf("paths.image_dirs[%d]", i), directory)
		if filepath.Clean(directory) == "/" {
			errs = append(errs, fmt.Errorf("paths.image_dirs[%d] must not be /", i))
		}
	}
	if c.Paths.ExecPath == "" {
		errs = append(errs, fmt.Errorf("paths.exec_path is required"))
	}

	positive := map[string]int64{
		"limits.max_frame_bytes":  int64(c.Limits.MaxFrameBytes),
		"limits.handler_timeout":  int64(c.Limits.HandlerTimeout),
		"limits.command_timeout":  int64(c.Limits.CommandTimeout),
		"limits.idle_timeout":     int64(c.Limits.IdleTimeout),
		"limits.write_timeout":    int64(c.Limits.WriteTimeout),
		"limits.max_connections":  int64(c.Limits.MaxConnections),
		"limits.max_output_bytes": int64(c.Limits.MaxOutputBytes),
	}
	for _, name := range sortedKeys(positive) {
		if positive[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Limits.MaxFrameBytes > 1<<31-1 {
		errs = append(errs, fmt.Errorf("limits.max_frame_bytes must fit in 31 bits"))
	}

	for _, device := range c.Networking.RouteDevices {
		if !netDevicePattern.MatchString(device) {
			errs = append(errs, fmt.Errorf("networking.route_devices: invalid interface name %q", device))
		}
	}

	if c.System.KeyGroup == "" {
		errs = append(errs, fmt.Errorf("system.key_group is required"))
	}
	if c.System.CastBinary == "" {
		errs = append(errs, fmt.Errorf("system.cast_binary is required"))
	}
	if c.System.BrokerClientBinary == "" {
		errs = append(errs, fmt.Errorf("system.broker_client_binary is required"))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SocketMode parses Socket.Mode.
func (c *Config) SocketMode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(c.Socket.Mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("socket.mode must be an octal permission string, got %q", c.Socket.Mode)
	}
	if mode&^0o777 != 0 {
		return 0, fmt.Errorf("socket.mode %q has bits outside 0777", c.Socket.Mode)
	}
	if mode&0o007 != 0 {
		return 0, fmt.Errorf("socket.mode %q must not grant access to others", c.Socket.Mode)
	}
	return os.FileMode(mode), nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
}

// EnsureDirectories creates the run and state directories if missing.
// The plugin and config directories are left alone: they are owned by
// packaging, and a missing plugin directory just means no plugins.
func (c *Config) EnsureDirectories() error {
	for _, path := range []string{c.Paths.RunDir, c.Paths.StateDir, filepath.Dir(c.Socket.Path)} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
