// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Error is a parameter validation failure.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return "invalid " + e.Field
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid constructs an *Error for field.
func Invalid(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsError reports whether err is (or wraps) a validation *Error.
func IsError(err error) bool {
	var validationError *Error
	return errors.As(err, &validationError)
}

const (
	VMIDMin = 100
	VMIDMax = 999999
)

var (
	namePattern       = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)
	shortNamePattern  = regexp.MustCompile(`^[a-z0-9-]{1,32}$`)
	storagePattern    = regexp.MustCompile(`^[a-z0-9-]+$`)
	commentPattern    = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
	ipv6Host128       = regexp.MustCompile(`^([0-9a-fA-F:]+)/128$`)
	netDevicePattern  = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)
	tapDevicePattern  = regexp.MustCompile(`^tap\d+i\d+$`)
	hexAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40,128}$`)
	bech32Pattern     = regexp.MustCompile(`^[a-z][a-z0-9]{0,9}1[02-9ac-hj-np-z]{39,90}$`)
)

// shellMetacharacters are rejected by NoShellMeta. None of the other
// checks can accept them because their character classes exclude them.
const shellMetacharacters = ";&|`$<>(){}[]\\\"'*?!~#\n\r\t "

// IPv6Host128 accepts a single IPv6 address with an explicit /128
// prefix, e.g. "2001:db8::1/128". The returned value is the input
// unchanged.
func IPv6Host128(field, value string) (string, error) {
	if !ipv6Host128.MatchString(value) {
		return "", Invalid(field, "want an IPv6 address with /128 prefix, got %q", value)
	}
	prefix, err := netip.ParsePrefix(value)
	if err != nil || !prefix.Addr().Is6() || prefix.Addr().Is4In6() {
		return "", Invalid(field, "%q is not a valid IPv6 prefix", value)
	}
	return value, nil
}

// NetDevice accepts a Linux network interface name: 1 to 15 characters
// from [a-zA-Z0-9_.-].
func NetDevice(field, value string) (string, error) {
	if !netDevicePattern.MatchString(value) {
		return "", Invalid(field, "%q is not a valid interface name", value)
	}
	return value, nil
}

// RouteDevice accepts a device from the allowed list or a Proxmox VM
// tap device (tap<vmid>i<n>).
func RouteDevice(field, value string, allowed []string) (string, error) {
	if slices.Contains(allowed, value) || tapDevicePattern.MatchString(value) {
		return value, nil
	}
	return "", Invalid(field, "device not allowed: %q", value)
}

// Name accepts lowercase alphanumerics and dashes, 1 to 64 characters.
func Name(field, value string) (string, error) {
	if !namePattern.MatchString(value) {
		return "", Invalid(field, "%q must match [a-z0-9-]{1,64}", value)
	}
	return value, nil
}

// ShortName accepts lowercase alphanumerics and dashes, 1 to 32
// characters.
func ShortName(field, value string) (string, error) {
	if !shortNamePattern.MatchString(value) {
		return "", Invalid(field, "%q must match [a-z0-9-]{1,32}", value)
	}
	return value, nil
}

// Storage accepts a Proxmox storage identifier.
func Storage(field, value string) (string, error) {
	if !storagePattern.MatchString(value) {
		return "", Invalid(field, "%q must match [a-z0-9-]+", value)
	}
	return value, nil
}

// Comment accepts an iptables comment: alphanumerics and dashes only.
func Comment(field, value string) (string, error) {
	if !commentPattern.MatchString(value) {
		return "", Invalid(field, "alphanumeric and dash only, got %q", value)
	}
	return value, nil
}

// Protocol accepts "tcp" or "udp".
func Protocol(field, value string) (string, error) {
	if value != "tcp" && value != "udp" {
		return "", Invalid(field, "must be tcp or udp, got %q", value)
	}
	return value, nil
}

// Address accepts a chain-agnostic wallet address: 0x-prefixed hex of
// 40 to 128 digits, or a bech32 address.
func Address(field, value string) (string, error) {
	if hexAddressPattern.MatchString(value) || bech32Pattern.MatchString(value) {
		return value, nil
	}
	return "", Invalid(field, "%q is not a hex or bech32 address", value)
}

// NoShellMeta accepts any non-empty string free of whitespace, quotes,
// and shell metacharacters.
func NoShellMeta(field, value string) (string, error) {
	if value == "" {
		return "", Invalid(field, "must not be empty")
	}
	if index := strings.IndexAny(value, shellMetacharacters); index >= 0 {
		return "", Invalid(field, "contains forbidden character %q", value[index])
	}
	return value, nil
}

// Integer converts a decoded JSON number to an int. Fractional values,
// strings, and booleans are rejected.
func Integer(field string, value any) (int, error) {
	switch typed := value.(type) {
	case int:
		return typed, nil
	case int64:
		if typed < math.MinInt || typed > math.MaxInt {
			return 0, Invalid(field, "out of range")
		}
		return int(typed), nil
	case float64:
		if typed != math.Trunc(typed) || math.Abs(typed) > 1<<53 {
			return 0, Invalid(field, "must be an integer")
		}
		return int(typed), nil
	case json.Number:
		parsed, err := strconv.ParseInt(typed.String(), 10, 64)
		if err != nil {
			return 0, Invalid(field, "must be an integer, got %s", typed.String())
		}
		return Integer(field, parsed)
	default:
		return 0, Invalid(field, "must be an integer")
	}
}

// VMID accepts an integer in [VMIDMin, VMIDMax].
func VMID(field string, value any) (int, error) {
	vmid, err := Integer(field, value)
	if err != nil {
		return 0, err
	}
	if vmid < VMIDMin || vmid > VMIDMax {
		return 0, Invalid(field, "must be an integer %d-%d", VMIDMin, VMIDMax)
	}
	return vmid, nil
}

// Port accepts an integer in [1, 65535].
func Port(field string, value any) (int, error) {
	port, err := Integer(field, value)
	if err != nil || port < 1 || port > 65535 {
		return 0, Invalid(field, "must be 1-65535")
	}
	return port, nil
}

// PathUnder accepts an absolute path that lies under one of the given
// directory prefixes. An existing path is fully resolved, final
// component included, and the resolved path is what gets checked and
// returned. For a path that does not exist yet only the parent is
// resolved, and a dangling symlink is rejected. Either way "../"
// segments and symlinks cannot escape the allowed trees.
func PathUnder(field, value string, prefixes []string) (string, error) {
	if value == "" || !filepath.IsAbs(value) {
		return "", Invalid(field, "must be an absolute path, got %q", value)
	}
	cleaned := filepath.Clean(value)
	resolved, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", Invalid(field, "resolving %q: %v", value, err)
		}
		if info, lstatErr := os.Lstat(cleaned); lstatErr == nil && info.Mode()&os.ModeSymlink != 0 {
			return "", Invalid(field, "%q is a dangling symlink", value)
		}
		resolved = cleaned
		if parent, err := filepath.EvalSymlinks(filepath.Dir(cleaned)); err == nil {
			resolved = filepath.Join(parent, filepath.Base(cleaned))
		} else if !os.IsNotExist(err) {
			return "", Invalid(field, "resolving %q: %v", value, err)
		}
	}

	for _, prefix := range prefixes {
		root := filepath.Clean(prefix)
		if resolvedRoot, err := filepath.EvalSymlinks(root); err == nil {
			root = resolvedRoot
		}
		if resolved != root && strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return resolved, nil
		}
	}
	return "", Invalid(field, "%q must be under %s", value, strings.Join(prefixes, " or "))
}

// StringFunc is the signature shared by the named string checks.
type StringFunc func(field, value string) (string, error)

// named maps manifest validator names to checks. RouteDevice is not
// listed because it needs the configured allow-list; the plugin loader
// binds it separately.
var named = map[string]StringFunc{
	"ipv6-128":   IPv6Host128,
	"netdev":     NetDevice,
	"name":       Name,
	"short-name": ShortName,
	"storage":    Storage,
	"comment":    Comment,
	"proto":      Protocol,
	"address":    Address,
	"safe":       NoShellMeta,
	"vmid": func(field, value string) (string, error) {
		vmid, err := VMID(field, json.Number(value))
		if err != nil {
			return "", err
		}
		return strconv.Itoa(vmid), nil
	},
	"port": func(field, value string) (string, error) {
		port, err := Port(field, json.Number(value))
		if err != nil {
			return "", err
		}
		return strconv.Itoa(port), nil
	},
}

// Lookup returns the named string check used by plugin manifests.
func Lookup(name string) (StringFunc, bool) {
	check, ok := named[name]
	return check, ok
}

// Names returns the sorted list of validator names known to Lookup.
func Names() []string {
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
