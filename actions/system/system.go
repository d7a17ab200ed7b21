// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/bureau-foundation/bureau-root-agent/lib/action"
	"github.com/bureau-foundation/bureau-root-agent/lib/validate"
)

// ModuleName is the registry name of this module.
const ModuleName = "system"

const (
	virtCustomizeTimeout = 10 * time.Minute
	castTimeout          = 30 * time.Second
	brokerRenewTimeout   = 2 * time.Minute

	keyFileMode       os.FileMode = 0o640
	publicKeyFileMode os.FileMode = 0o644
)

// Config holds the module's host-specific settings.
type Config struct {
	// ConfigDir holds key files, the address book, and the broker
	// allocation.
	ConfigDir string

	// ImageDirs are the trees virt-customize may touch.
	ImageDirs []string

	// KeyGroupID owns key files and the address book. Negative leaves
	// the group alone.
	KeyGroupID int

	// WalletDenyNames cannot be used for generated wallets or keys.
	WalletDenyNames []string

	CastBinary         string
	BrokerClientBinary string
}

type handlers struct {
	env    action.Env
	config Config
}

// Module returns the system module bound to env.
func Module(env action.Env, config Config) action.Module {
	if env.Logger == nil {
		env.Logger = slog.New(slog.DiscardHandler)
	}
	if config.CastBinary == "" {
		config.CastBinary = "cast"
	}
	if config.BrokerClientBinary == "" {
		config.BrokerClientBinary = "broker-client"
	}
	h := &handlers{env: env, config: config}
	return action.Module{
		Name:        ModuleName,
		Description: "firewall, disk images, wallets, keys, address book, broker",
		Source:      action.SourceBuiltin,
		Actions: map[string]action.Handler{
			"iptables-open":    h.iptables("-A"),
			"iptables-close":   h.iptables("-D"),
			"virt-customize":   h.virtCustomize,
			"generate-wallet":  h.generateWallet,
			"generate-keypair": h.generateKeypair,
			"addressbook-save": h.addressbookSave,
			"broker-renew":     h.brokerRenew,
		},
	}
}

// iptables appends (-A) or deletes (-D) an INPUT ACCEPT rule for one
// port. The comment identifies the rule so the matching close removes
// exactly what open added.
func (h *handlers) iptables(operation string) action.Handler {
	return func(ctx context.Context, params action.Params) (action.Result, error) {
		raw, err := params.Raw("port")
		if err != nil {
			return nil, err
		}
		port, err := validate.Port("port", raw)
		if err != nil {
			return nil, err
		}
		protocol, err := params.OptionalString("proto", "tcp")
		if err != nil {
			return nil, err
		}
		if _, err := validate.Protocol("proto", protocol); err != nil {
			return nil, err
		}
		comment, err := params.String("comment")
		if err != nil {
			return nil, err
		}
		if _, err := validate.Comment("comment", comment); err != nil {
			return nil, err
		}

		argv := []string{
			"iptables", operation, "INPUT", "-p", protocol,
			"--dport", strconv.Itoa(port), "-j", "ACCEPT",
			"-m", "comment", "--comment", comment,
		}
		result, err := h.env.Exec(ctx, argv, 0)
		if err != nil {
			return nil, err
		}
		return action.Result{"output": result.Stdout}, nil
	}
}

func (h *handlers) deniedName(name string) bool {
	return slices.Contains(h.config.WalletDenyNames, name)
}

func (h *handlers) ensureConfigDir() error {
	return os.MkdirAll(h.config.ConfigDir, 0o755)
}
