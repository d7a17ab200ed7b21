// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
)

// AddressbookEntry is one named address in the system address book.
type AddressbookEntry struct {
	Address string `json:"address"`
	Keyfile string `json:"keyfile,omitempty"`
}

// Keypair is the public half of a generated keypair and the path of the
// private key file the daemon wrote.
type Keypair struct {
	PublicKey string
	Keyfile   string
}

// Keypair types accepted by GenerateKeypair.
const (
	KeypairAge        = "age"
	KeypairSSHEd25519 = "ssh-ed25519"
)

// IP6RouteAdd installs (or replaces) a host route for a /128 address.
func (c *Client) IP6RouteAdd(ctx context.Context, address, device string) error {
	_, err := c.Call(ctx, "ip6-route-add", map[string]any{"address": address, "dev": device})
	return err
}

// IP6RouteDel removes a host route installed by IP6RouteAdd.
func (c *Client) IP6RouteDel(ctx context.Context, address, device string) error {
	_, err := c.Call(ctx, "ip6-route-del", map[string]any{"address": address, "dev": device})
	return err
}

// IPTablesOpen appends an INPUT ACCEPT rule tagged with comment.
func (c *Client) IPTablesOpen(ctx context.Context, port int, protocol, comment string) error {
	_, err := c.Call(ctx, "iptables-open", firewallParams(port, protocol, comment))
	return err
}

// IPTablesClose deletes the rule IPTablesOpen added with the same
// arguments.
func (c *Client) IPTablesClose(ctx context.Context, port int, protocol, comment string) error {
	_, err := c.Call(ctx, "iptables-close", firewallParams(port, protocol, comment))
	return err
}

func firewallParams(port int, protocol, comment string) map[string]any {
	params := map[string]any{"port": port, "comment": comment}
	if protocol != "" {
		params["proto"] = protocol
	}
	return params
}

// VirtCustomize runs virt-customize against a disk image. Each command
// is an operation flag followed by its arguments, for example
// []string{"--install", "qemu-guest-agent"}.
func (c *Client) VirtCustomize(ctx context.Context, imagePath string, commands [][]string) (string, error) {
	list := make([]any, len(commands))
	for i, command := range commands {
		list[i] = command
	}
	result, err := c.Call(ctx, "virt-customize", map[string]any{
		"image_path": imagePath,
		"commands":   list,
	})
	if err != nil {
		return "", err
	}
	return output(result), nil
}

// GenerateWallet creates a wallet key file named name and returns the
// wallet's address.
func (c *Client) GenerateWallet(ctx context.Context, name string) (string, error) {
	result, err := c.Call(ctx, "generate-wallet", map[string]any{"name": name})
	if err != nil {
		return "", err
	}
	address, ok := result["address"].(string)
	if !ok || address == "" {
		return "", fmt.Errorf("generate-wallet response has no address")
	}
	return address, nil
}

// GenerateKeypair creates a keypair of keyType (KeypairAge or
// KeypairSSHEd25519). The private key stays on the host; only the
// public key is returned.
func (c *Client) GenerateKeypair(ctx context.Context, keyType, name string) (Keypair, error) {
	result, err := c.Call(ctx, "generate-keypair", map[string]any{"type": keyType, "name": name})
	if err != nil {
		return Keypair{}, err
	}
	publicKey, _ := result["public_key"].(string)
	keyfile, _ := result["keyfile"].(string)
	if publicKey == "" {
		return Keypair{}, fmt.Errorf("generate-keypair response has no public_key")
	}
	return Keypair{PublicKey: publicKey, Keyfile: keyfile}, nil
}

// AddressbookSave replaces the address book with entries.
func (c *Client) AddressbookSave(ctx context.Context, entries map[string]AddressbookEntry) error {
	encoded := make(map[string]any, len(entries))
	for name, entry := range entries {
		fields := map[string]any{"address": entry.Address}
		if entry.Keyfile != "" {
			fields["keyfile"] = entry.Keyfile
		}
		encoded[name] = fields
	}
	_, err := c.Call(ctx, "addressbook-save", map[string]any{"entries": encoded})
	return err
}

// BrokerRenew renews the tunnel broker allocation recorded on the host.
func (c *Client) BrokerRenew(ctx context.Context) (string, error) {
	result, err := c.Call(ctx, "broker-renew", nil)
	if err != nil {
		return "", err
	}
	return output(result), nil
}

// QMStart starts a Proxmox VM.
func (c *Client) QMStart(ctx context.Context, vmid int) (string, error) {
	return c.qm(ctx, "qm-start", vmid)
}

// QMStop stops a Proxmox VM immediately.
func (c *Client) QMStop(ctx context.Context, vmid int) (string, error) {
	return c.qm(ctx, "qm-stop", vmid)
}

// QMShutdown asks a Proxmox VM to shut down cleanly.
func (c *Client) QMShutdown(ctx context.Context, vmid int) (string, error) {
	return c.qm(ctx, "qm-shutdown", vmid)
}

// QMDestroy destroys a Proxmox VM and purges its references.
func (c *Client) QMDestroy(ctx context.Context, vmid int) (string, error) {
	return c.qm(ctx, "qm-destroy", vmid)
}

func (c *Client) qm(ctx context.Context, name string, vmid int) (string, error) {
	result, err := c.Call(ctx, name, map[string]any{"vmid": vmid})
	if err != nil {
		return "", err
	}
	return output(result), nil
}

func output(result map[string]any) string {
	text, _ := result["output"].(string)
	return text
}
