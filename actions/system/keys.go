// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/bureau-root-agent/lib/action"
	"github.com/bureau-foundation/bureau-root-agent/lib/keygen"
	"github.com/bureau-foundation/bureau-root-agent/lib/ownership"
	"github.com/bureau-foundation/bureau-root-agent/lib/secret"
	"github.com/bureau-foundation/bureau-root-agent/lib/validate"
)

// keyName validates the "name" parameter shared by the key generators.
func (h *handlers) keyName(params action.Params) (string, error) {
	name, err := params.String("name")
	if err != nil {
		return "", err
	}
	if _, err := validate.ShortName("name", name); err != nil {
		return "", err
	}
	if h.deniedName(name) {
		return "", validate.Invalid("name", "reserved name: %s", name)
	}
	return name, nil
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// generateWallet creates an EVM wallet with cast, stores its private
// key as <name>.key, and records it in the address book.
func (h *handlers) generateWallet(ctx context.Context, params action.Params) (action.Result, error) {
	name, err := h.keyName(params)
	if err != nil {
		return nil, err
	}

	lock, err := h.lockAddressbook()
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	keyfile := filepath.Join(h.config.ConfigDir, name+".key")
	present, err := exists(keyfile)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", keyfile, err)
	}
	if present {
		return nil, fmt.Errorf("key file already exists: %s", keyfile)
	}
	book, err := h.readAddressbook()
	if err != nil {
		return nil, err
	}

	result, err := h.env.Exec(ctx, []string{h.config.CastBinary, "wallet", "new"}, castTimeout)
	if err != nil {
		var commandError *action.CommandError
		if errors.As(err, &commandError) {
			return nil, fmt.Errorf("cast wallet new failed: %s", commandError.Message)
		}
		return nil, err
	}
	address, privateKey, err := parseCastWallet(result.Stdout)
	if err != nil {
		return nil, err
	}
	defer privateKey.Close()

	if err := ownership.WriteFileAtomic(keyfile, privateKey.Bytes(), keyFileMode, h.config.KeyGroupID); err != nil {
		return nil, err
	}
	entry, err := json.Marshal(AddressbookEntry{Address: address, Keyfile: keyfile})
	if err != nil {
		os.Remove(keyfile)
		return nil, fmt.Errorf("encoding address book entry: %w", err)
	}
	book[name] = entry
	if err := h.writeAddressbook(book); err != nil {
		os.Remove(keyfile)
		return nil, err
	}

	h.env.Logger.Info("wallet generated", "name", name, "address", address)
	return action.Result{"address": address}, nil
}

// parseCastWallet extracts the address and the private key (without
// its 0x prefix) from "cast wallet new" output:
//
//	Successfully created new keypair.
//	Address:     0x...
//	Private key: 0x...
func parseCastWallet(output string) (string, *secret.Buffer, error) {
	var address, privateKey string
	for line := range strings.Lines(output) {
		label, value, found := strings.Cut(strings.TrimSpace(line), ":")
		if !found {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(label)) {
		case "address":
			address = strings.TrimSpace(value)
		case "private key":
			privateKey = strings.TrimPrefix(strings.TrimSpace(value), "0x")
		}
	}
	if address == "" || privateKey == "" {
		return "", nil, errors.New("failed to parse cast wallet output")
	}
	if _, err := validate.Address("address", address); err != nil {
		return "", nil, fmt.Errorf("cast wallet returned an unexpected address: %w", err)
	}
	buffer, err := secret.NewFromBytes([]byte(privateKey))
	if err != nil {
		return "", nil, err
	}
	return address, buffer, nil
}

// keypairPaths returns the private key path and, for SSH keys, the
// public key path.
func (h *handlers) keypairPaths(keyType, name string) (string, string) {
	switch keyType {
	case keygen.TypeSSHEd25519:
		private := filepath.Join(h.config.ConfigDir, name+"_ed25519")
		return private, private + ".pub"
	default:
		return filepath.Join(h.config.ConfigDir, name+".age"), ""
	}
}

// generateKeypair creates an age or ssh-ed25519 keypair in the config
// directory and returns the public half.
func (h *handlers) generateKeypair(ctx context.Context, params action.Params) (action.Result, error) {
	keyType, err := params.String("type")
	if err != nil {
		return nil, err
	}
	if keyType != keygen.TypeAge && keyType != keygen.TypeSSHEd25519 {
		return nil, validate.Invalid("type", "must be one of %s", strings.Join(keygen.Types(), ", "))
	}
	name, err := h.keyName(params)
	if err != nil {
		return nil, err
	}

	if err := h.ensureConfigDir(); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	privatePath, publicPath := h.keypairPaths(keyType, name)
	lock, err := ownership.Lock(privatePath)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	for _, path := range []string{privatePath, publicPath} {
		if path == "" {
			continue
		}
		present, err := exists(path)
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", path, err)
		}
		if present {
			return nil, fmt.Errorf("key file already exists: %s", path)
		}
	}

	keypair, err := keygen.Generate(keyType, name)
	if err != nil {
		return nil, err
	}
	defer keypair.Close()

	if err := ownership.WriteFileAtomic(privatePath, keypair.PrivateKey.Bytes(), keyFileMode, h.config.KeyGroupID); err != nil {
		return nil, err
	}
	if publicPath != "" {
		if err := ownership.WriteFileAtomic(publicPath, []byte(keypair.PublicKey+"\n"), publicKeyFileMode, h.config.KeyGroupID); err != nil {
			os.Remove(privatePath)
			return nil, err
		}
	}

	h.env.Logger.Info("keypair generated", "name", name, "type", keyType, "keyfile", privatePath)
	return action.Result{
		"type":       keyType,
		"public_key": keypair.PublicKey,
		"keyfile":    privatePath,
	}, nil
}
