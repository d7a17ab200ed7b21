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

	"github.com/bureau-foundation/bureau-root-agent/lib/action"
	"github.com/bureau-foundation/bureau-root-agent/lib/ownership"
	"github.com/bureau-foundation/bureau-root-agent/lib/validate"
)

// AddressbookFile is the address book's name inside the config
// directory.
const AddressbookFile = "addressbook.json"

// AddressbookEntry is one named address. Keyfile is set for wallets
// whose private key this host holds.
type AddressbookEntry struct {
	Address string `json:"address"`
	Keyfile string `json:"keyfile,omitempty"`
}

// Addressbook maps entry names to addresses.
type Addressbook map[string]AddressbookEntry

// storedAddressbook is the address book as read from disk. Entries stay
// undecoded so fields written by other tools survive a rewrite that
// only touches one entry.
type storedAddressbook map[string]json.RawMessage

func (h *handlers) addressbookPath() string {
	return filepath.Join(h.config.ConfigDir, AddressbookFile)
}

// readAddressbook loads the address book. A missing file is an empty
// book; a file that does not parse is an error, so a writer never
// replaces entries it could not read.
func (h *handlers) readAddressbook() (storedAddressbook, error) {
	data, err := os.ReadFile(h.addressbookPath())
	if errors.Is(err, os.ErrNotExist) {
		return storedAddressbook{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading address book: %w", err)
	}
	book := storedAddressbook{}
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("address book %s is corrupt: %w", h.addressbookPath(), err)
	}
	return book, nil
}

// writeAddressbook replaces the address book. The caller holds the
// address book lock.
func (h *handlers) writeAddressbook(book any) error {
	data, err := json.MarshalIndent(book, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding address book: %w", err)
	}
	data = append(data, '\n')
	return ownership.WriteFileAtomic(h.addressbookPath(), data, keyFileMode, h.config.KeyGroupID)
}

// lockAddressbook creates the config directory if needed and takes the
// address book lock.
func (h *handlers) lockAddressbook() (*ownership.FileLock, error) {
	if err := h.ensureConfigDir(); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	return ownership.Lock(h.addressbookPath())
}

// addressbookSave replaces the address book with the given entries.
func (h *handlers) addressbookSave(ctx context.Context, params action.Params) (action.Result, error) {
	raw, err := params.Map("entries")
	if err != nil {
		return nil, err
	}
	book := make(Addressbook, len(raw))
	for name, value := range raw {
		entry, err := h.parseEntry(name, value)
		if err != nil {
			return nil, err
		}
		book[name] = entry
	}

	lock, err := h.lockAddressbook()
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()
	if err := h.writeAddressbook(book); err != nil {
		return nil, err
	}
	h.env.Logger.Info("address book saved", "entries", len(book))
	return action.Result{"count": len(book)}, nil
}

func (h *handlers) parseEntry(name string, value any) (AddressbookEntry, error) {
	if _, err := validate.Name("entries", name); err != nil {
		return AddressbookEntry{}, validate.Invalid("entries", "invalid entry name: %q", name)
	}
	object, ok := value.(map[string]any)
	if !ok {
		return AddressbookEntry{}, validate.Invalid("entries", "entry %s must be an object", name)
	}
	entryParams := action.Params(object)

	address, err := entryParams.String("address")
	if err != nil {
		return AddressbookEntry{}, validate.Invalid("entries", "entry %s: %v", name, err)
	}
	if _, err := validate.Address("entries", address); err != nil {
		return AddressbookEntry{}, validate.Invalid("entries", "invalid address for %s: %q", name, address)
	}

	keyfile, err := entryParams.OptionalString("keyfile", "")
	if err != nil {
		return AddressbookEntry{}, validate.Invalid("entries", "entry %s: %v", name, err)
	}
	if keyfile != "" {
		if _, err := validate.PathUnder("entries", keyfile, []string{h.config.ConfigDir}); err != nil {
			return AddressbookEntry{}, validate.Invalid("entries", "keyfile for %s must be under %s", name, h.config.ConfigDir)
		}
	}
	return AddressbookEntry{Address: address, Keyfile: keyfile}, nil
}
