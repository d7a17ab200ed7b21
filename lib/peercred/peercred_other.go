// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package peercred

import "net"

// Read is unsupported off Linux.
func Read(conn net.Conn) (Credentials, error) {
	return Credentials{}, ErrUnsupported
}
