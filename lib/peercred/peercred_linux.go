// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package peercred

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Read returns the credentials of conn's peer. conn must be a
// *net.UnixConn.
func Read(conn net.Conn) (Credentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return Credentials{}, fmt.Errorf("connection is %T, not unix", conn)
	}

	raw, err := unixConn.SyscallConn()
	if err != nil {
		return Credentials{}, err
	}

	var credentials Credentials
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		ucred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err != nil {
			sockErr = err
			return
		}
		credentials = Credentials{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}
	}); err != nil {
		return Credentials{}, err
	}
	if sockErr != nil {
		return Credentials{}, fmt.Errorf("reading SO_PEERCRED: %w", sockErr)
	}
	return credentials, nil
}
