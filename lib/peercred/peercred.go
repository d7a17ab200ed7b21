// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peercred

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrUnsupported is returned on platforms without SO_PEERCRED.
var ErrUnsupported = errors.New("peer credentials not supported on this platform")

// Credentials identify a connected peer process.
type Credentials struct {
	PID int32
	UID uint32
	GID uint32
}

func (c Credentials) String() string {
	return fmt.Sprintf("pid=%d uid=%d gid=%d", c.PID, c.UID, c.GID)
}

// LogValue renders the credentials as a group in structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("pid", int(c.PID)),
		slog.Uint64("uid", uint64(c.UID)),
		slog.Uint64("gid", uint64(c.GID)),
	)
}
