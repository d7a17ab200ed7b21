// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ownership

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// LookupGroupID returns the numeric GID of a system group, or -1 when
// the group does not exist. Development machines usually lack the
// production groups; callers treat -1 as "leave group ownership alone"
// and log a warning.
func LookupGroupID(name string) int {
	if name == "" {
		return -1
	}
	group, err := user.LookupGroup(name)
	if err != nil {
		return -1
	}
	gid, err := strconv.Atoi(group.Gid)
	if err != nil {
		return -1
	}
	return gid
}

// SetGroup changes the group of path, leaving the owner unchanged. A
// negative gid is a no-op.
func SetGroup(path string, gid int) error {
	if gid < 0 {
		return nil
	}
	if err := os.Chown(path, -1, gid); err != nil {
		return fmt.Errorf("setting group of %s: %w", path, err)
	}
	return nil
}

// WriteFileAtomic replaces path with data. The temporary file gets perm
// and gid before the rename, so the final path never exists with
// default permissions. A negative gid leaves the group unchanged.
func WriteFileAtomic(path string, data []byte, perm os.FileMode, gid int) error {
	directory := filepath.Dir(path)
	file, err := os.CreateTemp(directory, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", path, err)
	}
	temporaryPath := file.Name()
	cleanup := func() {
		file.Close()
		os.Remove(temporaryPath)
	}

	if _, err := file.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("writing temporary file for %s: %w", path, err)
	}
	if err := file.Chmod(perm); err != nil {
		cleanup()
		return fmt.Errorf("setting mode on temporary file for %s: %w", path, err)
	}
	if gid >= 0 {
		if err := file.Chown(-1, gid); err != nil {
			cleanup()
			return fmt.Errorf("setting group on temporary file for %s: %w", path, err)
		}
	}
	if err := file.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("syncing temporary file for %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file for %s: %w", path, err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}
	return nil
}

// FileLock is an exclusive advisory lock held on a sidecar file.
type FileLock struct {
	file *os.File
}

// Lock takes an exclusive flock on path + ".lock", creating it if
// needed, and blocks until the lock is available. Locking a sidecar
// rather than path itself keeps the lock valid across the rename done
// by WriteFileAtomic.
func Lock(path string) (*FileLock, error) {
	lockPath := path + ".lock"
	file, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", lockPath, err)
	}
	for {
		err = unix.Flock(int(file.Fd()), unix.LOCK_EX)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("locking %s: %w", lockPath, err)
	}
	return &FileLock{file: file}, nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("unlocking: %w", err)
	}
	return closeErr
}
