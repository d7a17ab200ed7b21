// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"

	"github.com/bureau-foundation/bureau-root-agent/lib/binhash"
)

func TestInfo(t *testing.T) {
	saved := [...]string{Version, GitCommit, GitDirty, BuildTime}
	t.Cleanup(func() {
		Version, GitCommit, GitDirty, BuildTime = saved[0], saved[1], saved[2], saved[3]
	})

	Version, GitCommit, GitDirty, BuildTime = "1.2.3", "abc1234", "true", "2026-03-01T00:00:00Z"
	if got, want := Info(), "1.2.3 (abc1234-dirty, 2026-03-01T00:00:00Z)"; got != want {
		t.Errorf("Info = %q, want %q", got, want)
	}

	GitDirty = "false"
	if got := Info(); strings.Contains(got, "dirty") {
		t.Errorf("Info = %q, want no dirty marker", got)
	}
	if !strings.HasPrefix(Full(), Info()+"\n  Go: ") {
		t.Errorf("Full = %q", Full())
	}
}

func TestSelfDigest(t *testing.T) {
	digest, path, err := SelfDigest()
	if err != nil {
		t.Fatalf("SelfDigest: %v", err)
	}
	if path == "" {
		t.Error("empty executable path")
	}
	parsed, err := binhash.ParseDigest(digest)
	if err != nil {
		t.Fatalf("ParseDigest(%q): %v", digest, err)
	}
	onDisk, err := binhash.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if parsed != onDisk {
		t.Error("SelfDigest does not match the executable on disk")
	}
}
