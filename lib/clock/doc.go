// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable wall clock.
//
// Code that stamps audit records, measures command durations, or
// records daemon start times takes a Clock instead of calling time.Now
// directly. Production wiring uses Real(); tests use Fake() and move
// time explicitly with Advance or Set:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	runner := &hostexec.OSRunner{Clock: c}
//	c.Advance(5 * time.Second)
package clock
