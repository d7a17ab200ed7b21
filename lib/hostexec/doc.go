// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hostexec runs host commands on behalf of action handlers.
//
// Commands are always an argv slice executed directly: there is no
// shell, so parameter values cannot introduce additional commands or
// redirections. Each command runs in its own process group with a
// fixed minimal environment. When the timeout expires, or the caller's
// context is cancelled, the whole group is killed with SIGKILL so that
// grandchildren spawned by tools like virt-customize do not outlive
// the request.
//
// A non-zero exit status is reported through [Result.ExitCode], not as
// an error. Errors are reserved for commands that could not be started
// and for [*TimeoutError].
//
// [FakeRunner] records invocations for handler tests.
package hostexec
