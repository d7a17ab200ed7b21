// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package action defines the unit of work the root agent exposes:
// a named [Handler] that receives untrusted [Params] and returns a
// [Result] or an error.
//
// Handlers are grouped into [Module] values. Built-in modules are
// constructed at startup from compile-time code; directory modules are
// produced by the plugin loader from declarative manifests. Both end
// up in a [Registry], built once by [BuildRegistry] and never mutated
// afterwards, so connection goroutines read it without locking.
//
// When two modules register the same action name, the module whose
// name sorts first keeps it. The collision is logged and recorded in
// [Registry.Conflicts] but never fails the build: a misnamed plugin
// must not keep the daemon from starting.
//
// Handlers hold no state between calls. Anything a handler needs from
// the daemon (command runner, logger, clock, timeouts) arrives through
// [Env] when the module is constructed.
package action
