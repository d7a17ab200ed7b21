// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package validate holds the format checks applied to untrusted action
// parameters before any of them reach a command line or a file path.
//
// Every check either returns the normalized value or an [*Error] whose
// message starts with "invalid <field>". Handlers return that error
// unchanged; the dispatcher reports it to the caller as a per-request
// failure.
//
// The patterns are deliberately narrow. A value that passes a check
// here is safe to place in a single argv element: none of the accepted
// character sets include whitespace, quotes, or shell metacharacters.
// Plugin manifests refer to the string checks by name through
// [Lookup].
package validate
