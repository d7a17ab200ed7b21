// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keygen generates the host keypairs the generate-keypair
// action hands out: age x25519 identities (filippo.io/age) and OpenSSH
// ed25519 keys (golang.org/x/crypto/ssh).
//
// Private keys are returned as [secret.Buffer] values already encoded
// in the format their tools read from disk (age-keygen's identity file,
// an OPENSSH PRIVATE KEY PEM block). Public keys are plain strings.
// Every generated age identity is checked by encrypting a probe to its
// recipient and decrypting it again before it is returned.
package keygen
