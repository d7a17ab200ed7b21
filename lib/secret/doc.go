// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds private key material the root agent generates
// outside the Go heap.
//
// A [Buffer] is an anonymous mmap region locked into RAM (mlock) and
// excluded from core dumps (MADV_DONTDUMP). The garbage collector never
// sees it, so the key cannot be copied around by the runtime, and
// Close zeroes it before unmapping. Wallet and keypair handlers move a
// private key into a Buffer as soon as it exists, write the key file
// from it, and close it before returning.
//
// Slices that held a secret on the heap should be cleared with [Zero]
// once their contents are in a Buffer.
package secret
