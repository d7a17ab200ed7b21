// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keygen

import (
	"bytes"
	"strings"
	"testing"

	"filippo.io/age"
	"golang.org/x/crypto/ssh"
)

func TestGenerateAge(t *testing.T) {
	keypair, err := GenerateAge()
	if err != nil {
		t.Fatalf("GenerateAge: %v", err)
	}
	defer keypair.Close()

	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want age1 prefix", keypair.PublicKey)
	}
	if err := ParseAgeRecipient(keypair.PublicKey); err != nil {
		t.Errorf("ParseAgeRecipient: %v", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(keypair.PrivateKey.Bytes()))
	if err != nil {
		t.Fatalf("identity file does not parse: %v", err)
	}
	if len(identities) != 1 {
		t.Fatalf("got %d identities, want 1", len(identities))
	}
	x25519, ok := identities[0].(*age.X25519Identity)
	if !ok {
		t.Fatalf("identity type = %T", identities[0])
	}
	if x25519.Recipient().String() != keypair.PublicKey {
		t.Error("identity file does not match PublicKey")
	}
	if !bytes.HasPrefix(keypair.PrivateKey.Bytes(), []byte("# public key: age1")) {
		t.Error("identity file lacks the public key comment")
	}
}

func TestGenerateAgeUnique(t *testing.T) {
	first, err := GenerateAge()
	if err != nil {
		t.Fatalf("GenerateAge: %v", err)
	}
	defer first.Close()
	second, err := GenerateAge()
	if err != nil {
		t.Fatalf("GenerateAge: %v", err)
	}
	defer second.Close()

	if first.PublicKey == second.PublicKey {
		t.Error("two generated identities share a public key")
	}
}

func TestGenerateSSHEd25519(t *testing.T) {
	keypair, err := GenerateSSHEd25519("relay@bureau")
	if err != nil {
		t.Fatalf("GenerateSSHEd25519: %v", err)
	}
	defer keypair.Close()

	if !strings.HasPrefix(keypair.PublicKey, "ssh-ed25519 ") || !strings.HasSuffix(keypair.PublicKey, " relay@bureau") {
		t.Errorf("PublicKey = %q", keypair.PublicKey)
	}

	signer, err := ssh.ParsePrivateKey(keypair.PrivateKey.Bytes())
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	authorized, _, _, _, err := ssh.ParseAuthorizedKey([]byte(keypair.PublicKey))
	if err != nil {
		t.Fatalf("ParseAuthorizedKey: %v", err)
	}
	if !bytes.Equal(signer.PublicKey().Marshal(), authorized.Marshal()) {
		t.Error("private and public keys do not match")
	}
}

func TestGenerateUnknownType(t *testing.T) {
	_, err := Generate("rsa", "")
	if err == nil || !strings.Contains(err.Error(), "unsupported key type") {
		t.Fatalf("Generate(rsa) = %v", err)
	}
}

func TestGenerateDispatch(t *testing.T) {
	for _, keyType := range Types() {
		keypair, err := Generate(keyType, "dispatch")
		if err != nil {
			t.Fatalf("Generate(%s): %v", keyType, err)
		}
		if keypair.Type != keyType {
			t.Errorf("Type = %q, want %q", keypair.Type, keyType)
		}
		keypair.Close()
	}
}

func TestKeypairCloseIdempotent(t *testing.T) {
	keypair, err := GenerateAge()
	if err != nil {
		t.Fatalf("GenerateAge: %v", err)
	}
	if err := keypair.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := keypair.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
