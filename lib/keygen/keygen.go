// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keygen

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"golang.org/x/crypto/ssh"

	"github.com/bureau-foundation/bureau-root-agent/lib/secret"
)

// Key types.
const (
	TypeAge        = "age"
	TypeSSHEd25519 = "ssh-ed25519"
)

// Types lists the accepted key types.
func Types() []string {
	return []string{TypeAge, TypeSSHEd25519}
}

// Keypair is a freshly generated keypair. Close releases the private
// key.
type Keypair struct {
	Type string

	// PrivateKey is the file contents for the private key.
	PrivateKey *secret.Buffer

	// PublicKey is an age1... recipient or an authorized_keys line.
	PublicKey string
}

// Close zeroes and releases the private key. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// Generate creates a keypair of keyType. comment is embedded in SSH
// keys and ignored for age.
func Generate(keyType, comment string) (*Keypair, error) {
	switch keyType {
	case TypeAge:
		return GenerateAge()
	case TypeSSHEd25519:
		return GenerateSSHEd25519(comment)
	default:
		return nil, fmt.Errorf("unsupported key type %q (want %s)", keyType, strings.Join(Types(), " or "))
	}
}

// GenerateAge creates an age x25519 identity in age-keygen file format.
func GenerateAge() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	recipient := identity.Recipient().String()

	if err := probe(identity); err != nil {
		return nil, err
	}

	contents := []byte("# public key: " + recipient + "\n" + identity.String() + "\n")
	privateKey, err := secret.NewFromBytes(contents)
	if err != nil {
		return nil, fmt.Errorf("protecting age identity: %w", err)
	}
	return &Keypair{Type: TypeAge, PrivateKey: privateKey, PublicKey: recipient}, nil
}

// probe encrypts a short message to identity's recipient and decrypts
// it with identity.
func probe(identity *age.X25519Identity) error {
	const message = "bureau-root-agent keygen probe"

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, identity.Recipient())
	if err != nil {
		return fmt.Errorf("age probe: creating encryptor: %w", err)
	}
	if _, err := io.WriteString(writer, message); err != nil {
		return fmt.Errorf("age probe: writing: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("age probe: finalizing: %w", err)
	}

	reader, err := age.Decrypt(&ciphertext, identity)
	if err != nil {
		return fmt.Errorf("age probe: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("age probe: reading: %w", err)
	}
	if string(plaintext) != message {
		return fmt.Errorf("age probe: round trip mismatch")
	}
	return nil
}

// GenerateSSHEd25519 creates an ed25519 key as an OpenSSH private key
// PEM block and an authorized_keys line ending in comment.
func GenerateSSHEd25519(comment string) (*Keypair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 key: %w", err)
	}
	defer secret.Zero(privateKey)

	block, err := ssh.MarshalPrivateKey(privateKey, comment)
	if err != nil {
		return nil, fmt.Errorf("encoding OpenSSH private key: %w", err)
	}
	encoded := pem.EncodeToMemory(block)
	secret.Zero(block.Bytes)

	protected, err := secret.NewFromBytes(encoded)
	if err != nil {
		return nil, fmt.Errorf("protecting ssh private key: %w", err)
	}

	sshPublicKey, err := ssh.NewPublicKey(publicKey)
	if err != nil {
		protected.Close()
		return nil, fmt.Errorf("encoding ssh public key: %w", err)
	}
	authorized := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPublicKey)))
	if comment != "" {
		authorized += " " + comment
	}
	return &Keypair{Type: TypeSSHEd25519, PrivateKey: protected, PublicKey: authorized}, nil
}

// ParseAgeRecipient reports whether publicKey is a valid age x25519
// recipient.
func ParseAgeRecipient(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}
