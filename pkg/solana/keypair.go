// Package solana provides ed25519 keypair and delegated wallet utilities for Drift.
package solana

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
)

// PublicKey is a 32-byte Solana account address.
type PublicKey [ed25519.PublicKeySize]byte

// ParsePublicKey decodes a base58 address.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return pk, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return pk, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// String returns the base58 form.
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// IsZero reports whether the key is unset.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// Keypair wraps an ed25519 private key (seed || public key, 64 bytes).
type Keypair struct {
	privateKey ed25519.PrivateKey
	publicKey  PublicKey
}

// NewKeypair creates a keypair from the 64 raw keypair bytes.
func NewKeypair(raw []byte) (*Keypair, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}

	key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(key[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("keypair public half does not match secret seed")
	}

	kp := &Keypair{privateKey: key}
	copy(kp.publicKey[:], key[ed25519.SeedSize:])
	return kp, nil
}

// ParseByteList parses the comma-separated byte list format ("12,250,...")
// emitted by `solana-keygen` JSON files with the brackets stripped.
func ParseByteList(s string) (*Keypair, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, fmt.Errorf("empty keypair")
	}

	parts := strings.Split(s, ",")
	raw := make([]byte, 0, len(parts))
	for i, p := range parts {
		b, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid byte at position %d: %q", i, p)
		}
		raw = append(raw, byte(b))
	}

	return NewKeypair(raw)
}

// ParseBase58 parses a base58-encoded 64-byte keypair.
func ParseBase58(s string) (*Keypair, error) {
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode keypair: %w", err)
	}
	return NewKeypair(raw)
}

// GenerateKeypair creates a fresh random keypair.
func GenerateKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return NewKeypair(priv)
}

// PublicKey returns the keypair's address.
func (k *Keypair) PublicKey() PublicKey {
	return k.publicKey
}

// Sign signs a message and returns the 64-byte signature.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.privateKey, message)
}

// SignBase58 signs a message and returns the signature in base58, the
// encoding Solana tooling uses for signatures.
func (k *Keypair) SignBase58(message []byte) string {
	return base58.Encode(k.Sign(message))
}

// Bytes returns a copy of the raw 64 keypair bytes.
func (k *Keypair) Bytes() []byte {
	out := make([]byte, len(k.privateKey))
	copy(out, k.privateKey)
	return out
}

// Verify checks a signature against a public key.
func Verify(pk PublicKey, message, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), message, sig)
}

func decodeSignature(s string) ([]byte, error) {
	sig, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", ed25519.SignatureSize, len(sig))
	}
	return sig, nil
}
