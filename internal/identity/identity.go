// Package identity derives the account's long-term key material from a
// 16-byte recovery seed. The derivation is deterministic: the same seed
// always yields the same Ed25519 and X25519 key pairs.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

// SeedSize is the required recovery seed length in bytes.
const SeedSize = 16

var (
	// ErrInvalidSeed is returned when the seed is not exactly SeedSize bytes.
	ErrInvalidSeed = errors.New("identity: seed must be exactly 16 bytes")

	// ErrKeyGeneration is returned when a derivation step fails. No partial
	// key material is ever returned alongside it.
	ErrKeyGeneration = errors.New("identity: key generation failed")
)

// KeyPair holds one raw public/private key pair.
type KeyPair struct {
	Public  []byte
	Private []byte
}

// Generate derives the account's Ed25519 and X25519 key pairs from seed.
// The seed is zero-padded to 32 bytes and used as an Ed25519 seed; the
// X25519 pair is then obtained by converting the Ed25519 components
// through the standard birational mapping.
func Generate(seed []byte) (ed KeyPair, x KeyPair, err error) {
	if len(seed) != SeedSize {
		return KeyPair{}, KeyPair{}, ErrInvalidSeed
	}

	padded := make([]byte, ed25519.SeedSize)
	copy(padded, seed)

	edPriv := ed25519.NewKeyFromSeed(padded)
	edPub := make([]byte, ed25519.PublicKeySize)
	copy(edPub, edPriv[ed25519.SeedSize:])

	xPriv := convertPrivate(padded)

	xPub, err := convertPublic(edPub)
	if err != nil {
		return KeyPair{}, KeyPair{}, fmt.Errorf("%w: convert public key: %v", ErrKeyGeneration, err)
	}

	// The secret and public components are converted independently; make
	// sure they still describe the same curve point before handing them out.
	check, err := curve25519.X25519(xPriv, curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, KeyPair{}, fmt.Errorf("%w: scalar base mult: %v", ErrKeyGeneration, err)
	}
	if !bytes.Equal(check, xPub) {
		return KeyPair{}, KeyPair{}, fmt.Errorf("%w: converted key pair mismatch", ErrKeyGeneration)
	}

	ed = KeyPair{Public: edPub, Private: []byte(edPriv)}
	x = KeyPair{Public: xPub, Private: xPriv}
	return ed, x, nil
}

// convertPrivate maps an Ed25519 seed to an X25519 private scalar: the
// first half of SHA-512(seed), clamped.
func convertPrivate(seed []byte) []byte {
	h := sha512.Sum512(seed)
	priv := make([]byte, curve25519.ScalarSize)
	copy(priv, h[:curve25519.ScalarSize])
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	return priv
}

// convertPublic maps an Ed25519 public key to its X25519 (Montgomery
// u-coordinate) form.
func convertPublic(edPub []byte) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, fmt.Errorf("decompress edwards point: %w", err)
	}
	return p.BytesMontgomery(), nil
}

// SessionIDPrefix distinguishes account identifiers from raw keys on the wire.
const SessionIDPrefix = "05"

// SessionID returns the public account identifier for an X25519 public key.
func SessionID(xPub []byte) string {
	return SessionIDPrefix + fmt.Sprintf("%x", xPub)
}
