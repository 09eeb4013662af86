// Package mnemonic encodes key material as a human-readable recovery
// phrase. Input and output are hex strings so callers can feed either a
// stored seed record or a legacy raw private key straight through.
package mnemonic

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// FromHex encodes a hex-encoded byte string as a recovery phrase.
func FromHex(hexStr string) (string, error) {
	entropy, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", fmt.Errorf("mnemonic: decode hex: %w", err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("mnemonic: encode: %w", err)
	}
	return phrase, nil
}

// ToHex decodes a recovery phrase back to its hex form.
func ToHex(phrase string) (string, error) {
	entropy, err := bip39.EntropyFromMnemonic(strings.TrimSpace(phrase))
	if err != nil {
		return "", fmt.Errorf("mnemonic: decode: %w", err)
	}
	return hex.EncodeToString(entropy), nil
}

// Valid reports whether phrase is a well-formed recovery phrase.
func Valid(phrase string) bool {
	return bip39.IsMnemonicValid(strings.TrimSpace(phrase))
}
