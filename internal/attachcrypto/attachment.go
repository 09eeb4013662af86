// Package attachcrypto encrypts and decrypts attachment payloads for the
// default (non-community) file server. Community uploads bypass this
// package entirely and travel as plaintext.
package attachcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the combined key length: 32 bytes AES-256 + 32 bytes HMAC-SHA256.
const KeySize = 64

// GenerateKey returns a fresh random attachment key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("attachcrypto: generate key: %w", err)
	}
	return key, nil
}

// DeriveKey expands a 32-byte master secret into an attachment key using
// HKDF-SHA256. Used when a deterministic per-attachment key is needed.
func DeriveKey(secret, salt []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte("SeshAttachment")), key); err != nil {
		return nil, fmt.Errorf("attachcrypto: derive key: %w", err)
	}
	return key, nil
}

// Encrypt encrypts plaintext with the 64-byte key.
// Output format: IV (16 bytes) || AES-CBC ciphertext || HMAC-SHA256 (32 bytes).
// The returned digest is SHA-256 over the full output and must accompany
// the pointer so the receiver can verify integrity before decrypting.
func Encrypt(plaintext, key []byte) (data, digest []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, fmt.Errorf("attachcrypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	aesKey := key[:32]
	hmacKey := key[32:]

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("attachcrypto: generate IV: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, nil, fmt.Errorf("attachcrypto: create cipher: %w", err)
	}
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(iv)
	mac.Write(ct)

	data = make([]byte, 0, len(iv)+len(ct)+mac.Size())
	data = append(data, iv...)
	data = append(data, ct...)
	data = mac.Sum(data)

	sum := sha256.Sum256(data)
	return data, sum[:], nil
}

// Decrypt verifies digest and MAC, then decrypts. Any mismatch is a hard
// error; partial plaintext is never returned.
func Decrypt(data, key, digest []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("attachcrypto: key must be %d bytes, got %d", KeySize, len(key))
	}

	ivLen := aes.BlockSize
	macLen := sha256.Size
	if len(data) < ivLen+macLen+aes.BlockSize {
		return nil, fmt.Errorf("attachcrypto: data too short (%d bytes)", len(data))
	}

	if len(digest) > 0 {
		sum := sha256.Sum256(data)
		if !hmac.Equal(sum[:], digest) {
			return nil, fmt.Errorf("attachcrypto: digest mismatch")
		}
	}

	aesKey := key[:32]
	hmacKey := key[32:]

	iv := data[:ivLen]
	ct := data[ivLen : len(data)-macLen]
	expectedMAC := data[len(data)-macLen:]

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(data[:len(data)-macLen])
	if !hmac.Equal(mac.Sum(nil), expectedMAC) {
		return nil, fmt.Errorf("attachcrypto: HMAC verification failed")
	}

	if len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("attachcrypto: ciphertext not block-aligned")
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("attachcrypto: create cipher: %w", err)
	}
	plaintext := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ct)

	return pkcs7Unpad(plaintext)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("attachcrypto: empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, fmt.Errorf("attachcrypto: invalid PKCS7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("attachcrypto: invalid PKCS7 padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}
