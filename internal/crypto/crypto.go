// Package crypto provides the primitive operations the channel protocol is
// built on: HKDF-SHA256 derivation, truncated HMAC-SHA256 tags, and
// XChaCha20-Poly1305 payload encryption.
package crypto

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of channel keys and derived subkeys in bytes.
	KeySize = 32

	// NonceSize is the size of XChaCha20-Poly1305 nonces in bytes.
	NonceSize = chacha20poly1305.NonceSizeX

	// TagSize is the size of Poly1305 authentication tags in bytes.
	TagSize = chacha20poly1305.Overhead

	// TruncTagSize is the size of truncated HMAC tags in bytes (64 bits).
	TruncTagSize = 8
)

var (
	// ErrBadLength is returned when key or nonce material has the wrong size.
	ErrBadLength = errors.New("crypto: bad input length")

	// ErrAuthFail is returned when AEAD authentication fails.
	ErrAuthFail = errors.New("crypto: authentication failed")

	// ErrRandFail is returned when the system randomness source fails.
	ErrRandFail = errors.New("crypto: randomness source failed")
)

// HKDFSHA256 derives n bytes from ikm using HKDF-SHA256.
// Salt may be nil; info is an ASCII context string.
func HKDFSHA256(ikm, salt []byte, info string, n int) ([]byte, error) {
	if n <= 0 || n > 255*sha256.Size {
		return nil, fmt.Errorf("%w: HKDF output length %d", ErrBadLength, n)
	}
	out := make([]byte, n)
	r := hkdf.New(sha256.New, ikm, salt, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: hkdf: %v", ErrBadLength, err)
	}
	return out, nil
}

// HMACSHA256Trunc64 computes HMAC-SHA256 over msg and returns the leftmost
// 64 bits of the digest.
func HMACSHA256Trunc64(key, msg []byte) [TruncTagSize]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	var tag [TruncTagSize]byte
	copy(tag[:], mac.Sum(nil))
	return tag
}

// TagsEqual compares two truncated tags in constant time.
func TagsEqual(a, b [TruncTagSize]byte) bool {
	return hmac.Equal(a[:], b[:])
}

// Sum256 returns the SHA-256 digest of msg.
func Sum256(msg []byte) [sha256.Size]byte {
	return sha256.Sum256(msg)
}

// Seal encrypts plaintext with XChaCha20-Poly1305 and returns
// ciphertext||tag. The 24-byte nonce must be unique per key.
func Seal(key []byte, nonce [NonceSize]byte, aad, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce[:], plaintext, aad), nil
}

// Open decrypts ciphertext||tag produced by Seal. Returns ErrAuthFail when
// the tag does not verify.
func Open(key []byte, nonce [NonceSize]byte, aad, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFail
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: AEAD key must be %d bytes, got %d", ErrBadLength, KeySize, len(key))
	}
	c, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadLength, err)
	}
	return c, nil
}

// RandBytes returns n bytes of cryptographic randomness.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandFail, err)
	}
	return b, nil
}

// RandNonce returns a fresh random XChaCha20-Poly1305 nonce.
func RandNonce() ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nonce, fmt.Errorf("%w: %v", ErrRandFail, err)
	}
	return nonce, nil
}

// ZeroBytes zeroes out a byte slice to prevent sensitive data from lingering
// in memory.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
