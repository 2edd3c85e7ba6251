package channel

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// IDSize is the size of a channel ID in bytes (128 bits)
	IDSize = 16
)

var (
	// ErrInvalidIDLength is returned when the ID length is incorrect
	ErrInvalidIDLength = errors.New("invalid channel ID length: expected 16 bytes")

	// ErrInvalidHexString is returned when the hex string is malformed
	ErrInvalidHexString = errors.New("invalid hex string for channel ID")

	// ZeroID represents an uninitialized channel ID
	ZeroID = ID{}
)

// ID is the local 128-bit identifier a channel record is keyed by. It is
// generated randomly at creation and never leaves the device.
type ID [IDSize]byte

// NewID generates a new random ID using crypto/rand.
func NewID() (ID, error) {
	var id ID
	if _, err := io.ReadFull(rand.Reader, id[:]); err != nil {
		return ZeroID, fmt.Errorf("failed to generate channel ID: %w", err)
	}
	return id, nil
}

// ParseID parses an ID from a hex string.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)

	if len(s) != IDSize*2 {
		return ZeroID, fmt.Errorf("%w: got %d hex chars, expected %d", ErrInvalidHexString, len(s), IDSize*2)
	}

	bytes, err := hex.DecodeString(s)
	if err != nil {
		return ZeroID, fmt.Errorf("%w: %v", ErrInvalidHexString, err)
	}

	var id ID
	copy(id[:], bytes)
	return id, nil
}

// String returns the full hex representation of the ID.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString returns a shortened hex representation (first 8 chars).
func (id ID) ShortString() string {
	return hex.EncodeToString(id[:4])
}

// IsZero returns true if the ID is uninitialized (all zeros).
func (id ID) IsZero() bool {
	return id == ZeroID
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
