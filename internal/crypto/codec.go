package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Base64URLEncode encodes b using the URL-safe alphabet without padding.
// This is the encoding used inside channel export strings.
func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64URLDecode decodes a string produced by Base64URLEncode.
func Base64URLDecode(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64url: %v", ErrBadLength, err)
	}
	return b, nil
}

// HexEncode encodes b as lowercase hex.
func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// HexDecode decodes a hex string. Both cases are accepted.
func HexDecode(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: hex: %v", ErrBadLength, err)
	}
	return b, nil
}
