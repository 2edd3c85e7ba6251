// Package frame implements the self-delimited container for one message:
// a versioned header, the payload (optionally encrypted), Reed-Solomon
// parity and a truncated HMAC tag, emitted as an MSB-first bit sequence.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/quietpost/stegochannel/internal/bitstream"
	"github.com/quietpost/stegochannel/internal/crypto"
	"github.com/quietpost/stegochannel/internal/keys"
	"github.com/quietpost/stegochannel/internal/rs"
)

const (
	// Version is the current frame layout version.
	Version = 0

	// FlagEncrypted marks an XChaCha20-Poly1305 encrypted payload.
	FlagEncrypted = 0x1

	// reservedFlags must be zero in version 0 frames.
	reservedFlags = 0xE

	headerBytes = 6 // version+flags (1), seq (4), payload length (1)

	// MaxPayloadClear is the payload byte limit for cleartext frames.
	MaxPayloadClear = 236

	// MaxPayloadEncrypted is the ciphertext byte limit for encrypted
	// frames: the nonce occupies 24 of the bytes one GF(2^8) codeword can
	// cover, and the ciphertext includes the 16-byte AEAD tag.
	MaxPayloadEncrypted = 217

	// MaxPlaintextEncrypted is the plaintext byte limit when encrypting.
	MaxPlaintextEncrypted = MaxPayloadEncrypted - crypto.TagSize

	// MinFrameBits is the bit length of an empty cleartext frame.
	MinFrameBits = 8 * (headerBytes + rs.ECBytes + crypto.TruncTagSize)
)

var (
	// ErrIncomplete is returned when the bit sequence is shorter than the
	// frame its header describes. More bits may complete it.
	ErrIncomplete = errors.New("frame: incomplete")

	// ErrAuthFail is returned when the HMAC tag or the payload AEAD does
	// not verify.
	ErrAuthFail = errors.New("frame: authentication failed")

	// ErrBadFrame is returned when a repaired frame carries an unknown
	// version or reserved flags.
	ErrBadFrame = errors.New("frame: malformed")

	// ErrPayloadTooLarge is returned by the encoder for oversized payloads.
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Decoded is a successfully parsed frame.
type Decoded struct {
	Seq           uint32
	Payload       []byte
	Encrypted     bool
	ECCorrections int

	// BitCount is the total number of bits the frame occupied in the
	// stream, including parity and tag.
	BitCount int
}

// Encode builds the frame bit sequence for one message. When encrypt is
// set the payload is sealed under the epoch's payload key with a fresh
// random nonce carried in the frame.
func Encode(k *keys.EpochKeys, seq uint32, payload []byte, encrypt bool) (*bitstream.Buffer, error) {
	body := payload
	var nonce []byte
	flags := byte(0)

	if encrypt {
		if len(payload) > MaxPlaintextEncrypted {
			return nil, fmt.Errorf("%w: %d plaintext bytes, limit %d",
				ErrPayloadTooLarge, len(payload), MaxPlaintextEncrypted)
		}
		n, err := crypto.RandNonce()
		if err != nil {
			return nil, err
		}
		sealed, err := crypto.Seal(k.Payload, n, nil, payload)
		if err != nil {
			return nil, err
		}
		body = sealed
		nonce = n[:]
		flags |= FlagEncrypted
	} else if len(payload) > MaxPayloadClear {
		return nil, fmt.Errorf("%w: %d bytes, limit %d",
			ErrPayloadTooLarge, len(payload), MaxPayloadClear)
	}

	data := make([]byte, 0, headerBytes+len(body)+len(nonce))
	data = append(data, Version<<4|flags)
	data = binary.BigEndian.AppendUint32(data, seq)
	data = append(data, byte(len(body)))
	data = append(data, body...)
	data = append(data, nonce...)

	block, err := rs.Encode(data, rs.ECBytes)
	if err != nil {
		return nil, err
	}

	tag := crypto.HMACSHA256Trunc64(k.Frame, block)

	bits := bitstream.FromBytes(block)
	bits.AppendBytes(tag[:])
	return bits, nil
}

// Decode parses one frame from the front of the bit buffer. It returns
// ErrIncomplete while the buffer is shorter than the frame the header
// describes, rs.ErrUncorrectable when parity cannot repair the bytes, and
// ErrAuthFail when the tag or the payload AEAD rejects. The buffer is not
// consumed; callers drop Decoded.BitCount bits on success.
func Decode(k *keys.EpochKeys, bits *bitstream.Buffer) (*Decoded, error) {
	header, ok := bits.PeekBytes(0, headerBytes)
	if !ok {
		return nil, ErrIncomplete
	}

	flags := header[0] & 0x0F
	payloadLen := int(header[5])
	nonceLen := 0
	if flags&FlagEncrypted != 0 {
		nonceLen = crypto.NonceSize
	}

	blockBytes := headerBytes + payloadLen + nonceLen + rs.ECBytes
	totalBits := 8 * (blockBytes + crypto.TruncTagSize)
	if bits.Len() < totalBits {
		return nil, ErrIncomplete
	}

	block, _ := bits.PeekBytes(0, blockBytes)
	tagBytes, _ := bits.PeekBytes(8*blockBytes, crypto.TruncTagSize)

	corrections, err := rs.Decode(block, rs.ECBytes)
	if err != nil {
		return nil, err
	}

	// Re-read the header after repair. A correction that changed the
	// fields the frame was sized with cannot be trusted.
	version := block[0] >> 4
	flags = block[0] & 0x0F
	if version != Version || flags&reservedFlags != 0 {
		return nil, fmt.Errorf("%w: version %d flags %#x", ErrBadFrame, version, flags)
	}
	if int(block[5]) != payloadLen || (flags&FlagEncrypted != 0) != (nonceLen > 0) {
		return nil, ErrAuthFail
	}

	var tag [crypto.TruncTagSize]byte
	copy(tag[:], tagBytes)
	if !crypto.TagsEqual(tag, crypto.HMACSHA256Trunc64(k.Frame, block)) {
		return nil, ErrAuthFail
	}

	seq := binary.BigEndian.Uint32(block[1:5])
	payload := append([]byte(nil), block[headerBytes:headerBytes+payloadLen]...)

	encrypted := nonceLen > 0
	if encrypted {
		var nonce [crypto.NonceSize]byte
		copy(nonce[:], block[headerBytes+payloadLen:headerBytes+payloadLen+nonceLen])
		opened, err := crypto.Open(k.Payload, nonce, nil, payload)
		if err != nil {
			// Authenticated decryption failure after a valid tag is fatal
			// for this frame; there is no sliding past it.
			return nil, fmt.Errorf("%w: payload decryption", ErrAuthFail)
		}
		payload = opened
	}

	return &Decoded{
		Seq:           seq,
		Payload:       payload,
		Encrypted:     encrypted,
		ECCorrections: corrections,
		BitCount:      totalBits,
	}, nil
}
