package frame

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/quietpost/stegochannel/internal/beacon"
	"github.com/quietpost/stegochannel/internal/bitstream"
	"github.com/quietpost/stegochannel/internal/keys"
	"github.com/quietpost/stegochannel/internal/rs"
)

func epochKeys(t *testing.T, channelKeyByte byte, day string) *keys.EpochKeys {
	t.Helper()
	f := &beacon.DateFetcher{}
	at, err := time.Parse("2006-01-02", day)
	if err != nil {
		t.Fatalf("bad day %q: %v", day, err)
	}
	k, err := keys.Derive(bytes.Repeat([]byte{channelKeyByte}, 32), f.ValueAt(at.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	return k
}

func TestRoundTrip_Cleartext(t *testing.T) {
	k := epochKeys(t, 0x11, "2026-02-07")

	for _, n := range []int{0, 1, 10, 100, MaxPayloadClear} {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i + 1)
		}

		bits, err := Encode(k, 7, payload, false)
		if err != nil {
			t.Fatalf("Encode(n=%d) error = %v", n, err)
		}

		got, err := Decode(k, bits)
		if err != nil {
			t.Fatalf("Decode(n=%d) error = %v", n, err)
		}
		if !bytes.Equal(got.Payload, payload) {
			t.Errorf("n=%d: payload mismatch", n)
		}
		if got.Seq != 7 {
			t.Errorf("n=%d: seq = %d, want 7", n, got.Seq)
		}
		if got.Encrypted {
			t.Errorf("n=%d: decoded as encrypted", n)
		}
		if got.ECCorrections != 0 {
			t.Errorf("n=%d: corrections = %d with no flips", n, got.ECCorrections)
		}
		if got.BitCount != bits.Len() {
			t.Errorf("n=%d: BitCount = %d, buffer = %d", n, got.BitCount, bits.Len())
		}
	}
}

func TestRoundTrip_Encrypted(t *testing.T) {
	k := epochKeys(t, 0x11, "2026-02-07")

	for _, n := range []int{0, 1, 64, MaxPlaintextEncrypted} {
		payload := bytes.Repeat([]byte{0xab}, n)

		bits, err := Encode(k, 99, payload, true)
		if err != nil {
			t.Fatalf("Encode(n=%d, encrypted) error = %v", n, err)
		}

		got, err := Decode(k, bits)
		if err != nil {
			t.Fatalf("Decode(n=%d, encrypted) error = %v", n, err)
		}
		if !got.Encrypted {
			t.Errorf("n=%d: not flagged encrypted", n)
		}
		if !bytes.Equal(got.Payload, payload) {
			t.Errorf("n=%d: plaintext mismatch", n)
		}
	}
}

func TestEncode_FreshNoncePerFrame(t *testing.T) {
	k := epochKeys(t, 0x11, "2026-02-07")

	a, _ := Encode(k, 1, []byte("same payload"), true)
	b, _ := Encode(k, 1, []byte("same payload"), true)
	if bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("two encrypted frames with identical inputs are byte-identical")
	}
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	k := epochKeys(t, 0x11, "2026-02-07")

	if _, err := Encode(k, 1, make([]byte, MaxPayloadClear+1), false); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized cleartext error = %v, want ErrPayloadTooLarge", err)
	}
	if _, err := Encode(k, 1, make([]byte, MaxPlaintextEncrypted+1), true); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized plaintext error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestMinFrameBits(t *testing.T) {
	k := epochKeys(t, 0x11, "2026-02-07")
	bits, err := Encode(k, 0, nil, false)
	if err != nil {
		t.Fatalf("Encode(empty) error = %v", err)
	}
	if bits.Len() != MinFrameBits {
		t.Errorf("empty frame = %d bits, want MinFrameBits = %d", bits.Len(), MinFrameBits)
	}
}

func TestDecode_Incomplete(t *testing.T) {
	k := epochKeys(t, 0x11, "2026-02-07")
	bits, _ := Encode(k, 5, []byte("0123456789"), false)

	for _, cut := range []int{0, 40, 47, bits.Len() - 1} {
		partial := bitstream.FromBits(bits.Bits(0, cut))
		if _, err := Decode(k, partial); !errors.Is(err, ErrIncomplete) {
			t.Errorf("Decode(%d bits) error = %v, want ErrIncomplete", cut, err)
		}
	}
}

// Scenario: 10-byte payload, flags 0, seq 42. A single flipped bit inside
// the covered bytes is repaired and reported; five corrupted symbols are
// rejected by parity, by the header check or by the tag.
func TestDecode_ErrorCorrectionScenario(t *testing.T) {
	k := epochKeys(t, 0x11, "2026-02-07")
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a}

	bits, err := Encode(k, 42, payload, false)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// Flip bit 17 (inside the sequence field).
	flipped := flipBits(bits, 17)
	got, err := Decode(k, flipped)
	if err != nil {
		t.Fatalf("Decode(one flip) error = %v", err)
	}
	if got.ECCorrections != 1 {
		t.Errorf("corrections = %d, want 1", got.ECCorrections)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Error("payload not recovered after single flip")
	}
	if got.Seq != 42 {
		t.Errorf("seq = %d, want 42", got.Seq)
	}

	// Corrupt five distinct covered bytes: beyond the 4-symbol bound.
	fiveFlips := flipBits(bits, 17, 57, 97, 137, 177)
	if _, err := Decode(k, fiveFlips); err == nil {
		t.Error("Decode(five corrupted symbols) succeeded")
	} else if !errors.Is(err, rs.ErrUncorrectable) && !errors.Is(err, ErrAuthFail) && !errors.Is(err, ErrBadFrame) {
		t.Errorf("Decode(five corrupted symbols) error = %v", err)
	}
}

func TestDecode_FourByteBound(t *testing.T) {
	k := epochKeys(t, 0x11, "2026-02-07")
	payload := bytes.Repeat([]byte{0x77}, 32)
	bits, _ := Encode(k, 3, payload, false)

	// Four corrupted bytes anywhere before the tag are always repaired.
	corrupted := flipBits(bits, 8*7, 8*11+3, 8*20, 8*30+7)
	got, err := Decode(k, corrupted)
	if err != nil {
		t.Fatalf("Decode(four corrupted bytes) error = %v", err)
	}
	if got.ECCorrections != 4 {
		t.Errorf("corrections = %d, want 4", got.ECCorrections)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Error("payload not recovered")
	}
}

func TestDecode_TagFlipRejected(t *testing.T) {
	k := epochKeys(t, 0x11, "2026-02-07")
	bits, _ := Encode(k, 3, []byte("payload"), false)

	// The tag itself is outside parity coverage; a flip there must fail
	// authentication.
	corrupted := flipBits(bits, bits.Len()-1)
	if _, err := Decode(k, corrupted); !errors.Is(err, ErrAuthFail) {
		t.Errorf("Decode(tag flip) error = %v, want ErrAuthFail", err)
	}
}

func TestDecode_WrongEpochKey(t *testing.T) {
	sender := epochKeys(t, 0x11, "2026-02-07")
	wrongDay := epochKeys(t, 0x11, "2026-02-08")
	wrongChannel := epochKeys(t, 0x22, "2026-02-07")

	bits, _ := Encode(sender, 1, []byte("secret"), false)

	if _, err := Decode(wrongDay, bits.Clone()); !errors.Is(err, ErrAuthFail) {
		t.Errorf("Decode(wrong epoch) error = %v, want ErrAuthFail", err)
	}
	if _, err := Decode(wrongChannel, bits.Clone()); !errors.Is(err, ErrAuthFail) {
		t.Errorf("Decode(wrong channel) error = %v, want ErrAuthFail", err)
	}
}

func TestDecode_TrailingBitsIgnored(t *testing.T) {
	k := epochKeys(t, 0x11, "2026-02-07")
	bits, _ := Encode(k, 6, []byte("front frame"), false)
	want := bits.Len()

	bits.AppendBits([]byte{1, 0, 1, 1, 0})
	got, err := Decode(k, bits)
	if err != nil {
		t.Fatalf("Decode(with tail) error = %v", err)
	}
	if got.BitCount != want {
		t.Errorf("BitCount = %d, want %d", got.BitCount, want)
	}
}

func flipBits(bits *bitstream.Buffer, positions ...int) *bitstream.Buffer {
	vals := bits.Bits(0, bits.Len())
	for _, p := range positions {
		vals[p] ^= 1
	}
	return bitstream.FromBits(vals)
}
