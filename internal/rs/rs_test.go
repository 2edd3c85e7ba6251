package rs

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestEncode_ParityLength(t *testing.T) {
	data := []byte("hello covert world")
	block, err := Encode(data, ECBytes)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(block) != len(data)+ECBytes {
		t.Errorf("block length = %d, want %d", len(block), len(data)+ECBytes)
	}
	if !bytes.Equal(block[:len(data)], data) {
		t.Error("data prefix was modified by Encode")
	}
}

func TestEncode_BadInput(t *testing.T) {
	if _, err := Encode(nil, ECBytes); !errors.Is(err, ErrBadInput) {
		t.Errorf("Encode(nil) error = %v, want ErrBadInput", err)
	}
	if _, err := Encode(make([]byte, 250), ECBytes); !errors.Is(err, ErrBadInput) {
		t.Errorf("Encode(250 bytes) error = %v, want ErrBadInput", err)
	}
}

func TestDecode_CleanBlock(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a}
	block, err := Encode(data, ECBytes)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	n, err := Decode(block, ECBytes)
	if err != nil {
		t.Fatalf("Decode(clean) error = %v", err)
	}
	if n != 0 {
		t.Errorf("Decode(clean) corrections = %d, want 0", n)
	}
	if !bytes.Equal(block[:len(data)], data) {
		t.Error("clean decode altered data")
	}
}

func TestDecode_SingleError(t *testing.T) {
	data := []byte("signal posts carry bits")
	block, _ := Encode(data, ECBytes)

	for pos := 0; pos < len(block); pos++ {
		corrupted := append([]byte(nil), block...)
		corrupted[pos] ^= 0x5a

		n, err := Decode(corrupted, ECBytes)
		if err != nil {
			t.Fatalf("Decode(error at %d) error = %v", pos, err)
		}
		if n != 1 {
			t.Errorf("Decode(error at %d) corrections = %d, want 1", pos, n)
		}
		if !bytes.Equal(corrupted, block) {
			t.Errorf("Decode(error at %d) did not restore the codeword", pos)
		}
	}
}

func TestDecode_CorrectionBound(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	data := make([]byte, 64)
	rng.Read(data)
	block, _ := Encode(data, ECBytes)

	// Up to ec/2 errors must always be repaired.
	for count := 1; count <= ECBytes/2; count++ {
		for trial := 0; trial < 50; trial++ {
			corrupted := append([]byte(nil), block...)
			for _, pos := range pickPositions(rng, len(block), count) {
				corrupted[pos] ^= byte(1 + rng.Intn(255))
			}

			n, err := Decode(corrupted, ECBytes)
			if err != nil {
				t.Fatalf("count=%d trial=%d: Decode() error = %v", count, trial, err)
			}
			if n != count {
				t.Errorf("count=%d trial=%d: corrections = %d", count, trial, n)
			}
			if !bytes.Equal(corrupted, block) {
				t.Errorf("count=%d trial=%d: codeword not restored", count, trial)
			}
		}
	}
}

func TestDecode_BeyondCapacity(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	data := make([]byte, 64)
	rng.Read(data)
	block, _ := Encode(data, ECBytes)

	// Five errors exceed the 4-symbol bound. The decoder either rejects the
	// block or mis-corrects into a different codeword; it must never return
	// the original data as if it had repaired it.
	for trial := 0; trial < 50; trial++ {
		corrupted := append([]byte(nil), block...)
		for _, pos := range pickPositions(rng, len(block), ECBytes/2+1) {
			corrupted[pos] ^= byte(1 + rng.Intn(255))
		}

		_, err := Decode(corrupted, ECBytes)
		if err == nil && bytes.Equal(corrupted, block) {
			t.Fatalf("trial=%d: five errors decoded back to the original codeword", trial)
		}
		if err != nil && !errors.Is(err, ErrUncorrectable) {
			t.Errorf("trial=%d: error = %v, want ErrUncorrectable", trial, err)
		}
	}
}

func TestDecode_UncorrectableLeavesBlockIntact(t *testing.T) {
	data := []byte("frame bytes under parity")
	block, _ := Encode(data, ECBytes)

	corrupted := append([]byte(nil), block...)
	for i := 0; i < 6; i++ {
		corrupted[i*3] ^= 0xff
	}
	snapshot := append([]byte(nil), corrupted...)

	if _, err := Decode(corrupted, ECBytes); err != nil {
		if !bytes.Equal(corrupted, snapshot) {
			t.Error("failed decode modified the block")
		}
	}
}

func TestDecode_ShortBlock(t *testing.T) {
	if _, err := Decode(make([]byte, ECBytes), ECBytes); !errors.Is(err, ErrBadInput) {
		t.Errorf("Decode(parity only) error = %v, want ErrBadInput", err)
	}
}

func TestGeneratorRoots(t *testing.T) {
	// Every encoded codeword must evaluate to zero at the generator roots.
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	block, _ := Encode(data, ECBytes)
	for i := 0; i < ECBytes; i++ {
		if v := evalBlock(block, expTable[i]); v != 0 {
			t.Errorf("codeword(alpha^%d) = %#x, want 0", i, v)
		}
	}
}

func pickPositions(rng *rand.Rand, n, count int) []int {
	perm := rng.Perm(n)
	return perm[:count]
}
