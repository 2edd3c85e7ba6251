// Package keys derives the per-epoch key hierarchy from a channel key and
// the active beacon value. Both parties derive byte-identical keys from the
// same channel key and epoch, which is what makes selection and decoding
// reproducible without coordination.
package keys

import (
	"fmt"

	"github.com/quietpost/stegochannel/internal/beacon"
	"github.com/quietpost/stegochannel/internal/crypto"
)

const (
	// infoPrefix versions the whole derivation tree. Changing any part of
	// the schedule requires a new prefix.
	infoPrefix = "stegochannel-v0|"

	infoSelection = "select"
	infoFrame     = "frame"
	infoPayload   = "payload"
)

// EpochKeys is the derived key set for one (channel, epoch) pair.
type EpochKeys struct {
	Kind    beacon.Kind
	EpochID string

	// Epoch is the root epoch key; the subkeys below are derived from it.
	Epoch []byte

	// Selection keys the signal/cover decision.
	Selection []byte

	// Frame keys the frame HMAC tag.
	Frame []byte

	// Payload keys optional payload encryption.
	Payload []byte
}

// Derive computes the epoch key and its subkeys for the given beacon value.
// The channel key must be 32 bytes.
func Derive(channelKey []byte, v *beacon.Value) (*EpochKeys, error) {
	if len(channelKey) != crypto.KeySize {
		return nil, fmt.Errorf("%w: channel key must be %d bytes, got %d",
			crypto.ErrBadLength, crypto.KeySize, len(channelKey))
	}
	if v == nil || v.EpochID == "" {
		return nil, fmt.Errorf("%w: missing beacon value", crypto.ErrBadLength)
	}

	// The info string is a bijective encoding of (kind, epoch): neither
	// component may contain the separator.
	info := infoPrefix + string(v.Kind) + "|" + v.EpochID
	epoch, err := crypto.HKDFSHA256(channelKey, nil, info, crypto.KeySize)
	if err != nil {
		return nil, err
	}

	selection, err := crypto.HKDFSHA256(epoch, nil, infoSelection, crypto.KeySize)
	if err != nil {
		return nil, err
	}
	frame, err := crypto.HKDFSHA256(epoch, nil, infoFrame, crypto.KeySize)
	if err != nil {
		return nil, err
	}
	payload, err := crypto.HKDFSHA256(epoch, nil, infoPayload, crypto.KeySize)
	if err != nil {
		return nil, err
	}

	return &EpochKeys{
		Kind:      v.Kind,
		EpochID:   v.EpochID,
		Epoch:     epoch,
		Selection: selection,
		Frame:     frame,
		Payload:   payload,
	}, nil
}

// Zero clears all derived key material.
func (k *EpochKeys) Zero() {
	crypto.ZeroBytes(k.Epoch)
	crypto.ZeroBytes(k.Selection)
	crypto.ZeroBytes(k.Frame)
	crypto.ZeroBytes(k.Payload)
}
