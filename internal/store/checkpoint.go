package store

import (
	"time"

	"github.com/quietpost/stegochannel/internal/channel"
)

// TxState names a transmission's position in the sender state machine.
type TxState string

const (
	// TxQueued means the message waits for a first signal post, or was
	// demoted after its start epoch expired past grace.
	TxQueued TxState = "queued"

	// TxTransmitting means at least one signal post has carried bits.
	TxTransmitting TxState = "transmitting"
)

// Checkpoint is the durable record of one in-flight transmission. It is
// written atomically after every accepted signal post and is sufficient to
// resume, or to rebuild the frame under a new epoch after the start epoch
// ages out.
type Checkpoint struct {
	ChannelID channel.ID `json:"channel_id"`
	State     TxState    `json:"state"`

	// Plaintext and Encrypt reproduce the frame when it must be re-emitted
	// under a new epoch. The store seals the whole record at rest.
	Plaintext []byte `json:"plaintext"`
	Encrypt   bool   `json:"encrypt"`
	Seq       uint32 `json:"seq"`

	// FrameBits is the packed bit sequence currently being emitted;
	// FrameBitLen is its exact length in bits.
	FrameBits   []byte `json:"frame_bits"`
	FrameBitLen int    `json:"frame_bit_len"`
	BitCursor   int    `json:"bit_cursor"`

	EpochKind      string    `json:"epoch_kind"`
	EpochID        string    `json:"epoch_id"`
	EpochExpiresAt time.Time `json:"epoch_expires_at"`
	GraceSeconds   int       `json:"grace_seconds"`

	SignalPostsUsed int       `json:"signal_posts_used"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
}
