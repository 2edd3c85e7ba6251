// Package channel defines the covert channel record: the shared key, the
// beacon and selection parameters both parties agreed on, and the sequence
// counters. The export string is the only interchange format; everything
// else stays on the device.
package channel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/quietpost/stegochannel/internal/beacon"
	"github.com/quietpost/stegochannel/internal/crypto"
	"github.com/quietpost/stegochannel/internal/feature"
)

const (
	// exportPrefix and exportVersion frame the interchange format:
	// stegochannel:v0:<key>:<beacon>:<rate>:<features>
	exportPrefix  = "stegochannel"
	exportVersion = "v0"

	// DefaultSelectionRate is the fraction of posts carrying signal unless
	// the parties agree otherwise.
	DefaultSelectionRate = 0.25
)

var (
	// ErrInvalidChannelString is returned for a malformed export string.
	ErrInvalidChannelString = errors.New("channel: invalid channel string")

	// ErrBadConfig is returned when channel parameters are out of range.
	ErrBadConfig = errors.New("channel: bad configuration")
)

// Channel is one covert channel. Fields other than the sequence counters
// are immutable after creation.
type Channel struct {
	ID    ID     `json:"id"`
	Label string `json:"label,omitempty"`

	// Key is the 32-byte shared secret that fully parameterises the
	// channel. It leaves the device only inside the export string.
	Key []byte `json:"key"`

	Beacon          beacon.Kind `json:"beacon"`
	SelectionRate   float64     `json:"selection_rate"`
	Features        feature.Set `json:"features"`
	LengthThreshold int         `json:"length_threshold"`

	// PeerSource is the opaque identifier of the counterparty's post
	// source, as understood by the configured post adapter.
	PeerSource string `json:"peer_source,omitempty"`

	NextSendSeq uint32    `json:"next_send_seq"`
	NextRecvSeq uint32    `json:"next_recv_seq"`
	CreatedAt   time.Time `json:"created_at"`

	// mu serialises sequence-counter access between the sender and
	// receiver paths of the same channel.
	mu sync.Mutex
}

// New creates a channel with a fresh random key and ID.
func New(label string, kind beacon.Kind, rate float64, set feature.Set, lengthThreshold int, peerSource string) (*Channel, error) {
	key, err := crypto.RandBytes(crypto.KeySize)
	if err != nil {
		return nil, err
	}
	id, err := NewID()
	if err != nil {
		return nil, err
	}

	c := &Channel{
		ID:              id,
		Label:           norm.NFC.String(label),
		Key:             key,
		Beacon:          kind,
		SelectionRate:   rate,
		Features:        set,
		LengthThreshold: lengthThreshold,
		PeerSource:      peerSource,
		CreatedAt:       time.Now().UTC(),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every channel parameter against its allowed range.
func (c *Channel) Validate() error {
	if len(c.Key) != crypto.KeySize {
		return fmt.Errorf("%w: key must be %d bytes, got %d", ErrBadConfig, crypto.KeySize, len(c.Key))
	}
	if _, err := beacon.ParseKind(string(c.Beacon)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	if c.SelectionRate <= 0 || c.SelectionRate > 1 {
		return fmt.Errorf("%w: selection rate %v outside (0, 1]", ErrBadConfig, c.SelectionRate)
	}
	if err := c.Features.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	if c.LengthThreshold <= 0 {
		return fmt.Errorf("%w: length threshold %d must be positive", ErrBadConfig, c.LengthThreshold)
	}
	return nil
}

// ExportString renders the portable channel description. The counterparty
// imports this string and nothing else.
func (c *Channel) ExportString() string {
	return strings.Join([]string{
		exportPrefix,
		exportVersion,
		crypto.Base64URLEncode(c.Key),
		string(c.Beacon),
		FormatRate(c.SelectionRate),
		c.Features.String(),
	}, ":")
}

// Import parses an export string into a channel record with fresh local
// identity and counters. The length threshold is the protocol default; the
// peer source is supplied by the importer.
func Import(s string) (*Channel, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 6 {
		return nil, fmt.Errorf("%w: expected 6 fields, got %d", ErrInvalidChannelString, len(parts))
	}
	if parts[0] != exportPrefix {
		return nil, fmt.Errorf("%w: bad prefix %q", ErrInvalidChannelString, parts[0])
	}
	if parts[1] != exportVersion {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidChannelString, parts[1])
	}

	key, err := crypto.Base64URLDecode(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: key: %v", ErrInvalidChannelString, err)
	}
	if len(key) != crypto.KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, expected %d", ErrInvalidChannelString, len(key), crypto.KeySize)
	}

	kind, err := beacon.ParseKind(parts[3])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChannelString, err)
	}

	rate, err := ParseRate(parts[4])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChannelString, err)
	}

	set, err := feature.ParseSet(parts[5])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChannelString, err)
	}

	id, err := NewID()
	if err != nil {
		return nil, err
	}

	c := &Channel{
		ID:              id,
		Key:             key,
		Beacon:          kind,
		SelectionRate:   rate,
		Features:        set,
		LengthThreshold: feature.DefaultLengthThreshold,
		CreatedAt:       time.Now().UTC(),
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChannelString, err)
	}
	return c, nil
}

// FormatRate renders a selection rate with at most four fractional digits
// and no trailing zeros.
func FormatRate(rate float64) string {
	s := strconv.FormatFloat(rate, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s
}

// ParseRate parses a decimal selection rate and checks it lies in (0, 1].
func ParseRate(s string) (float64, error) {
	rate, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad selection rate %q", s)
	}
	if rate <= 0 || rate > 1 {
		return 0, fmt.Errorf("selection rate %v outside (0, 1]", rate)
	}
	return rate, nil
}

// AdvanceSendSeq returns the sequence number for the frame that just
// completed and moves the counter past it.
func (c *Channel) AdvanceSendSeq() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.NextSendSeq
	c.NextSendSeq++
	return seq
}

// PeekSendSeq returns the sequence number the next enqueued frame will use.
func (c *Channel) PeekSendSeq() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.NextSendSeq
}

// ObserveRecvSeq applies the replay rule to a decoded frame: sequence
// numbers at or below the last accepted one are rejected, anything newer
// advances the floor.
func (c *Channel) ObserveRecvSeq(seq uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq < c.NextRecvSeq {
		return false
	}
	c.NextRecvSeq = seq + 1
	return true
}
