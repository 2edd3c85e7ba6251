// Package sender plans the emission of one message's frame bits onto the
// author's outgoing posts. It owns the transmission state machine
// (queued, transmitting, complete, cancelled), checkpoints progress after
// every accepted signal post, and survives process restarts and epoch
// boundaries.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quietpost/stegochannel/internal/beacon"
	"github.com/quietpost/stegochannel/internal/bitstream"
	"github.com/quietpost/stegochannel/internal/channel"
	"github.com/quietpost/stegochannel/internal/feature"
	"github.com/quietpost/stegochannel/internal/frame"
	"github.com/quietpost/stegochannel/internal/keys"
	"github.com/quietpost/stegochannel/internal/logging"
	"github.com/quietpost/stegochannel/internal/metrics"
	"github.com/quietpost/stegochannel/internal/selector"
	"github.com/quietpost/stegochannel/internal/store"
)

var (
	// ErrBusy is returned when a transmission is already in flight on the
	// channel. One message at a time per channel.
	ErrBusy = errors.New("sender: transmission already in flight")

	// ErrNoTransmission is returned when no message is enqueued.
	ErrNoTransmission = errors.New("sender: no transmission in flight")

	// ErrUnconfirmedPost is returned when Confirm names a post that was
	// not the one most recently planned, or whose features no longer
	// match the planned bits.
	ErrUnconfirmedPost = errors.New("sender: post does not match the planned signal post")
)

// Draft is a candidate outgoing post before publication.
type Draft struct {
	PostID   string
	Text     string
	HasMedia bool
}

// Role classifies a candidate post.
type Role string

const (
	// RoleCover means the post is protocol-inert and may be published
	// freely.
	RoleCover Role = "cover"

	// RoleSignal means the selector picked the post to carry frame bits.
	RoleSignal Role = "signal"
)

// Decision is the planner's answer for one candidate post.
type Decision struct {
	Role Role

	// PublishAsIs is set when a signal post already encodes the needed
	// bits. Otherwise Suggestions lists the edits that would make it.
	PublishAsIs bool
	Suggestions []feature.Suggestion

	// TargetBits are the frame bits this signal post must encode, in
	// feature-set order.
	TargetBits []byte
}

// Progress reports the state of the in-flight transmission.
type Progress struct {
	State           store.TxState
	BitsSent        int
	BitsTotal       int
	SignalPostsUsed int
	EpochID         string
	EpochExpiresAt  time.Time
	GraceActive     bool
}

// Planner drives one channel's outgoing transmissions.
type Planner struct {
	mu      sync.Mutex
	ch      *channel.Channel
	st      *store.Store
	beacons *beacon.Cache
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Now is the clock used for epoch-expiry decisions. Defaults to
	// time.Now; tests pin it.
	Now func() time.Time

	cp   *store.Checkpoint
	bits *bitstream.Buffer
	keys *keys.EpochKeys

	pendingPostID  string
	pendingBits    []byte
	pendingAdvance int
}

// New creates a planner for one channel, resuming any persisted
// transmission checkpoint.
func New(ch *channel.Channel, st *store.Store, beacons *beacon.Cache, logger *slog.Logger, m *metrics.Metrics) (*Planner, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	p := &Planner{
		ch:      ch,
		st:      st,
		beacons: beacons,
		logger:  logger.With(logging.KeyComponent, "sender", logging.KeyChannelID, ch.ID.ShortString()),
		metrics: m,
	}

	cp, err := st.LoadCheckpoint(ch.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		p.cp = cp
		p.bits = packedBits(cp.FrameBits, cp.FrameBitLen)
		p.logger.Info("resumed transmission checkpoint",
			logging.KeyState, string(cp.State),
			logging.KeyEpochID, cp.EpochID,
			logging.KeyBits, cp.BitCursor)
	}
	return p, nil
}

// Enqueue builds the frame for a plaintext and makes it the channel's
// in-flight transmission. The sequence number is the channel's next send
// sequence; it is not consumed until the transmission completes.
func (p *Planner) Enqueue(ctx context.Context, plaintext []byte, encrypt bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cp != nil {
		return ErrBusy
	}

	value, err := p.beacons.Current(ctx, p.ch.Beacon)
	if err != nil {
		return err
	}
	k, err := keys.Derive(p.ch.Key, value)
	if err != nil {
		return err
	}

	seq := p.ch.PeekSendSeq()
	bits, err := frame.Encode(k, seq, plaintext, encrypt)
	if err != nil {
		return err
	}

	cp := &store.Checkpoint{
		ChannelID:      p.ch.ID,
		State:          store.TxQueued,
		Plaintext:      append([]byte(nil), plaintext...),
		Encrypt:        encrypt,
		Seq:            seq,
		FrameBits:      bits.Bytes(),
		FrameBitLen:    bits.Len(),
		EpochKind:      string(value.Kind),
		EpochID:        value.EpochID,
		EpochExpiresAt: value.ExpiresAt,
		GraceSeconds:   int(value.Grace / time.Second),
		EnqueuedAt:     p.now(),
	}
	if err := p.st.SaveCheckpoint(cp); err != nil {
		return err
	}

	p.cp = cp
	p.bits = bits
	p.keys = k
	p.pendingPostID = ""
	if p.metrics != nil {
		p.metrics.MessagesEnqueued.Inc()
	}
	p.logger.Info("message enqueued",
		logging.KeySeq, seq,
		logging.KeyEpochID, value.EpochID,
		logging.KeyBits, bits.Len())
	return nil
}

// Plan evaluates one candidate outgoing post. Cover posts leave the state
// untouched. For a signal post the decision either clears it for
// publication as-is or returns the edits needed first; the cursor advances
// only in Confirm.
func (p *Planner) Plan(ctx context.Context, draft Draft) (*Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cp == nil {
		return nil, ErrNoTransmission
	}
	if err := p.refreshEpoch(ctx); err != nil {
		return nil, err
	}

	if !selector.IsSignal(p.keys.Selection, draft.PostID, p.ch.SelectionRate) {
		if p.metrics != nil {
			p.metrics.CoverPostsSeen.Inc()
		}
		return &Decision{Role: RoleCover}, nil
	}
	if p.metrics != nil {
		p.metrics.SignalPostsPlanned.Inc()
	}

	target := p.targetBits(draft)
	current := feature.Extract(draft.Text, draft.HasMedia, p.ch.Features, p.ch.LengthThreshold)

	suggestions, err := feature.Suggest(p.ch.Features, current, target)
	if err != nil {
		return nil, err
	}
	if len(suggestions) > 0 {
		if p.metrics != nil {
			p.metrics.EditSuggestions.Add(float64(len(suggestions)))
		}
		p.pendingPostID = ""
		return &Decision{Role: RoleSignal, Suggestions: suggestions, TargetBits: target}, nil
	}

	p.pendingPostID = draft.PostID
	p.pendingBits = target
	p.pendingAdvance = p.cp.FrameBitLen - p.cp.BitCursor
	if p.pendingAdvance > len(p.ch.Features) {
		p.pendingAdvance = len(p.ch.Features)
	}
	return &Decision{Role: RoleSignal, PublishAsIs: true, TargetBits: target}, nil
}

// Confirm records that the planned signal post was published with the
// planned features, advances the cursor and checkpoints. It returns true
// when the transmission is complete.
func (p *Planner) Confirm(ctx context.Context, published Draft) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cp == nil {
		return false, ErrNoTransmission
	}
	if p.pendingPostID == "" || published.PostID != p.pendingPostID {
		return false, ErrUnconfirmedPost
	}

	// Re-extract from the published content: an edit between Plan and
	// publication must not corrupt the stream.
	got := feature.Extract(published.Text, published.HasMedia, p.ch.Features, p.ch.LengthThreshold)
	advance := p.pendingAdvance
	for i := 0; i < advance; i++ {
		if got[i] != p.pendingBits[i] {
			return false, fmt.Errorf("%w: feature %s flipped after planning",
				ErrUnconfirmedPost, p.ch.Features[i])
		}
	}

	p.cp.BitCursor += advance
	p.cp.SignalPostsUsed++
	p.cp.State = store.TxTransmitting
	p.pendingPostID = ""
	p.pendingBits = nil
	p.pendingAdvance = 0
	if p.metrics != nil {
		p.metrics.BitsSent.Add(float64(advance))
	}

	if p.cp.BitCursor >= p.cp.FrameBitLen {
		seq := p.ch.AdvanceSendSeq()
		if err := p.st.SaveChannel(p.ch); err != nil {
			return false, err
		}
		if err := p.st.DeleteCheckpoint(p.ch.ID); err != nil {
			return false, err
		}
		p.logger.Info("transmission complete",
			logging.KeySeq, seq,
			logging.KeyCount, p.cp.SignalPostsUsed)
		if p.metrics != nil {
			p.metrics.TransmissionsComplete.Inc()
		}
		p.cp = nil
		p.bits = nil
		p.keys = nil
		return true, nil
	}

	if err := p.st.SaveCheckpoint(p.cp); err != nil {
		return false, err
	}
	p.logger.Debug("signal post confirmed",
		logging.KeyPostID, published.PostID,
		logging.KeyBits, p.cp.BitCursor)
	return false, nil
}

// Cancel discards the in-flight transmission. The sequence counter is not
// advanced.
func (p *Planner) Cancel() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cp == nil {
		return ErrNoTransmission
	}
	if err := p.st.DeleteCheckpoint(p.ch.ID); err != nil {
		return err
	}
	p.logger.Info("transmission cancelled", logging.KeySeq, p.cp.Seq)
	if p.metrics != nil {
		p.metrics.TransmissionsCancelled.Inc()
	}
	p.cp = nil
	p.bits = nil
	p.keys = nil
	p.pendingPostID = ""
	p.pendingBits = nil
	return nil
}

// Progress reports the in-flight transmission, if any.
func (p *Planner) Progress() (Progress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cp == nil {
		return Progress{}, false
	}
	now := p.now()
	return Progress{
		State:           p.cp.State,
		BitsSent:        p.cp.BitCursor,
		BitsTotal:       p.cp.FrameBitLen,
		SignalPostsUsed: p.cp.SignalPostsUsed,
		EpochID:         p.cp.EpochID,
		EpochExpiresAt:  p.cp.EpochExpiresAt,
		GraceActive:     now.After(p.cp.EpochExpiresAt) && now.Before(p.cp.EpochExpiresAt.Add(p.grace())),
	}, true
}

// refreshEpoch derives the emitting epoch's keys, abandoning the in-flight
// frame and rebuilding it under the current epoch once the start epoch has
// aged past its grace window. Callers hold p.mu.
func (p *Planner) refreshEpoch(ctx context.Context) error {
	now := p.now()

	if now.After(p.cp.EpochExpiresAt.Add(p.grace())) {
		current, err := p.beacons.Current(ctx, p.ch.Beacon)
		if err != nil {
			return err
		}
		if current.EpochID != p.cp.EpochID {
			return p.reemit(current)
		}
	}

	if p.keys != nil {
		return nil
	}

	// Resuming after a restart: recover the start epoch's beacon value.
	value, err := p.startEpochValue(ctx)
	if err != nil {
		return err
	}
	k, err := keys.Derive(p.ch.Key, value)
	if err != nil {
		return err
	}
	p.keys = k
	return nil
}

// reemit rebuilds the frame under a new epoch with the same sequence
// number and resets the cursor. Callers hold p.mu.
func (p *Planner) reemit(value *beacon.Value) error {
	k, err := keys.Derive(p.ch.Key, value)
	if err != nil {
		return err
	}
	bits, err := frame.Encode(k, p.cp.Seq, p.cp.Plaintext, p.cp.Encrypt)
	if err != nil {
		return err
	}

	p.logger.Warn("start epoch expired past grace, re-emitting frame",
		logging.KeyEpochID, value.EpochID,
		logging.KeySeq, p.cp.Seq)

	p.cp.State = store.TxQueued
	p.cp.BitCursor = 0
	p.cp.SignalPostsUsed = 0
	p.cp.FrameBits = bits.Bytes()
	p.cp.FrameBitLen = bits.Len()
	p.cp.EpochKind = string(value.Kind)
	p.cp.EpochID = value.EpochID
	p.cp.EpochExpiresAt = value.ExpiresAt
	p.cp.GraceSeconds = int(value.Grace / time.Second)
	if err := p.st.SaveCheckpoint(p.cp); err != nil {
		return err
	}

	p.bits = bits
	p.keys = k
	p.pendingPostID = ""
	p.pendingBits = nil
	if p.metrics != nil {
		p.metrics.EpochAbandons.Inc()
	}
	return nil
}

// startEpochValue locates the beacon value the transmission started under.
func (p *Planner) startEpochValue(ctx context.Context) (*beacon.Value, error) {
	current, previous, err := p.beacons.Pair(ctx, p.ch.Beacon)
	if err != nil {
		return nil, err
	}
	if current.EpochID == p.cp.EpochID {
		return current, nil
	}
	if previous != nil && previous.EpochID == p.cp.EpochID {
		return previous, nil
	}

	active, err := p.beacons.Active(ctx, p.ch.Beacon, p.cp.EpochExpiresAt.Add(-time.Second))
	if err == nil {
		for _, v := range active {
			if v.EpochID == p.cp.EpochID {
				return v, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: start epoch %q no longer resolvable", beacon.ErrUnavailable, p.cp.EpochID)
}

// targetBits returns the next slice of frame bits this signal post must
// encode. The final post of a frame may carry fewer meaningful bits than
// the feature set holds; the surplus features are left as the draft
// already has them.
func (p *Planner) targetBits(draft Draft) []byte {
	needed := len(p.ch.Features)
	if rest := p.cp.FrameBitLen - p.cp.BitCursor; rest < needed {
		needed = rest
	}
	target := p.bits.Bits(p.cp.BitCursor, needed)

	if needed < len(p.ch.Features) {
		current := feature.Extract(draft.Text, draft.HasMedia, p.ch.Features, p.ch.LengthThreshold)
		target = append(target, current[needed:]...)
		return target[:len(p.ch.Features)]
	}
	return target
}

func (p *Planner) grace() time.Duration {
	return time.Duration(p.cp.GraceSeconds) * time.Second
}

func (p *Planner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// packedBits rebuilds the bit buffer from its persisted packed form.
func packedBits(packed []byte, length int) *bitstream.Buffer {
	full := bitstream.FromBytes(packed)
	return bitstream.FromBits(full.Bits(0, length))
}
