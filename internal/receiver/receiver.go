// Package receiver scans a peer's public posts, filters them through the
// selector, accumulates feature bits per epoch and reassembles message
// frames. Unused tail bits persist across scans so a frame straddling two
// fetch windows still completes.
package receiver

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/quietpost/stegochannel/internal/beacon"
	"github.com/quietpost/stegochannel/internal/bitstream"
	"github.com/quietpost/stegochannel/internal/channel"
	"github.com/quietpost/stegochannel/internal/feature"
	"github.com/quietpost/stegochannel/internal/frame"
	"github.com/quietpost/stegochannel/internal/keys"
	"github.com/quietpost/stegochannel/internal/logging"
	"github.com/quietpost/stegochannel/internal/metrics"
	"github.com/quietpost/stegochannel/internal/post"
	"github.com/quietpost/stegochannel/internal/rs"
	"github.com/quietpost/stegochannel/internal/selector"
	"github.com/quietpost/stegochannel/internal/store"
)

// maxSlides is how many frame-alignment retries are spent before the
// oldest buffered bit is dropped and a noise burst is surfaced.
const maxSlides = 32

// Decoded is one reassembled message with its provenance.
type Decoded struct {
	Seq           uint32
	Payload       []byte
	Encrypted     bool
	ECCorrections int
	EpochID       string

	// ContributingPosts lists the signal posts whose bits built the
	// frame, in chronological order.
	ContributingPosts []string
}

// DiagKind classifies a scan diagnostic.
type DiagKind string

const (
	// DiagReplay marks a decoded frame rejected by the sequence floor.
	// The provenance is still reported; the payload is not surfaced as a
	// message.
	DiagReplay DiagKind = "replay_rejected"

	// DiagNoiseBurst marks an exhausted alignment search; one buffered
	// bit was dropped to make progress.
	DiagNoiseBurst DiagKind = "noise_burst"
)

// Diagnostic is a non-message observation surfaced to the caller.
type Diagnostic struct {
	Kind    DiagKind
	EpochID string
	Seq     uint32
	Posts   []string
}

// segment is the bits one signal post contributed to an epoch's stream.
type segment struct {
	postID string
	bits   []byte
}

// tail is the per-epoch reassembly state that persists across scans.
type tail struct {
	keys   *keys.EpochKeys
	segs   []segment
	seen   map[string]bool
	slides int
}

// Reassembler drives one channel's receive path.
type Reassembler struct {
	mu      sync.Mutex
	ch      *channel.Channel
	st      *store.Store
	beacons *beacon.Cache
	logger  *slog.Logger
	metrics *metrics.Metrics

	tails map[string]*tail
}

// New creates a reassembler for one channel.
func New(ch *channel.Channel, st *store.Store, beacons *beacon.Cache, logger *slog.Logger, m *metrics.Metrics) *Reassembler {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Reassembler{
		ch:      ch,
		st:      st,
		beacons: beacons,
		logger:  logger.With(logging.KeyComponent, "receiver", logging.KeyChannelID, ch.ID.ShortString()),
		metrics: m,
		tails:   make(map[string]*tail),
	}
}

// Scan ingests a window of peer posts (any order; sources deliver newest
// first) and returns the messages completed by it, plus diagnostics.
// Posts already scanned are ignored, so repeated windows are idempotent.
func (r *Reassembler) Scan(ctx context.Context, posts []post.Post) ([]Decoded, []Diagnostic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := append([]post.Post(nil), posts...)
	post.SortChronological(ordered)

	var decoded []Decoded
	var diags []Diagnostic

	for _, p := range ordered {
		values, err := r.beacons.Active(ctx, r.ch.Beacon, p.CreatedAt)
		if err != nil {
			return decoded, diags, err
		}

		counted := false
		for _, v := range values {
			t, err := r.tailFor(v)
			if err != nil {
				return decoded, diags, err
			}
			if t.seen[p.ID] {
				continue
			}
			t.seen[p.ID] = true
			if !counted {
				counted = true
				if r.metrics != nil {
					r.metrics.PostsScanned.Inc()
				}
			}

			if !selector.IsSignal(t.keys.Selection, p.ID, r.ch.SelectionRate) {
				continue
			}
			if r.metrics != nil {
				r.metrics.SignalPostsFound.Inc()
			}

			bits := feature.Extract(p.Text, p.HasMedia, r.ch.Features, r.ch.LengthThreshold)
			t.segs = append(t.segs, segment{postID: p.ID, bits: bits})

			d, g := r.drain(t, v.EpochID)
			decoded = append(decoded, d...)
			diags = append(diags, g...)
		}
	}

	if r.st != nil && len(decoded) > 0 {
		if err := r.st.SaveChannel(r.ch); err != nil {
			return decoded, diags, err
		}
	}
	return decoded, diags, nil
}

// tailFor returns the reassembly state for one epoch, deriving its keys on
// first sight.
func (r *Reassembler) tailFor(v *beacon.Value) (*tail, error) {
	if t, ok := r.tails[v.EpochID]; ok {
		return t, nil
	}
	k, err := keys.Derive(r.ch.Key, v)
	if err != nil {
		return nil, err
	}
	t := &tail{keys: k, seen: make(map[string]bool)}
	r.tails[v.EpochID] = t
	return t, nil
}

// drain repeatedly attempts frame decodes against the epoch's buffered
// bits. Alignment failures slide the attempt window forward one signal
// post at a time; after maxSlides wasted attempts the oldest buffered bit
// is dropped and a noise burst is reported. Once an alignment is
// incomplete, later alignments are still probed for a complete frame, but
// their failures are not counted as slides.
func (r *Reassembler) drain(t *tail, epochID string) ([]Decoded, []Diagnostic) {
	var decoded []Decoded
	var diags []Diagnostic

	skip := 0
	waiting := false
	for skip <= len(t.segs) {
		buf, covered := assemble(t.segs[skip:])
		if buf.Len() == 0 {
			break
		}

		dec, err := frame.Decode(t.keys, buf)
		switch {
		case err == nil:
			used := postsCovering(covered, dec.BitCount)
			contributors := make([]string, 0, used)
			for _, s := range t.segs[skip : skip+used] {
				contributors = append(contributors, s.postID)
			}

			// Consume the skipped prefix too: no frame decodes from it.
			t.segs = t.segs[skip+used:]
			t.slides = 0
			skip = 0
			waiting = false

			if r.metrics != nil {
				r.metrics.ECCorrections.Observe(float64(dec.ECCorrections))
			}

			if !r.ch.ObserveRecvSeq(dec.Seq) {
				if r.metrics != nil {
					r.metrics.ReplaysRejected.Inc()
				}
				r.logger.Warn("replayed frame rejected",
					logging.KeySeq, dec.Seq,
					logging.KeyEpochID, epochID)
				diags = append(diags, Diagnostic{
					Kind:    DiagReplay,
					EpochID: epochID,
					Seq:     dec.Seq,
					Posts:   contributors,
				})
				continue
			}

			if r.metrics != nil {
				r.metrics.FramesDecoded.Inc()
			}
			r.logger.Info("frame decoded",
				logging.KeySeq, dec.Seq,
				logging.KeyEpochID, epochID,
				logging.KeyCount, dec.ECCorrections)
			decoded = append(decoded, Decoded{
				Seq:               dec.Seq,
				Payload:           dec.Payload,
				Encrypted:         dec.Encrypted,
				ECCorrections:     dec.ECCorrections,
				EpochID:           epochID,
				ContributingPosts: contributors,
			})
			continue

		case errors.Is(err, frame.ErrIncomplete):
			// More bits may complete the frame at this alignment; keep
			// everything buffered, but probe later alignments in case a
			// complete frame already sits behind stale bits.
			waiting = true
			skip++

		default:
			if waiting {
				skip++
				continue
			}
			r.countFailure(err)
			t.slides++
			if t.slides > maxSlides {
				dropOldestBit(t)
				t.slides = 0
				skip = 0
				if r.metrics != nil {
					r.metrics.NoiseBursts.Inc()
				}
				r.logger.Warn("noise burst: dropping oldest buffered bit",
					logging.KeyEpochID, epochID)
				diags = append(diags, Diagnostic{Kind: DiagNoiseBurst, EpochID: epochID})
				continue
			}
			skip++
		}
	}
	return decoded, diags
}

func (r *Reassembler) countFailure(err error) {
	if r.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, frame.ErrAuthFail):
		r.metrics.FrameFailures.WithLabelValues("auth_fail").Inc()
	case errors.Is(err, rs.ErrUncorrectable):
		r.metrics.FrameFailures.WithLabelValues("uncorrectable").Inc()
	default:
		r.metrics.FrameFailures.WithLabelValues("malformed").Inc()
	}
}

// assemble concatenates segment bits into one buffer and returns the
// per-segment cumulative lengths.
func assemble(segs []segment) (*bitstream.Buffer, []int) {
	buf := &bitstream.Buffer{}
	covered := make([]int, len(segs))
	for i, s := range segs {
		buf.AppendBits(s.bits)
		covered[i] = buf.Len()
	}
	return buf, covered
}

// postsCovering returns how many leading segments cover at least bitCount
// bits. Bits are consumed at post granularity: a partially consumed post's
// trailing pad bits go with it.
func postsCovering(cumulative []int, bitCount int) int {
	for i, end := range cumulative {
		if end >= bitCount {
			return i + 1
		}
	}
	return len(cumulative)
}

// dropOldestBit removes the single oldest buffered bit, trimming away the
// leading segment when it empties.
func dropOldestBit(t *tail) {
	if len(t.segs) == 0 {
		return
	}
	first := &t.segs[0]
	if len(first.bits) > 1 {
		first.bits = first.bits[1:]
		return
	}
	t.segs = t.segs[1:]
}
