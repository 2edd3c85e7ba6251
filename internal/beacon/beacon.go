// Package beacon supplies the public, unpredictable, time-indexed values
// that rotate channel keys without coordination between the two parties.
// Three beacon kinds are supported: the most recent confirmed Bitcoin block
// hash, the NIST randomness beacon pulse, and the UTC date.
package beacon

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies a beacon source. The set is closed; adding a kind is a
// code change, not a plugin.
type Kind string

const (
	// KindBTC keys epochs to the latest confirmed Bitcoin block hash.
	KindBTC Kind = "btc"

	// KindNIST keys epochs to the NIST randomness beacon pulse.
	KindNIST Kind = "nist"

	// KindDate keys epochs to the UTC date. No network access required.
	KindDate Kind = "date"
)

// ErrUnavailable is returned when a beacon value cannot be fetched and the
// cached value has aged past its grace window.
var ErrUnavailable = errors.New("beacon: unavailable")

// ParseKind validates a beacon kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindBTC, KindNIST, KindDate:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown beacon kind %q", s)
	}
}

// GracePeriod returns the epoch-boundary overlap during which decoders
// accept either adjacent epoch's key.
func (k Kind) GracePeriod() time.Duration {
	switch k {
	case KindBTC:
		return 120 * time.Second
	case KindNIST:
		return 30 * time.Second
	default:
		return 300 * time.Second
	}
}

// Value is one beacon observation. Two values with the same Kind and
// EpochID always carry identical Bytes.
type Value struct {
	Kind      Kind
	EpochID   string
	Bytes     []byte
	ValidFrom time.Time
	ExpiresAt time.Time
	Grace     time.Duration

	// Stale marks a value served from cache after a failed refresh.
	Stale bool
}

// Contains reports whether t falls inside the value's validity window.
func (v *Value) Contains(t time.Time) bool {
	return !t.Before(v.ValidFrom) && t.Before(v.ExpiresAt)
}

// InGrace reports whether t falls inside the validity window extended by
// the grace period.
func (v *Value) InGrace(t time.Time) bool {
	return !t.Before(v.ValidFrom) && t.Before(v.ExpiresAt.Add(v.Grace))
}

// clone returns a copy the caller may hold without racing cache refreshes.
func (v *Value) clone() *Value {
	out := *v
	out.Bytes = append([]byte(nil), v.Bytes...)
	return &out
}

// Fetcher retrieves the currently valid value for one beacon kind.
type Fetcher interface {
	Kind() Kind
	Fetch(ctx context.Context) (*Value, error)
}

// TimeResolver is implemented by fetchers whose epoch for an arbitrary
// instant is computable without walking history. The date beacon is the
// only such kind.
type TimeResolver interface {
	ValueAt(t time.Time) *Value
}
