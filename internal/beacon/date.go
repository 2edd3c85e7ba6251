package beacon

import (
	"context"
	"crypto/sha256"
	"time"
)

// dateLayout is the epoch identifier format for the date beacon.
const dateLayout = "2006-01-02"

// DateFetcher derives beacon values from the UTC date. It needs no network
// and never fails, which makes it the fallback kind when both parties can
// tolerate day-granularity key rotation.
type DateFetcher struct {
	// Now is the clock used to determine the current date. Defaults to
	// time.Now; tests pin it.
	Now func() time.Time
}

// Kind returns KindDate.
func (f *DateFetcher) Kind() Kind {
	return KindDate
}

// Fetch returns the value for the current UTC date.
func (f *DateFetcher) Fetch(ctx context.Context) (*Value, error) {
	return f.ValueAt(f.now()), nil
}

// ValueAt returns the value for the UTC date containing t.
func (f *DateFetcher) ValueAt(t time.Time) *Value {
	day := t.UTC().Truncate(24 * time.Hour)
	epoch := day.Format(dateLayout)
	sum := sha256.Sum256([]byte(epoch))
	return &Value{
		Kind:      KindDate,
		EpochID:   epoch,
		Bytes:     sum[:],
		ValidFrom: day,
		ExpiresAt: day.Add(24 * time.Hour),
		Grace:     KindDate.GracePeriod(),
	}
}

func (f *DateFetcher) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}
