package beacon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// refreshInterval is the minimum spacing between upstream fetches for one
// kind; refreshBurst allows the first fetch through immediately.
const (
	refreshInterval = 5 * time.Second
	refreshBurst    = 1
)

type entry struct {
	current  *Value
	previous *Value
}

// Cache is the process-wide beacon provider. It keeps the last-known-good
// and previous value per kind, coalesces concurrent refreshes into a single
// upstream request, and serves stale values (clearly marked) through the
// grace window when the upstream is down.
type Cache struct {
	mu       sync.Mutex
	fetchers map[Kind]Fetcher
	entries  map[Kind]*entry
	limiters map[Kind]*rate.Limiter
	group    singleflight.Group
	logger   *slog.Logger

	// Now is the clock used for freshness decisions. Defaults to time.Now.
	Now func() time.Time

	// RefreshInterval overrides the minimum spacing between upstream
	// fetches for one kind. Tests shorten it; zero means the default.
	RefreshInterval time.Duration
}

// NewCache builds a cache over the given fetchers.
func NewCache(logger *slog.Logger, fetchers ...Fetcher) *Cache {
	c := &Cache{
		fetchers: make(map[Kind]Fetcher, len(fetchers)),
		entries:  make(map[Kind]*entry),
		limiters: make(map[Kind]*rate.Limiter),
		logger:   logger,
	}
	for _, f := range fetchers {
		c.fetchers[f.Kind()] = f
	}
	return c
}

// limiter returns the per-kind refresh limiter, creating it on first use.
// Callers must hold c.mu.
func (c *Cache) limiter(kind Kind) *rate.Limiter {
	l := c.limiters[kind]
	if l == nil {
		interval := c.RefreshInterval
		if interval == 0 {
			interval = refreshInterval
		}
		l = rate.NewLimiter(rate.Every(interval), refreshBurst)
		c.limiters[kind] = l
	}
	return l
}

// Current returns the presently valid value for kind. A stale value is
// returned, marked, when the upstream fails but the cached value is still
// inside expiry plus grace; beyond that the call fails with ErrUnavailable.
func (c *Cache) Current(ctx context.Context, kind Kind) (*Value, error) {
	now := c.now()

	c.mu.Lock()
	e := c.entries[kind]
	if e != nil && e.current != nil && e.current.Contains(now) {
		v := e.current.clone()
		c.mu.Unlock()
		return v, nil
	}
	fetcher, ok := c.fetchers[kind]
	limiter := c.limiter(kind)
	c.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: no fetcher for kind %q", ErrUnavailable, kind)
	}

	if !limiter.Allow() {
		// Refresh attempted too recently; fall back to the cached value.
		return c.staleOr(kind, now, fmt.Errorf("%w: refresh throttled", ErrUnavailable))
	}

	fetched, err, _ := c.group.Do(string(kind), func() (interface{}, error) {
		return fetcher.Fetch(ctx)
	})
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("beacon fetch failed", "beacon", string(kind), "error", err)
		}
		return c.staleOr(kind, now, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}

	return c.store(kind, fetched.(*Value)), nil
}

// Pair returns the current value and, when known, the previous epoch's
// value for the same kind. The previous value covers the grace seam on the
// receive path.
func (c *Cache) Pair(ctx context.Context, kind Kind) (current, previous *Value, err error) {
	current, err = c.Current(ctx, kind)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[kind]; e != nil && e.previous != nil {
		previous = e.previous.clone()
	}
	return current, previous, nil
}

// Active returns every cached value whose grace-extended window covers t,
// newest first. For time-resolvable kinds (date) the epochs containing t
// and t minus one grace period are computed directly, so scans over
// historical windows work without cache state.
func (c *Cache) Active(ctx context.Context, kind Kind, t time.Time) ([]*Value, error) {
	var out []*Value
	seen := make(map[string]bool)
	add := func(v *Value) {
		if v != nil && v.InGrace(t) && !seen[v.EpochID] {
			seen[v.EpochID] = true
			out = append(out, v.clone())
		}
	}

	c.mu.Lock()
	fetcher := c.fetchers[kind]
	c.mu.Unlock()

	if resolver, ok := fetcher.(TimeResolver); ok {
		add(resolver.ValueAt(t))
		add(resolver.ValueAt(t.Add(-kind.GracePeriod())))
		return out, nil
	}

	if _, err := c.Current(ctx, kind); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[kind]; e != nil {
		add(e.current)
		add(e.previous)
	}
	return out, nil
}

// staleOr serves the cached value marked stale while it remains inside
// expiry plus grace, and fails with fallback otherwise.
func (c *Cache) staleOr(kind Kind, now time.Time, fallback error) (*Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[kind]
	if e == nil || e.current == nil || !e.current.InGrace(now) {
		return nil, fallback
	}
	v := e.current.clone()
	v.Stale = true
	if c.logger != nil {
		c.logger.Warn("serving stale beacon value",
			"beacon", string(kind), "epoch_id", v.EpochID)
	}
	return v, nil
}

// store merges a freshly fetched value into the cache and returns the value
// callers should observe. valid_from never moves backwards for one kind,
// and a re-fetch of the same epoch keeps the originally observed bytes.
func (c *Cache) store(kind Kind, fetched *Value) *Value {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[kind]
	if e == nil {
		e = &entry{}
		c.entries[kind] = e
	}

	switch {
	case e.current == nil:
		e.current = fetched
	case e.current.EpochID == fetched.EpochID:
		// Same epoch: keep the recorded bytes and window, clear staleness.
		e.current.Stale = false
	case fetched.ValidFrom.Before(e.current.ValidFrom):
		// Upstream went backwards; keep the newer value.
	default:
		e.previous = e.current
		e.current = fetched
	}
	return e.current.clone()
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
