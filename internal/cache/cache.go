// Package cache keeps a TTL-bounded copy of the layout collection for
// editor sessions. Concurrent readers share one fetch, and a failed refetch
// falls back to the previous copy.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/pageforge/internal/bus"
	"github.com/foxzi/pageforge/internal/models"
)

// DefaultTTL is used when no TTL option is given
const DefaultTTL = 5 * time.Minute

// Fetcher loads the full layout collection
type Fetcher func(ctx context.Context) ([]models.Layout, error)

// Clock returns the current time
type Clock func() time.Time

// Option configures a Cache
type Option func(*Cache)

// WithTTL sets how long a fetched collection stays valid
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now Clock) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithAdmin makes the cache honor RequestRefresh even while its copy is valid
func WithAdmin(admin bool) Option {
	return func(c *Cache) { c.admin = admin }
}

// WithFetchTimeout bounds each fetch
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// StaleError is returned alongside the previous collection when a refetch fails
type StaleError struct {
	Err       error
	FetchedAt time.Time
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("serving layouts fetched at %s: %v", e.FetchedAt.Format(time.RFC3339), e.Err)
}

func (e *StaleError) Unwrap() error {
	return e.Err
}

// Cache is a scoped copy of the layout collection. The zero value is not
// usable; create one with New.
type Cache struct {
	fetch        Fetcher
	ttl          time.Duration
	now          Clock
	admin        bool
	fetchTimeout time.Duration
	logger       *slog.Logger

	mu           sync.Mutex
	layouts      []models.Layout
	fetched      bool
	fetchedAt    time.Time
	expiry       time.Time
	stale        bool
	needsRefresh bool
	flight       *call
}

// call is one in-flight fetch shared by every waiter
type call struct {
	done       chan struct{}
	cancel     context.CancelFunc
	superseded bool
	layouts    []models.Layout
	err        error
}

// New creates an empty cache around fetch
func New(fetch Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetch:        fetch,
		ttl:          DefaultTTL,
		now:          time.Now,
		fetchTimeout: 30 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "cache")
	return c
}

// ShouldFetch reports whether the next read would go to the fetcher
func (c *Cache) ShouldFetch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldFetchLocked()
}

// Order matters: an admin refresh request beats a still-valid TTL.
func (c *Cache) shouldFetchLocked() bool {
	if c.flight != nil {
		return false
	}
	if c.admin && c.needsRefresh {
		return true
	}
	if c.validLocked() {
		return false
	}
	return true
}

// Valid reports whether the cached copy may be served without fetching
func (c *Cache) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validLocked()
}

func (c *Cache) validLocked() bool {
	return c.fetched && !c.stale && c.now().Before(c.expiry)
}

// Fetching reports whether a fetch is in flight
func (c *Cache) Fetching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flight != nil
}

// Layouts returns the collection, fetching it when needed. When a refetch
// fails and an older copy exists, that copy is returned with a *StaleError.
func (c *Cache) Layouts(ctx context.Context) ([]models.Layout, error) {
	for {
		c.mu.Lock()
		f := c.flight
		if f == nil {
			if !c.shouldFetchLocked() {
				out := cloneLayouts(c.layouts)
				c.mu.Unlock()
				return out, nil
			}
			f = c.startLocked()
		}
		c.mu.Unlock()

		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if f.superseded {
			continue
		}
		if f.err == nil {
			return cloneLayouts(f.layouts), nil
		}

		return c.fallback(f.err)
	}
}

func (c *Cache) fallback(err error) ([]models.Layout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fetched {
		return nil, err
	}
	c.logger.Warn("layout fetch failed, serving stale copy", "error", err, "fetched_at", c.fetchedAt)
	return cloneLayouts(c.layouts), &StaleError{Err: err, FetchedAt: c.fetchedAt}
}

func (c *Cache) startLocked() *call {
	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	f := &call{done: make(chan struct{}), cancel: cancel}
	c.flight = f

	go func() {
		layouts, err := c.fetch(ctx)
		cancel()

		c.mu.Lock()
		if c.flight == f {
			c.flight = nil
			if err == nil {
				c.layouts = layouts
				c.fetched = true
				c.fetchedAt = c.now()
				c.expiry = c.fetchedAt.Add(c.ttl)
				c.stale = false
				c.needsRefresh = false
			}
		} else {
			f.superseded = true
		}
		f.layouts, f.err = layouts, err
		c.mu.Unlock()

		close(f.done)
	}()

	return f
}

// Invalidate marks the copy stale. The data is kept as a fallback and any
// fetch in flight is abandoned.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
	c.supersedeLocked()
}

// RequestRefresh asks for a refetch regardless of TTL. Only admin caches
// honor it while their copy is still valid.
func (c *Cache) RequestRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.needsRefresh = true
	c.supersedeLocked()
}

func (c *Cache) supersedeLocked() {
	if c.flight == nil {
		return
	}
	c.flight.cancel()
	c.flight = nil
}

// Follow invalidates the cache for every event received until ctx is done
// or events is closed.
func (c *Cache) Follow(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.logger.Debug("invalidating on event", "layout_id", e.LayoutID, "kind", e.Kind)
			c.Invalidate()
		}
	}
}

func cloneLayouts(in []models.Layout) []models.Layout {
	if in == nil {
		return []models.Layout{}
	}
	out := make([]models.Layout, len(in))
	for i := range in {
		out[i] = in[i]
		out[i].Sections = cloneSections(in[i].Sections)
		if in[i].Versions != nil {
			out[i].Versions = make([]models.Version, len(in[i].Versions))
			for j := range in[i].Versions {
				out[i].Versions[j] = in[i].Versions[j]
				out[i].Versions[j].Sections = cloneSections(in[i].Versions[j].Sections)
			}
		}
	}
	return out
}

func cloneSections(in []models.Section) []models.Section {
	if in == nil {
		return nil
	}
	out := make([]models.Section, len(in))
	for i := range in {
		out[i] = in[i]
		if in[i].Content != nil {
			out[i].Content = append(json.RawMessage(nil), in[i].Content...)
		}
	}
	return out
}
