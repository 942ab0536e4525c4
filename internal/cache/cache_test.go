package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxzi/pageforge/internal/bus"
	"github.com/foxzi/pageforge/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeFetcher returns the configured layouts or error and counts calls
type fakeFetcher struct {
	mu      sync.Mutex
	layouts []models.Layout
	err     error
	calls   int32
}

func (f *fakeFetcher) fetch(ctx context.Context) ([]models.Layout, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.layouts, f.err
}

func (f *fakeFetcher) set(layouts []models.Layout, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.layouts, f.err = layouts, err
}

func (f *fakeFetcher) count() int {
	return int(atomic.LoadInt32(&f.calls))
}

func layouts(ids ...string) []models.Layout {
	out := make([]models.Layout, len(ids))
	for i, id := range ids {
		out[i] = models.Layout{ID: id, Slug: id}
	}
	return out
}

func TestCache_StalenessBound(t *testing.T) {
	clock := newFakeClock()
	f := &fakeFetcher{layouts: layouts("home")}
	c := New(f.fetch, WithTTL(time.Minute), WithClock(clock.Now))

	if c.Valid() {
		t.Fatal("empty cache must not be valid")
	}
	if _, err := c.Layouts(context.Background()); err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Minute - time.Nanosecond)
	if !c.Valid() {
		t.Error("cache should be valid strictly before expiry")
	}

	clock.Advance(time.Nanosecond)
	if c.Valid() {
		t.Error("cache should be invalid at expiry")
	}
	if !c.ShouldFetch() {
		t.Error("expired cache should refetch")
	}
}

func TestCache_ServesFromCacheWhileValid(t *testing.T) {
	clock := newFakeClock()
	f := &fakeFetcher{layouts: layouts("home")}
	c := New(f.fetch, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.Layouts(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "home" {
			t.Fatalf("Layouts() = %+v", got)
		}
	}
	if f.count() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.count())
	}

	clock.Advance(DefaultTTL)
	if _, err := c.Layouts(ctx); err != nil {
		t.Fatal(err)
	}
	if f.count() != 2 {
		t.Errorf("fetch calls after expiry = %d, want 2", f.count())
	}
}

func TestCache_ShouldFetch(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()

	t.Run("admin refresh overrides valid ttl", func(t *testing.T) {
		f := &fakeFetcher{layouts: layouts("a")}
		c := New(f.fetch, WithClock(clock.Now), WithAdmin(true))
		if !c.ShouldFetch() {
			t.Error("never fetched should fetch")
		}
		if _, err := c.Layouts(ctx); err != nil {
			t.Fatal(err)
		}
		if c.ShouldFetch() {
			t.Error("valid cache should not fetch")
		}
		c.RequestRefresh()
		if !c.ShouldFetch() {
			t.Error("admin with needsRefresh should fetch")
		}
		if _, err := c.Layouts(ctx); err != nil {
			t.Fatal(err)
		}
		if c.ShouldFetch() {
			t.Error("refetch should clear needsRefresh")
		}
		if f.count() != 2 {
			t.Errorf("fetch calls = %d, want 2", f.count())
		}
	})

	t.Run("non-admin ignores refresh while valid", func(t *testing.T) {
		f := &fakeFetcher{layouts: layouts("a")}
		c := New(f.fetch, WithClock(clock.Now))
		if _, err := c.Layouts(ctx); err != nil {
			t.Fatal(err)
		}
		c.RequestRefresh()
		if c.ShouldFetch() {
			t.Error("non-admin should prefer the cached copy")
		}
	})

	t.Run("invalidate forces fetch", func(t *testing.T) {
		f := &fakeFetcher{layouts: layouts("a")}
		c := New(f.fetch, WithClock(clock.Now))
		if _, err := c.Layouts(ctx); err != nil {
			t.Fatal(err)
		}
		c.Invalidate()
		if c.Valid() || !c.ShouldFetch() {
			t.Error("invalidated cache should refetch")
		}
	})

	t.Run("empty collection is cached", func(t *testing.T) {
		f := &fakeFetcher{layouts: nil}
		c := New(f.fetch, WithClock(clock.Now))
		got, err := c.Layouts(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("Layouts() = %#v, want empty slice", got)
		}
		if c.ShouldFetch() {
			t.Error("a fetched empty collection is still valid")
		}
	})
}

func TestCache_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls int32

	fetch := func(ctx context.Context) ([]models.Layout, error) {
		atomic.AddInt32(&calls, 1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return layouts("home"), nil
	}
	c := New(fetch)

	const readers = 8
	var wg sync.WaitGroup
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Layouts(context.Background())
			if err == nil && len(got) != 1 {
				err = errors.New("unexpected result")
			}
			errs <- err
		}()
	}

	<-started
	if c.ShouldFetch() {
		t.Error("ShouldFetch must be false while fetching")
	}
	if !c.Fetching() {
		t.Error("expected a fetch in flight")
	}
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("reader error: %v", err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
}

func TestCache_StaleFallback(t *testing.T) {
	clock := newFakeClock()
	f := &fakeFetcher{layouts: layouts("home", "about")}
	c := New(f.fetch, WithClock(clock.Now))
	ctx := context.Background()

	if _, err := c.Layouts(ctx); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("store down")
	f.set(nil, boom)
	c.Invalidate()

	got, err := c.Layouts(ctx)
	var stale *StaleError
	if !errors.As(err, &stale) {
		t.Fatalf("err = %v, want *StaleError", err)
	}
	if !errors.Is(err, boom) {
		t.Error("StaleError should unwrap to the fetch error")
	}
	if len(got) != 2 {
		t.Errorf("stale data = %+v, want previous collection", got)
	}
	if c.Valid() {
		t.Error("failed refetch must not revalidate the cache")
	}
}

func TestCache_FirstFailureHasNoData(t *testing.T) {
	boom := errors.New("store down")
	f := &fakeFetcher{err: boom}
	c := New(f.fetch)

	got, err := c.Layouts(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	var stale *StaleError
	if errors.As(err, &stale) {
		t.Error("first failure must not be reported as stale")
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestCache_RefreshSupersedesInFlight(t *testing.T) {
	started := make(chan struct{}, 2)
	var calls int32

	fetch := func(ctx context.Context) ([]models.Layout, error) {
		n := atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		if n == 1 {
			<-ctx.Done()
			return layouts("old"), ctx.Err()
		}
		return layouts("new"), nil
	}
	c := New(fetch, WithAdmin(true))

	type result struct {
		layouts []models.Layout
		err     error
	}
	done := make(chan result, 1)
	go func() {
		got, err := c.Layouts(context.Background())
		done <- result{got, err}
	}()

	<-started
	c.RequestRefresh()

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Layouts() error = %v", r.err)
		}
		if len(r.layouts) != 1 || r.layouts[0].ID != "new" {
			t.Errorf("Layouts() = %+v, want the superseding fetch", r.layouts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not complete after supersede")
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("fetch calls = %d, want 2", n)
	}
}

func TestCache_CallerContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := New(func(ctx context.Context) ([]models.Layout, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Layouts(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCache_ReturnsCopies(t *testing.T) {
	f := &fakeFetcher{layouts: layouts("home")}
	c := New(f.fetch)

	got, err := c.Layouts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got[0].ID = "mutated"

	again, _ := c.Layouts(context.Background())
	if again[0].ID != "home" {
		t.Error("callers must not be able to mutate the cached collection")
	}
}

func TestCache_ReturnsDeepCopies(t *testing.T) {
	l := models.Layout{
		ID:   "home",
		Slug: "home",
		Sections: []models.Section{
			{ID: "hero", Type: "hero", Content: json.RawMessage(`{"t":"a"}`)},
		},
		Versions: []models.Version{
			{VersionID: "v1", Sections: []models.Section{{ID: "hero", Type: "hero"}}},
		},
	}
	f := &fakeFetcher{layouts: []models.Layout{l}}
	c := New(f.fetch)

	got, err := c.Layouts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got[0].Sections[0].Type = "mutated"
	got[0].Sections[0].Content[2] = 'x'
	got[0].Versions[0].Sections[0].ID = "mutated"

	again, err := c.Layouts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if again[0].Sections[0].Type != "hero" {
		t.Errorf("Sections[0].Type = %q, want hero", again[0].Sections[0].Type)
	}
	if string(again[0].Sections[0].Content) != `{"t":"a"}` {
		t.Errorf("Sections[0].Content = %s, want {\"t\":\"a\"}", again[0].Sections[0].Content)
	}
	if again[0].Versions[0].Sections[0].ID != "hero" {
		t.Errorf("Versions[0].Sections[0].ID = %q, want hero", again[0].Versions[0].Sections[0].ID)
	}
}

func TestCache_FollowInvalidates(t *testing.T) {
	f := &fakeFetcher{layouts: layouts("home")}
	c := New(f.fetch)
	if _, err := c.Layouts(context.Background()); err != nil {
		t.Fatal(err)
	}

	b := bus.New(nil)
	sub := b.Subscribe(bus.SubscribeOptions{Origin: "https://admin.example.com"})
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Follow(ctx, sub.C)
		close(stopped)
	}()

	b.Publish(bus.Event{LayoutID: "home", Kind: bus.KindVersionSaved, Origin: "https://admin.example.com"})

	deadline := time.Now().Add(time.Second)
	for c.Valid() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Valid() {
		t.Error("cache still valid after bus event")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Error("Follow did not stop on context cancel")
	}
}
