package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/pageforge/internal/metrics"
)

// EventLayoutsChanged is the only event name on the bus.
const EventLayoutsChanged = "layouts-changed"

// Kind describes which write produced an event
type Kind string

const (
	KindCreated      Kind = "created"
	KindUpdated      Kind = "updated"
	KindMetadata     Kind = "metadata"
	KindVersionSaved Kind = "version_saved"
	KindReverted     Kind = "reverted"
	KindDeleted      Kind = "deleted"
)

// Event signals that cached layout data is stale. LayoutID is advisory;
// consumers may invalidate everything.
type Event struct {
	Type     string    `json:"type"`
	LayoutID string    `json:"layout_id,omitempty"`
	Kind     Kind      `json:"kind,omitempty"`
	Origin   string    `json:"origin,omitempty"`
	At       time.Time `json:"at"`

	sender string
}

// SubscribeOptions scope a subscription
type SubscribeOptions struct {
	// Origin limits delivery to events raised from the same origin.
	// Empty receives everything.
	Origin string
	// Name identifies the subscriber so its own events are not echoed back.
	Name   string
	Buffer int
}

// Subscription receives events on C until Close is called
type Subscription struct {
	C <-chan Event

	ch     chan Event
	id     uint64
	origin string
	name   string
	bus    *Bus
	once   sync.Once
}

// Close unsubscribes and closes C
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

// Bus is a best-effort in-process fan-out of invalidation events.
// Slow subscribers lose events instead of blocking publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	logger *slog.Logger
}

// New creates an empty bus
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

// Subscribe registers a new subscriber
func (b *Bus) Subscribe(opts SubscribeOptions) *Subscription {
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}

	ch := make(chan Event, opts.Buffer)
	sub := &Subscription{
		C:      ch,
		ch:     ch,
		origin: opts.Origin,
		name:   opts.Name,
		bus:    b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return sub
	}

	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish delivers e to every matching subscriber and returns how many
// received it.
func (b *Bus) Publish(e Event) int {
	if e.Type == "" {
		e.Type = EventLayoutsChanged
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}

	delivered := 0
	for _, sub := range b.subs {
		if !sub.accepts(e) {
			continue
		}
		select {
		case sub.ch <- e:
			delivered++
		default:
			metrics.IncBusEventsDropped()
			if b.logger != nil {
				b.logger.Debug("dropping event for slow subscriber", "subscriber", sub.name, "layout_id", e.LayoutID)
			}
		}
	}

	metrics.IncBusEventsPublished(string(e.Kind))
	return delivered
}

func (s *Subscription) accepts(e Event) bool {
	if s.name != "" && e.sender == s.name {
		return false
	}
	if s.origin == "" || e.Origin == "" {
		return true
	}
	return s.origin == e.Origin
}

// Len returns the number of active subscribers
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription; later publishes are ignored
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

type ctxKey struct{}

// WithOrigin tags ctx with the origin of the writer
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, ctxKey{}, origin)
}

// OriginFromContext returns the origin set by WithOrigin
func OriginFromContext(ctx context.Context) string {
	origin, _ := ctx.Value(ctxKey{}).(string)
	return origin
}
