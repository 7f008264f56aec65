// Package events delivers live pipeline progress to subscribers.
// Delivery is best-effort: slow subscribers lose events, and the store
// remains the source of truth.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/metrics"
	"github.com/sells-group/deep-research/internal/model"
)

// DefaultBuffer is the subscriber channel capacity used when none is given.
const DefaultBuffer = 64

// Publisher accepts progress events.
type Publisher interface {
	Publish(ev model.Event)
}

// Subscription receives events for one research run. C is closed when the
// subscription is closed or swept.
type Subscription struct {
	C <-chan model.Event

	ch   chan model.Event
	id   string
	reg  *Registry
	once sync.Once
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.reg.unsubscribe(s)
}

type entry struct {
	subs       map[*Subscription]struct{}
	lastActive time.Time
}

// Registry is an in-process fan-out of events keyed by research ID.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Subscribe registers a new subscriber for id.
func (r *Registry) Subscribe(id string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan model.Event, buffer)
	sub := &Subscription{C: ch, ch: ch, id: id, reg: r}

	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[id]
	if e == nil {
		e = &entry{subs: make(map[*Subscription]struct{})}
		r.entries[id] = e
	}
	e.subs[sub] = struct{}{}
	e.lastActive = r.now()
	return sub
}

// Publish delivers ev to every subscriber of ev.ResearchID without
// blocking. Events for runs without subscribers are discarded.
func (r *Registry) Publish(ev model.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now().UTC()
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[ev.ResearchID]
	if e == nil {
		return
	}
	e.lastActive = r.now()
	for sub := range e.subs {
		select {
		case sub.ch <- ev:
		default:
			metrics.EventsDropped.Inc()
			zap.L().Debug("events: subscriber buffer full, dropping event",
				zap.String("research_id", ev.ResearchID),
				zap.String("type", string(ev.Type)),
			)
		}
	}
}

// Subscribers returns the number of live subscribers for id.
func (r *Registry) Subscribers(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.entries[id]; e != nil {
		return len(e.subs)
	}
	return 0
}

func (r *Registry) unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(sub)
}

func (r *Registry) closeLocked(sub *Subscription) {
	sub.once.Do(func() {
		close(sub.ch)
	})
	e := r.entries[sub.id]
	if e == nil {
		return
	}
	delete(e.subs, sub)
	if len(e.subs) == 0 {
		delete(r.entries, sub.id)
	}
}

// GC closes subscribers of runs with no activity for longer than idle and
// returns how many runs were swept.
func (r *Registry) GC(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idle)
	swept := 0
	for id, e := range r.entries {
		if e.lastActive.After(cutoff) {
			continue
		}
		for sub := range e.subs {
			r.closeLocked(sub)
		}
		delete(r.entries, id)
		swept++
	}
	return swept
}

// Start runs GC every interval until ctx is done.
func (r *Registry) Start(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.GC(idle); n > 0 {
				zap.L().Info("events: swept idle subscriptions", zap.Int("runs", n))
			}
		}
	}
}
