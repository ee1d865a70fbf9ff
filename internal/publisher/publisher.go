// Package publisher fans event deltas out to streaming subscribers. A
// subscription is handed its starting snapshot atomically with its
// registration, so a client applying the delta stream on top of that
// snapshot converges with direct polling.
package publisher

import (
	"log/slog"
	"sync"

	"github.com/stormwatch-systems/stormwatch/internal/metrics"
	"github.com/stormwatch-systems/stormwatch/pkg/model"
)

// DefaultBuffer is the per-subscriber delta backlog before the subscriber
// is considered too slow and dropped.
const DefaultBuffer = 256

// Subscription is one streaming client's delta feed. The channel is closed
// when the subscriber unsubscribes or falls too far behind.
type Subscription struct {
	ch     chan model.EventDelta
	closed bool
}

// Deltas returns the subscriber's delta channel.
func (s *Subscription) Deltas() <-chan model.EventDelta { return s.ch }

// Publisher broadcasts deltas to all live subscriptions.
type Publisher struct {
	snapshot func() []*model.AttackEvent
	buffer   int
	log      *slog.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New creates a Publisher. snapshot is invoked under the publisher's lock
// during Subscribe; it must not call back into the publisher.
func New(snapshot func() []*model.AttackEvent, buffer int, log *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Publisher{
		snapshot: snapshot,
		buffer:   buffer,
		log:      log,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber and returns it together with the
// snapshot it should start from. Registration and snapshot capture happen
// under one lock, so no delta published after the snapshot can be missed,
// and any delta already folded into the snapshot replays harmlessly.
func (p *Publisher) Subscribe() (*Subscription, []*model.AttackEvent) {
	sub := &Subscription{ch: make(chan model.EventDelta, p.buffer)}

	p.mu.Lock()
	snap := p.snapshot()
	p.subs[sub] = struct{}{}
	metrics.Subscribers.Set(float64(len(p.subs)))
	p.mu.Unlock()

	return sub, snap
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call
// more than once.
func (p *Publisher) Unsubscribe(sub *Subscription) {
	p.mu.Lock()
	p.dropLocked(sub)
	metrics.Subscribers.Set(float64(len(p.subs)))
	p.mu.Unlock()
}

func (p *Publisher) dropLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(p.subs, sub)
	close(sub.ch)
}

// Publish delivers the deltas to every subscriber without blocking. A
// subscriber whose backlog is full is dropped rather than allowed to stall
// the pipeline; its closed channel tells the transport to hang up.
func (p *Publisher) Publish(deltas []model.EventDelta) {
	if len(deltas) == 0 {
		return
	}

	p.mu.Lock()
	var dropped int
	for sub := range p.subs {
		for i, d := range deltas {
			select {
			case sub.ch <- d:
				continue
			default:
			}
			p.log.Warn("dropping slow subscriber", "backlog", p.buffer, "undelivered", len(deltas)-i)
			p.dropLocked(sub)
			dropped++
			break
		}
	}
	if dropped > 0 {
		metrics.Subscribers.Set(float64(len(p.subs)))
	}
	p.mu.Unlock()

	if dropped > 0 {
		metrics.SlowSubscribersDropped.Add(float64(dropped))
	}
}

// SubscriberCount returns the number of live subscriptions.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
