package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/desertthunder/nbx/internal/models"
)

// ErrSubscriptionClosed is returned by [Subscription.Next] after unsubscribing.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Subscription is one subscriber's event queue. The queue is unbounded so
// publishing never blocks and never drops events.
type Subscription struct {
	mu     sync.Mutex
	queue  []models.JobEvent
	signal chan struct{}
	closed bool
}

func newSubscription() *Subscription {
	return &Subscription{signal: make(chan struct{}, 1)}
}

func (s *Subscription) push(ev models.JobEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.notify()
}

func (s *Subscription) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

// Next blocks until an event is queued, ctx is done or the subscription is closed.
// Events queued before closing are still delivered.
func (s *Subscription) Next(ctx context.Context) (models.JobEvent, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = models.JobEvent{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return models.JobEvent{}, ErrSubscriptionClosed
		}

		select {
		case <-s.signal:
		case <-ctx.Done():
			return models.JobEvent{}, ctx.Err()
		}
	}
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// hub fans events out to subscriptions.
type hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*Subscription]struct{})}
}

func (h *hub) add(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}
}

func (h *hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.close()
}

func (h *hub) publish(ev models.JobEvent) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.push(ev)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscription]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.close()
	}
}
