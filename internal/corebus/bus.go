// Package corebus is a small in-process publish/subscribe hub used to fan
// transition events out to local subscribers (the httpapi websocket bridge),
// independent of whether the NATS notify.Publisher is enabled. Grounded on
// the teacher's pkg/core eventBus.Publish/Consumer semantics: per-address
// subscriber lists, a bounded per-subscriber mailbox, and non-blocking
// publish that drops delivery to a full subscriber rather than stalling the
// publisher.
package corebus

import "sync"

const mailboxSize = 32

// Bus fans out published values to every current subscriber of an address.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*Subscription)}
}

// Subscription is a bounded channel of values published to one address.
type Subscription struct {
	address string
	bus     *Bus
	ch      chan interface{}
}

// C returns the channel to receive published values on.
func (s *Subscription) C() <-chan interface{} { return s.ch }

// Unsubscribe removes the subscription from its bus and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	list := s.bus.subs[s.address]
	for i, sub := range list {
		if sub == s {
			s.bus.subs[s.address] = append(list[:i], list[i+1:]...)
			break
		}
	}
	close(s.ch)
}

// Subscribe registers a new subscription for address.
func (b *Bus) Subscribe(address string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{address: address, bus: b, ch: make(chan interface{}, mailboxSize)}
	b.subs[address] = append(b.subs[address], sub)
	return sub
}

// Publish fans value out to every current subscriber of address.
// Non-blocking: a subscriber whose mailbox is full is skipped, matching the
// teacher's ErrMailboxFull-skip behavior rather than applying backpressure
// to the publisher.
func (b *Bus) Publish(address string, value interface{}) {
	b.mu.RLock()
	subs := append([]*Subscription(nil), b.subs[address]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- value:
		default:
		}
	}
}

// SubscriberCount reports how many subscriptions are active for address,
// used by diagnostics and tests.
func (b *Bus) SubscriberCount(address string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[address])
}
