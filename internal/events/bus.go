// internal/events/bus.go

package events

import (
    "log"
    "sync"
)

// Handler receives the payload published under the event name it subscribed to.
type Handler func(payload interface{})

// Bus is a typed publish/subscribe registry. It is the sole seam between the
// transport adapter (the only publisher) and business-logic consumers.
//
// A Bus is an explicitly constructed, injected instance: create one at app
// start, Close it on teardown. Handlers for the same event run in
// subscription order, and a panicking handler does not prevent later
// handlers from running.
type Bus struct {
    mu     sync.Mutex
    subs   map[string][]*Subscription
    closed bool
}

// Subscription is the cancellation handle returned by Subscribe.
// Cancel is guaranteed to detach at most once and is safe to call repeatedly.
type Subscription struct {
    bus     *Bus
    event   string
    handler Handler
    once    sync.Once
}

// New creates an empty Bus.
func New() *Bus {
    return &Bus{
        subs: make(map[string][]*Subscription),
    }
}

// Subscribe registers handler for event and returns its cancellation handle.
func (b *Bus) Subscribe(event string, handler Handler) *Subscription {
    sub := &Subscription{
        bus:     b,
        event:   event,
        handler: handler,
    }

    b.mu.Lock()
    defer b.mu.Unlock()

    if b.closed {
        // Subscribing to a closed bus yields an inert handle.
        sub.once.Do(func() {})
        return sub
    }
    b.subs[event] = append(b.subs[event], sub)
    return sub
}

// Cancel detaches the subscription. Idempotent.
func (s *Subscription) Cancel() {
    s.once.Do(func() {
        s.bus.remove(s)
    })
}

func (b *Bus) remove(target *Subscription) {
    b.mu.Lock()
    defer b.mu.Unlock()

    list := b.subs[target.event]
    for i, sub := range list {
        if sub == target {
            b.subs[target.event] = append(list[:i:i], list[i+1:]...)
            return
        }
    }
}

// Publish invokes every handler registered for event, in subscription order.
// Only the transport adapter publishes; consumers never do.
func (b *Bus) Publish(event string, payload interface{}) {
    b.mu.Lock()
    if b.closed {
        b.mu.Unlock()
        log.Printf("events: publish %q on closed bus dropped", event)
        return
    }
    // Snapshot so handlers may subscribe/cancel without deadlocking.
    list := make([]*Subscription, len(b.subs[event]))
    copy(list, b.subs[event])
    b.mu.Unlock()

    for _, sub := range list {
        b.invoke(event, sub, payload)
    }
}

func (b *Bus) invoke(event string, sub *Subscription, payload interface{}) {
    defer func() {
        if r := recover(); r != nil {
            log.Printf("events: handler for %q panicked: %v", event, r)
        }
    }()
    sub.handler(payload)
}

// Close drops every subscription. Publish becomes a logged no-op.
func (b *Bus) Close() {
    b.mu.Lock()
    defer b.mu.Unlock()
    b.closed = true
    b.subs = make(map[string][]*Subscription)
}
