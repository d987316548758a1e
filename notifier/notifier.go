// Package notifier fans out "diagram changed" pings to live-update streams.
package notifier

import (
	"sync"
	"sync/atomic"
)

// Notifier broadcasts pings to every subscriber. A ping carries no payload;
// subscribers re-read the diagram snapshot when they receive one. Pings
// coalesce: a subscriber that has not consumed the previous ping misses
// nothing, since the next read sees the latest state anyway.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[chan struct{}]struct{}
	closed    bool
	revision  atomic.Uint64
}

// New creates a Notifier.
func New() *Notifier {
	return &Notifier{listeners: make(map[chan struct{}]struct{})}
}

// Subscribe registers a listener. The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once. Subscribing to a
// closed Notifier returns an already closed channel.
func (n *Notifier) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if _, ok := n.listeners[ch]; ok {
				delete(n.listeners, ch)
				close(ch)
			}
		})
	}
}

// Broadcast pings every listener without blocking and returns the new
// revision number.
func (n *Notifier) Broadcast() uint64 {
	rev := n.revision.Add(1)

	n.mu.RLock()
	defer n.mu.RUnlock()
	for ch := range n.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return rev
}

// Revision returns the number of broadcasts so far.
func (n *Notifier) Revision() uint64 {
	return n.revision.Load()
}

// Len returns the number of subscribers.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Close closes every subscriber channel, ending their streams.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for ch := range n.listeners {
		close(ch)
		delete(n.listeners, ch)
	}
}
