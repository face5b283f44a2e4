// Package sse implements a Server-Sent Events broker that announces post
// collection changes.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Event types sent to clients.
const (
	PostCreated        = "post.created"
	PostUpdated        = "post.updated"
	PostDeleted        = "post.deleted"
	CollectionReloaded = "collection.reloaded"
)

// postEventTypes maps watcher change kinds to event types.
var postEventTypes = map[string]string{
	"created": PostCreated,
	"updated": PostUpdated,
	"deleted": PostDeleted,
}

// clientBuffer is how many frames a subscriber may fall behind before
// further frames to it are dropped.
const clientBuffer = 64

// Event is one message for subscribers. Data is sent as JSON.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Subscription is one connected client. Frames arrive on C, which is
// closed by Unsubscribe or Broker.Close.
type Subscription struct {
	C  <-chan []byte
	ch chan []byte
}

// Broker fans events out to subscribers. collection.reloaded is sent at
// most once per throttle window.
type Broker struct {
	throttle time.Duration
	now      func() time.Time

	mu         sync.Mutex
	subs       map[*Subscription]struct{}
	lastReload time.Time
	closed     bool
}

// NewBroker creates a broker that sends at most one collection.reloaded
// per reloadThrottle.
func NewBroker(reloadThrottle time.Duration) *Broker {
	if reloadThrottle <= 0 {
		reloadThrottle = 2 * time.Second
	}
	return &Broker{
		throttle: reloadThrottle,
		now:      time.Now,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a client. After Close it returns an already closed
// subscription.
func (b *Broker) Subscribe() *Subscription {
	ch := make(chan []byte, clientBuffer)
	sub := &Subscription{C: ch, ch: ch}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a client and closes its channel. Unknown or already
// removed subscriptions are ignored.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close disconnects every client. Later publishes are dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	clear(b.subs)
}

// Publish sends an event to all clients. A collection.reloaded event is
// subject to the throttle.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ev.Type == CollectionReloaded {
		b.reloadLocked()
		return
	}
	b.sendLocked(ev)
}

// PublishReload announces a rebuilt collection, subject to the throttle.
func (b *Broker) PublishReload() {
	b.Publish(Event{Type: CollectionReloaded})
}

// PublishPostEvent sends the post change for kind ("created", "updated"
// or "deleted") followed by a throttled collection.reloaded. Unknown kinds
// are ignored.
func (b *Broker) PublishPostEvent(kind, id, path string) {
	typ, ok := postEventTypes[kind]
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendLocked(Event{Type: typ, Data: map[string]string{"id": id, "path": path}})
	b.reloadLocked()
}

func (b *Broker) reloadLocked() {
	now := b.now()
	if !b.lastReload.IsZero() && now.Sub(b.lastReload) < b.throttle {
		return
	}
	b.lastReload = now
	b.sendLocked(Event{Type: CollectionReloaded, Data: struct{}{}})
}

// sendLocked never blocks: a client with a full buffer misses the frame.
func (b *Broker) sendLocked(ev Event) {
	if b.closed || len(b.subs) == 0 {
		return
	}
	frame, err := encode(ev)
	if err != nil {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- frame:
		default:
		}
	}
}

func encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("sse: encode %s: %w", ev.Type, err)
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", ev.Type, data), nil
}

// ServeHTTP streams events to one client until it disconnects or the
// broker closes.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-sub.C:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
