// Package events fans out update status events to subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fruitsalade/deltaupdate/internal/metrics"
)

const (
	StatusInit        = "init"
	StatusDownloading = "downloading"
	StatusFinished    = "finished"
	StatusFailed      = "failed"
)

// Event is one status update from an updater operation.
type Event struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Op        string `json:"op,omitempty"`
	CycleID   string `json:"cycle_id,omitempty"`
	Source    string `json:"source,omitempty"`
	Hash      string `json:"hash,omitempty"`
	Error     string `json:"error,omitempty"`
	Err       error  `json:"-"`
	Timestamp int64  `json:"timestamp"`
}

// Handler receives events synchronously, in publish order.
type Handler func(Event)

// Broadcaster manages subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	handlers    []Handler
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// OnEvent registers a handler that sees every event. Handlers run on the
// publishing goroutine and must not block for long.
func (b *Broadcaster) OnEvent(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish sends an event to all handlers and subscribers. Channel
// subscribers are non-blocking: events are dropped for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	if event.Err != nil && event.Error == "" {
		event.Error = event.Err.Error()
	}

	b.mu.RLock()
	handlers := b.handlers
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
	metrics.RecordEvent(event.Status)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
