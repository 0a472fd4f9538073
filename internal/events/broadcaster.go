// Package events fans applied tree updates out to SSE subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fruitsalade/treemirror/internal/metrics"
	"github.com/fruitsalade/treemirror/pkg/protocol"
	"github.com/fruitsalade/treemirror/pkg/tree"
)

// BufferSize is the per-subscriber event buffer.
const BufferSize = 256

// Broadcaster manages SSE subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan protocol.UpdateEvent]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan protocol.UpdateEvent]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan protocol.UpdateEvent {
	ch := make(chan protocol.UpdateEvent, BufferSize)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan protocol.UpdateEvent) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
}

// Publish sends an event to all subscribers without blocking. A subscriber
// whose buffer is full misses the event and sees a version gap.
func (b *Broadcaster) Publish(event protocol.UpdateEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			metrics.RecordSSEDrop()
		}
	}
	metrics.RecordSSEEvent(event.Type)
}

// Observe publishes successfully applied updates. It has the shape of
// tree.Observer.
func (b *Broadcaster) Observe(r tree.Result) {
	if r.Err != nil {
		return
	}
	b.Publish(EventFor(r.Update, r.Version))
}

// EventFor converts an applied update into its wire event.
func EventFor(u tree.Update, version uint64) protocol.UpdateEvent {
	ev := protocol.UpdateEvent{
		Type:    protocol.EventUpsert,
		Path:    u.Path.String(),
		Entry:   u.Entry,
		Version: version,
	}
	if u.IsDelete() {
		ev.Type = protocol.EventDelete
	}
	return ev
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e protocol.UpdateEvent) ([]byte, error) {
	return json.Marshal(e)
}
