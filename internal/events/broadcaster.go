// Package events broadcasts committed filesystem changes to SSE subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fruitsalade/tenantfs/internal/metrics"
)

const (
	EventCreate = "create"
	EventUpdate = "update"
	EventDelete = "delete"
)

// Event describes one committed change.
type Event struct {
	Type      string `json:"type"`
	Tenant    string `json:"tenant"`
	Path      string `json:"path"`
	Operation string `json:"operation"`
	ETag      string `json:"etag,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster fans events out to subscribers of the event's tenant.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]string
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]string),
	}
}

// Subscribe adds a subscriber for one tenant and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(tenant string) chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = tenant
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
}

// Publish sends an event to the tenant's subscribers. Non-blocking: drops
// events for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, tenant := range b.subscribers {
		if tenant != event.Tenant {
			continue
		}
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
	metrics.RecordEvent(event.Type)
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
