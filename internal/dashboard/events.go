package dashboard

import (
	"sync"
	"time"
)

// EventType names a discrete signal sent to the renderer.
type EventType string

const (
	EventSnapshotReplaced   EventType = "snapshot_replaced"
	EventInsightsRecomputed EventType = "insights_recomputed"
	EventMetricChanged      EventType = "metric_changed"
	EventClockTick          EventType = "clock_tick"
	EventNotification       EventType = "notification"
	EventLocked             EventType = "locked"
)

// Event is one renderer signal.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// MetricChange is the payload of EventMetricChanged.
type MetricChange struct {
	Field   string `json:"field"`
	Value   int    `json:"value"`
	Delta   int    `json:"delta"`
	Display string `json:"display"` // Value with thousands separators
}

// ClockTick is the payload of EventClockTick.
type ClockTick struct {
	Clock      string `json:"clock"`
	UptimeDays int    `json:"uptime_days"`
}

// Notification is the payload of EventNotification.
type Notification struct {
	Level   string `json:"level"` // "success" or "error"
	Message string `json:"message"`
}

const subscriberBuffer = 64

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[chan Event]struct{})}
}

// Publish broadcasts e to every subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel that receives events published from now on.
// Call Unsubscribe when done. On a closed bus the channel is already closed.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes ch. Safe to call after Close.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		close(ch)
	}
	clear(b.subscribers)
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
