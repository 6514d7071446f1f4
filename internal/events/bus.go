package events

import (
	"sync"
	"time"

	"musterd/pkg/logging"
)

const subscriberBuffer = 64

// Bus is an in-process fan-out broadcaster. Publish never blocks: a
// subscriber whose buffer is full has its event dropped, not the
// publisher stalled waiting on a slow reader.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
}

// NewBus builds an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe func. Callers must drain the channel or call unsubscribe to
// avoid leaking it in the subscriber map.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Publish constructs an Event (stamping Timestamp and Type) and fans it out
// to every current subscriber.
func (b *Bus) Publish(component, serverID string, reason Reason, message string, data map[string]interface{}) {
	evt := Event{
		Timestamp: time.Now(),
		Reason:    reason,
		Type:      typeFor(reason),
		Component: component,
		ServerID:  serverID,
		Message:   message,
		Data:      data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			logging.Warn("events", "dropping event %s for slow subscriber", evt.Reason)
		}
	}

	if evt.Type == TypeWarning {
		logging.Warn(component, "%s: %s", evt.Reason, message)
	} else {
		logging.Debug(component, "%s: %s", evt.Reason, message)
	}
}

// SubscriberCount reports the number of active subscribers, mainly for
// tests and diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
