package bus

import (
	"sync"

	"github.com/jkaberg/hass-sensors/internal/sensors"
)

// Bus fans collector snapshots out to every subscriber. Each Subscribe call
// gets its own channel that receives future publications; past messages are
// not replayed. Safe for concurrent publishers and subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan *sensors.Snapshot
}

// New creates a ready-to-use Bus.
func New() *Bus { return &Bus{} }

// Subscribe returns a channel that receives all future snapshots.
func (b *Bus) Subscribe() <-chan *sensors.Snapshot {
	ch := make(chan *sensors.Snapshot, 1)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers s without blocking. A subscriber still busy with the
// previous snapshot skips this one and picks up the next.
func (b *Bus) Publish(s *sensors.Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}

// Close closes every subscriber channel. Publish must not be called after.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
