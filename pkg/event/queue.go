package event

import (
	"fmt"
	"sync"

	"github.com/goccy/go-json"
)

// Store persists pending events across reload boundaries. The versioned
// cache satisfies this interface.
type Store interface {
	SetRaw(key string, value []byte)
	GetRaw(key string) ([]byte, bool)
}

// queueKey is the store key under which pending events are persisted.
const queueKey = "__livedoc.events"

// Queue is a thread-safe list of pending events. Events are pushed by the
// transport layer at arbitrary times and drained exactly once per
// scheduling pass. When a store is attached, the pending list is mirrored
// into it on every change so events raised between ticks survive a reload
// of the embedding session.
type Queue struct {
	mu     sync.Mutex
	events []Event
	store  Store
}

// NewQueue creates an empty event queue.
func NewQueue() *Queue { return &Queue{} }

// Bind attaches a persistence store and restores any events a previous
// session left unprocessed.
func (q *Queue) Bind(store Store) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.store = store
	raw, ok := store.GetRaw(queueKey)
	if !ok || len(raw) == 0 {
		return nil
	}
	var restored []Event
	if err := json.Unmarshal(raw, &restored); err != nil {
		return fmt.Errorf("restore event queue: %w", err)
	}
	q.events = append(restored, q.events...)
	return nil
}

// Push appends an event to the pending list.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	q.persistLocked()
}

// Drain removes and returns all pending events. Each event is returned by
// exactly one Drain call.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	q.persistLocked()
	return out
}

// Snapshot returns a copy of the pending events without consuming them.
func (q *Queue) Snapshot() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Event(nil), q.events...)
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *Queue) persistLocked() {
	if q.store == nil {
		return
	}
	raw, err := json.Marshal(q.events)
	if err != nil {
		return
	}
	q.store.SetRaw(queueKey, raw)
}
