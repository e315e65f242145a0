// Package broadcaster fans validation events out to watch subscribers.
package broadcaster

import (
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/qtune/pkg/qtune/validate"
)

// EventType says what happened to a document.
type EventType int

const (
	// EventValidated is sent after a document was (re)validated.
	EventValidated EventType = iota
	// EventRemoved is sent when a watched document disappears.
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventValidated:
		return "validated"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers.
type Event struct {
	Type EventType
	Path string
	Time time.Time

	// Report is nil for EventRemoved.
	Report *validate.Report

	// SnapshotID is set when the change produced a new snapshot.
	SnapshotID string
}

// subscriberBuffer is the per-subscriber queue length. Events beyond it are
// dropped and counted.
const subscriberBuffer = 100

// Subscriber receives the events for documents under Root.
type Subscriber struct {
	ID     string
	Root   string
	Events chan *Event

	dropped atomic.Int64
}

// Dropped returns how many events did not fit the subscriber's queue.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// Broadcaster tracks subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
}

// New returns an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string]*Subscriber)}
}

// Subscribe registers interest in documents under root. It returns nil
// after Close.
func (b *Broadcaster) Subscribe(root string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	sub := &Subscriber{
		ID:     uuid.NewString(),
		Root:   filepath.Clean(root),
		Events: make(chan *Event, subscriberBuffer),
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// Publish delivers ev to every subscriber whose root contains ev.Path.
// Publish never blocks.
func (b *Broadcaster) Publish(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	for _, sub := range b.subscribers {
		if !under(ev.Path, sub.Root) {
			continue
		}
		select {
		case sub.Events <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

func under(path, root string) bool {
	if path == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// Close closes every subscription. Later Subscribe calls return nil.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.Events)
	}
	b.subscribers = make(map[string]*Subscriber)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
