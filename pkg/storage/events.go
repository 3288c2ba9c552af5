package storage

import (
	"sort"
	"sync"
)

// EventKind identifies the mutation an Event describes.
type EventKind int

const (
	ContextAdded EventKind = iota + 1
	ContextChanged
	ContextRemoved
	AssociationAdded
	AssociationRemoved
	PointAdded
	PointRemoved
	// ScoresUpdated is emitted once after a full Scorer traversal.
	ScoresUpdated
)

func (k EventKind) String() string {
	switch k {
	case ContextAdded:
		return "context_added"
	case ContextChanged:
		return "context_changed"
	case ContextRemoved:
		return "context_removed"
	case AssociationAdded:
		return "association_added"
	case AssociationRemoved:
		return "association_removed"
	case PointAdded:
		return "point_added"
	case PointRemoved:
		return "point_removed"
	case ScoresUpdated:
		return "scores_updated"
	}
	return "unknown"
}

// Event describes one applied mutation. Only the fields relevant to Kind are
// set. Context and Point are copies owned by the receiver.
type Event struct {
	Kind        EventKind
	ContextID   ContextID
	Context     *Context
	Association *Association
	Point       *Point
	// Focus is the traversal origin for ScoresUpdated.
	Focus ContextID
}

// Listener receives events synchronously. Listeners may read from the source
// that notified them but must not mutate it from inside the callback.
type Listener func(Event)

// notifier fans events out to listeners in subscription order.
type notifier struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
}

func (n *notifier) subscribe(fn Listener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listeners == nil {
		n.listeners = make(map[int]Listener)
	}
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) snapshot() []Listener {
	n.mu.Lock()
	defer n.mu.Unlock()

	ids := make([]int, 0, len(n.listeners))
	for id := range n.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, n.listeners[id])
	}
	return out
}

func (n *notifier) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	listeners := n.snapshot()
	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}
