package storage

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// BoundedView is a live, read-through restriction of a Source to the
// descendants of a root context (inclusive). It holds no copies of the data:
// reads go to the parent and are filtered by membership.
//
// Membership is the primary-parent closure: a context belongs to the view when
// following its first "up" association repeatedly reaches the root.
//
// The view subscribes to its parent and re-evaluates membership for every
// structural event before forwarding the events that touch it to its own
// subscribers. Propagation is synchronous, so a view never observes a child
// before the association that places it under the root.
//
// When the root itself is removed, the view becomes orphaned: it forwards the
// ContextRemoved event, detaches from its parent, and reports ErrViewOrphaned
// from reads afterwards.
//
// Example:
//
//	view, err := g.DeriveSubgraph("health")
//	if err != nil {
//		return err
//	}
//	defer view.Close()
//
//	unsubscribe := view.Subscribe(func(ev storage.Event) {
//		log.Printf("%s %s", ev.Kind, ev.ContextID)
//	})
//	defer unsubscribe()
type BoundedView struct {
	parent Source
	root   ContextID
	logger *zap.Logger

	mu       sync.RWMutex
	members  map[ContextID]bool
	orphaned bool
	closed   bool

	events      notifier
	unsubscribe func()
}

// DeriveSubgraph returns a live view of root and its descendants.
func (g *Graph) DeriveSubgraph(root ContextID) (*BoundedView, error) {
	return newBoundedView(g, root, g.logger)
}

// DeriveSubgraph returns a nested view. root must be a member of v.
func (v *BoundedView) DeriveSubgraph(root ContextID) (*BoundedView, error) {
	if !v.HasContext(root) {
		if v.Orphaned() {
			return nil, ErrViewOrphaned
		}
		return nil, fmt.Errorf("derive %s: %w", root, ErrOutsideView)
	}
	return newBoundedView(v, root, v.logger)
}

func newBoundedView(parent Source, root ContextID, logger *zap.Logger) (*BoundedView, error) {
	if root == "" {
		return nil, ErrInvalidID
	}
	if !parent.HasContext(root) {
		return nil, fmt.Errorf("derive %s: %w", root, ErrNotFound)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	v := &BoundedView{
		parent: parent,
		root:   root,
		logger: logger.With(zap.String("view_root", string(root))),
	}
	v.members = v.computeMembers()
	v.unsubscribe = parent.Subscribe(v.onEvent)
	return v, nil
}

// Root returns the view's root context id.
func (v *BoundedView) Root() ContextID {
	return v.root
}

// Orphaned reports whether the root has been removed from the parent.
func (v *BoundedView) Orphaned() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.orphaned
}

// Len returns the number of member contexts.
func (v *BoundedView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.members)
}

// Close detaches the view from its parent. Subscribers receive nothing
// further. Close is idempotent.
func (v *BoundedView) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	unsubscribe := v.unsubscribe
	v.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return nil
}

// ============================================================================
// Source implementation
// ============================================================================

// GetContext returns a copy of a member context.
func (v *BoundedView) GetContext(id ContextID) (*Context, error) {
	v.mu.RLock()
	orphaned, member := v.orphaned, v.members[id]
	v.mu.RUnlock()

	if orphaned {
		return nil, ErrViewOrphaned
	}
	if !member {
		return nil, fmt.Errorf("context %s: %w", id, ErrOutsideView)
	}
	return v.parent.GetContext(id)
}

// HasContext reports whether id is a member of the view.
func (v *BoundedView) HasContext(id ContextID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.members[id]
}

// Contains is an alias of HasContext.
func (v *BoundedView) Contains(id ContextID) bool {
	return v.HasContext(id)
}

// ContextIDs returns member ids in ascending order.
func (v *BoundedView) ContextIDs() []ContextID {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ids := make([]ContextID, 0, len(v.members))
	for id := range v.members {
		ids = append(ids, id)
	}
	sortContextIDs(ids)
	return ids
}

// Neighbors returns the member destinations of id's associations named name.
// Non-members have no neighbors.
func (v *BoundedView) Neighbors(id ContextID, name string) []ContextID {
	if !v.HasContext(id) {
		return nil
	}
	all := v.parent.Neighbors(id, name)

	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]ContextID, 0, len(all))
	for _, n := range all {
		if v.members[n] {
			out = append(out, n)
		}
	}
	return out
}

// Points returns the points of a member context.
func (v *BoundedView) Points(id ContextID) []*Point {
	if !v.HasContext(id) {
		return nil
	}
	return v.parent.Points(id)
}

// Subscribe registers fn for the events that touch this view.
func (v *BoundedView) Subscribe(fn Listener) func() {
	return v.events.subscribe(fn)
}

// Notify delivers ev to the view's subscribers.
func (v *BoundedView) Notify(ev Event) {
	v.events.emit(ev)
}

// ============================================================================
// Propagation
// ============================================================================

func (v *BoundedView) computeMembers() map[ContextID]bool {
	members := make(map[ContextID]bool)
	for _, id := range v.parent.ContextIDs() {
		ok, err := IsDescendantOf(v.parent, id, v.root)
		if err != nil {
			v.logger.Warn("excluding context from view",
				zap.String("context_id", string(id)),
				zap.Error(err))
			continue
		}
		if ok {
			members[id] = true
		}
	}
	return members
}

func (v *BoundedView) onEvent(ev Event) {
	v.mu.Lock()
	if v.closed || v.orphaned {
		v.mu.Unlock()
		return
	}

	if ev.Kind == ContextRemoved && ev.ContextID == v.root {
		v.orphaned = true
		v.members = make(map[ContextID]bool)
		unsubscribe := v.unsubscribe
		v.mu.Unlock()

		v.logger.Info("view orphaned")
		v.events.emit(ev)
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}

	before := v.members
	after := before
	switch ev.Kind {
	case ContextAdded, ContextRemoved, AssociationAdded, AssociationRemoved:
		after = v.computeMembers()
		v.members = after
	}
	v.mu.Unlock()

	var out []Event
	// Contexts entering the view are announced before the triggering event
	for _, id := range diffMembers(after, before) {
		if ev.Kind == ContextAdded && ev.ContextID == id {
			continue
		}
		c, err := v.parent.GetContext(id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			v.logger.Warn("reading entering context", zap.String("context_id", string(id)), zap.Error(err))
		}
		out = append(out, Event{Kind: ContextAdded, ContextID: id, Context: c})
	}

	if touches(ev, before, after) {
		out = append(out, ev)
	}

	// Contexts leaving the view are announced after it
	for _, id := range diffMembers(before, after) {
		if ev.Kind == ContextRemoved && ev.ContextID == id {
			continue
		}
		out = append(out, Event{Kind: ContextRemoved, ContextID: id})
	}

	v.events.emit(out...)
}

// touches reports whether ev concerns a context that is a member before or
// after the event was applied.
func touches(ev Event, before, after map[ContextID]bool) bool {
	in := func(id ContextID) bool { return before[id] || after[id] }

	switch ev.Kind {
	case AssociationAdded:
		return ev.Association != nil && after[ev.Association.SourceID] && after[ev.Association.DestID]
	case AssociationRemoved:
		return ev.Association != nil && in(ev.Association.SourceID) && in(ev.Association.DestID)
	case ScoresUpdated:
		return in(ev.Focus)
	}
	return in(ev.ContextID)
}

// diffMembers returns ids in a but not in b, in ascending order.
func diffMembers(a, b map[ContextID]bool) []ContextID {
	var out []ContextID
	for id := range a {
		if !b[id] {
			out = append(out, id)
		}
	}
	sortContextIDs(out)
	return out
}
