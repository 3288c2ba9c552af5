package storage

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Graph is the full in-memory context graph.
//
// Features:
//   - Idempotent association upsert/delete keyed by (source, name, dest)
//   - Insertion-ordered adjacency, so the primary parent is well defined
//   - Cascading removal: removing a context drops its associations and points
//   - Synchronous change notifications, delivered in mutation order
//
// Performance Characteristics:
//   - Context lookup by ID: O(1)
//   - Outgoing/incoming associations: O(degree)
//   - Points for a context: O(k log k) where k = points on that context
//
// Example:
//
//	g := storage.NewGraph(storage.WithLogger(logger))
//	defer g.Close()
//
//	g.AddContext(&storage.Context{ID: "root"})
//	g.AddChild("root", &storage.Context{ID: "reading"})
//	g.AddChild("root", &storage.Context{ID: "writing"})
//
//	fmt.Println(g.Neighbors("root", storage.Down)) // [reading writing]
type Graph struct {
	mu sync.RWMutex
	// writeMu serializes mutate-then-notify so listeners observe events in
	// the order mutations were applied.
	writeMu sync.Mutex

	contexts map[ContextID]*Context
	assocs   map[AssociationKey]*Association
	assocSeq map[AssociationKey]uint64
	nextSeq  uint64

	// Indexes, kept in insertion order
	outgoing map[ContextID][]AssociationKey
	incoming map[ContextID][]AssociationKey

	points          map[PointID]*Point
	pointsByContext map[ContextID]map[PointID]struct{}

	events notifier
	logger *zap.Logger
	closed bool
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used for structural anomalies.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger.Named("graph")
		}
	}
}

// NewGraph creates an empty graph.
func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		contexts:        make(map[ContextID]*Context),
		assocs:          make(map[AssociationKey]*Association),
		assocSeq:        make(map[AssociationKey]uint64),
		outgoing:        make(map[ContextID][]AssociationKey),
		incoming:        make(map[ContextID][]AssociationKey),
		points:          make(map[PointID]*Point),
		pointsByContext: make(map[ContextID]map[PointID]struct{}),
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Logger returns the graph's logger.
func (g *Graph) Logger() *zap.Logger {
	return g.logger
}

// apply runs fn under the write lock and then delivers the events it
// produced. Nothing is delivered when fn fails.
func (g *Graph) apply(fn func() ([]Event, error)) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrStorageClosed
	}
	events, err := fn()
	g.mu.Unlock()
	if err != nil {
		return err
	}

	g.events.emit(events...)
	return nil
}

// ============================================================================
// Contexts
// ============================================================================

// AddContext inserts a root context. The context is deep-copied.
func (g *Graph) AddContext(c *Context) error {
	if c == nil {
		return ErrInvalidData
	}
	if c.ID == "" {
		return ErrInvalidID
	}
	return g.apply(func() ([]Event, error) {
		if _, exists := g.contexts[c.ID]; exists {
			return nil, fmt.Errorf("context %s: %w", c.ID, ErrAlreadyExists)
		}
		stored := c.copy()
		g.contexts[c.ID] = stored
		return []Event{{Kind: ContextAdded, ContextID: c.ID, Context: stored.copy()}}, nil
	})
}

// AddChild inserts child and links it under parentID with the mirrored
// ("down", "up") association pair, as one mutation.
func (g *Graph) AddChild(parentID ContextID, child *Context) error {
	if child == nil {
		return ErrInvalidData
	}
	if child.ID == "" || parentID == "" {
		return ErrInvalidID
	}
	return g.apply(func() ([]Event, error) {
		if _, exists := g.contexts[parentID]; !exists {
			return nil, fmt.Errorf("parent %s: %w", parentID, ErrNotFound)
		}
		if _, exists := g.contexts[child.ID]; exists {
			return nil, fmt.Errorf("context %s: %w", child.ID, ErrAlreadyExists)
		}
		stored := child.copy()
		g.contexts[child.ID] = stored

		events := []Event{{Kind: ContextAdded, ContextID: child.ID, Context: stored.copy()}}
		events = append(events, g.linkLocked(parentID, child.ID)...)
		return events, nil
	})
}

// UpdateContext replaces the attributes of an existing context.
func (g *Graph) UpdateContext(c *Context) error {
	if c == nil {
		return ErrInvalidData
	}
	if c.ID == "" {
		return ErrInvalidID
	}
	return g.apply(func() ([]Event, error) {
		if _, exists := g.contexts[c.ID]; !exists {
			return nil, fmt.Errorf("context %s: %w", c.ID, ErrNotFound)
		}
		stored := c.copy()
		g.contexts[c.ID] = stored
		return []Event{{Kind: ContextChanged, ContextID: c.ID, Context: stored.copy()}}, nil
	})
}

// SetAttribute writes one attribute on a context.
func (g *Graph) SetAttribute(id ContextID, ns int, name string, value any) error {
	return g.apply(func() ([]Event, error) {
		c, exists := g.contexts[id]
		if !exists {
			return nil, fmt.Errorf("context %s: %w", id, ErrNotFound)
		}
		c.Attributes = c.Attributes.SetNS(ns, name, value)
		return []Event{{Kind: ContextChanged, ContextID: id, Context: c.copy()}}, nil
	})
}

// RemoveContext deletes a context together with every association touching it
// and every point attached to it. Removal events for the associations and
// points are delivered before ContextRemoved.
func (g *Graph) RemoveContext(id ContextID) error {
	if id == "" {
		return ErrInvalidID
	}
	return g.apply(func() ([]Event, error) {
		c, exists := g.contexts[id]
		if !exists {
			return nil, fmt.Errorf("context %s: %w", id, ErrNotFound)
		}

		var events []Event

		// Outgoing first, then whatever still points at us
		for _, key := range append([]AssociationKey(nil), g.outgoing[id]...) {
			events = append(events, g.unlinkKeyLocked(key)...)
		}
		for _, key := range append([]AssociationKey(nil), g.incoming[id]...) {
			events = append(events, g.unlinkKeyLocked(key)...)
		}
		delete(g.outgoing, id)
		delete(g.incoming, id)

		for _, pid := range sortedPointIDs(g.pointsByContext[id]) {
			p := g.points[pid]
			delete(g.points, pid)
			events = append(events, Event{Kind: PointRemoved, ContextID: id, Point: p})
		}
		delete(g.pointsByContext, id)

		delete(g.contexts, id)
		events = append(events, Event{Kind: ContextRemoved, ContextID: id, Context: c})
		return events, nil
	})
}

// GetContext returns a copy of the context.
func (g *Graph) GetContext(id ContextID) (*Context, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return nil, ErrStorageClosed
	}
	c, exists := g.contexts[id]
	if !exists {
		return nil, ErrNotFound
	}
	return c.copy(), nil
}

// HasContext reports whether id exists.
func (g *Graph) HasContext(id ContextID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, exists := g.contexts[id]
	return exists
}

// ContextIDs returns every context id in ascending order.
func (g *Graph) ContextIDs() []ContextID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]ContextID, 0, len(g.contexts))
	for id := range g.contexts {
		ids = append(ids, id)
	}
	sortContextIDs(ids)
	return ids
}

// ============================================================================
// Associations
// ============================================================================

// AddAssociation upserts the association (sourceID, name, destID). Adding an
// existing triple is a no-op.
func (g *Graph) AddAssociation(name string, sourceID, destID ContextID) error {
	if sourceID == "" || destID == "" {
		return ErrInvalidID
	}
	if name == "" {
		return ErrInvalidData
	}
	return g.apply(func() ([]Event, error) {
		if !g.hasContextLocked(sourceID) || !g.hasContextLocked(destID) {
			return nil, fmt.Errorf("%s: %w", Association{sourceID, name, destID}, ErrInvalidAssociation)
		}
		ev, added := g.addAssociationLocked(Association{SourceID: sourceID, Name: name, DestID: destID})
		if !added {
			return nil, nil
		}
		return []Event{ev}, nil
	})
}

// RemoveAssociation deletes the association if present. Removing a missing
// triple is a no-op.
func (g *Graph) RemoveAssociation(name string, sourceID, destID ContextID) error {
	if sourceID == "" || destID == "" {
		return ErrInvalidID
	}
	return g.apply(func() ([]Event, error) {
		return g.unlinkKeyLocked(AssociationKey{SourceID: sourceID, Name: name, DestID: destID}), nil
	})
}

// Link adds the mirrored pair making childID a child of parentID.
func (g *Graph) Link(parentID, childID ContextID) error {
	if parentID == "" || childID == "" {
		return ErrInvalidID
	}
	return g.apply(func() ([]Event, error) {
		if !g.hasContextLocked(parentID) || !g.hasContextLocked(childID) {
			return nil, fmt.Errorf("link %s -> %s: %w", parentID, childID, ErrInvalidAssociation)
		}
		return g.linkLocked(parentID, childID), nil
	})
}

// Unlink removes both halves of the parent/child pair.
func (g *Graph) Unlink(parentID, childID ContextID) error {
	if parentID == "" || childID == "" {
		return ErrInvalidID
	}
	return g.apply(func() ([]Event, error) {
		var events []Event
		events = append(events, g.unlinkKeyLocked(AssociationKey{parentID, Down, childID})...)
		events = append(events, g.unlinkKeyLocked(AssociationKey{childID, Up, parentID})...)
		return events, nil
	})
}

// HasAssociation reports whether the triple exists.
func (g *Graph) HasAssociation(name string, sourceID, destID ContextID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, exists := g.assocs[AssociationKey{sourceID, name, destID}]
	return exists
}

// Associations returns every association in insertion order.
func (g *Graph) Associations() []Association {
	g.mu.RLock()
	defer g.mu.RUnlock()

	keys := make([]AssociationKey, 0, len(g.assocs))
	for key := range g.assocs {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return g.assocSeq[keys[i]] < g.assocSeq[keys[j]] })

	out := make([]Association, 0, len(keys))
	for _, key := range keys {
		out = append(out, *g.assocs[key])
	}
	return out
}

// Neighbors returns destinations of id's outgoing associations named name,
// in insertion order. An empty name matches every association; duplicates
// are collapsed.
func (g *Graph) Neighbors(id ContextID, name string) []ContextID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.neighborsLocked(id, name)
}

// Incoming returns sources of associations named name that point at id, in
// insertion order.
func (g *Graph) Incoming(id ContextID, name string) []ContextID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []ContextID
	seen := make(map[ContextID]bool)
	for _, key := range g.incoming[id] {
		if name != "" && key.Name != name {
			continue
		}
		if !seen[key.SourceID] {
			seen[key.SourceID] = true
			out = append(out, key.SourceID)
		}
	}
	return out
}

func (g *Graph) neighborsLocked(id ContextID, name string) []ContextID {
	var out []ContextID
	seen := make(map[ContextID]bool)
	for _, key := range g.outgoing[id] {
		if name != "" && key.Name != name {
			continue
		}
		if !seen[key.DestID] {
			seen[key.DestID] = true
			out = append(out, key.DestID)
		}
	}
	return out
}

func (g *Graph) hasContextLocked(id ContextID) bool {
	_, exists := g.contexts[id]
	return exists
}

func (g *Graph) linkLocked(parentID, childID ContextID) []Event {
	// "up" goes first: views admit the child on it, then see the "down" half
	var events []Event
	if ev, added := g.addAssociationLocked(Association{SourceID: childID, Name: Up, DestID: parentID}); added {
		events = append(events, ev)
	}
	if ev, added := g.addAssociationLocked(Association{SourceID: parentID, Name: Down, DestID: childID}); added {
		events = append(events, ev)
	}
	return events
}

func (g *Graph) addAssociationLocked(a Association) (Event, bool) {
	key := a.Key()
	if _, exists := g.assocs[key]; exists {
		return Event{}, false
	}
	stored := a
	g.assocs[key] = &stored
	g.nextSeq++
	g.assocSeq[key] = g.nextSeq
	g.outgoing[a.SourceID] = append(g.outgoing[a.SourceID], key)
	g.incoming[a.DestID] = append(g.incoming[a.DestID], key)

	cp := a
	return Event{Kind: AssociationAdded, ContextID: a.SourceID, Association: &cp}, true
}

func (g *Graph) unlinkKeyLocked(key AssociationKey) []Event {
	a, exists := g.assocs[key]
	if !exists {
		return nil
	}
	delete(g.assocs, key)
	delete(g.assocSeq, key)
	g.outgoing[key.SourceID] = removeKey(g.outgoing[key.SourceID], key)
	g.incoming[key.DestID] = removeKey(g.incoming[key.DestID], key)
	if len(g.outgoing[key.SourceID]) == 0 {
		delete(g.outgoing, key.SourceID)
	}
	if len(g.incoming[key.DestID]) == 0 {
		delete(g.incoming, key.DestID)
	}

	cp := *a
	return []Event{{Kind: AssociationRemoved, ContextID: key.SourceID, Association: &cp}}
}

func removeKey(keys []AssociationKey, key AssociationKey) []AssociationKey {
	for i, k := range keys {
		if k == key {
			return append(keys[:i:i], keys[i+1:]...)
		}
	}
	return keys
}

// ============================================================================
// Points
// ============================================================================

// AddPoint inserts or replaces a point. The owning context must exist.
//
// A replaced point that moves to another context is announced as removed from
// the old context before it is added to the new one. When the point's Time is
// later than the context's LastTime, LastTime is advanced and a ContextChanged
// event follows the PointAdded. Removing a point never moves LastTime back.
func (g *Graph) AddPoint(p *Point) error {
	if p == nil {
		return ErrInvalidData
	}
	if p.ID == "" || p.ContextID == "" {
		return ErrInvalidID
	}
	return g.apply(func() ([]Event, error) {
		c, exists := g.contexts[p.ContextID]
		if !exists {
			return nil, fmt.Errorf("point %s on %s: %w", p.ID, p.ContextID, ErrInvalidPoint)
		}

		var events []Event
		if old, exists := g.points[p.ID]; exists && old.ContextID != p.ContextID {
			g.dropPointLocked(old)
			events = append(events, Event{Kind: PointRemoved, ContextID: old.ContextID, Point: old})
		}

		stored := p.copy()
		g.points[p.ID] = stored
		if g.pointsByContext[p.ContextID] == nil {
			g.pointsByContext[p.ContextID] = make(map[PointID]struct{})
		}
		g.pointsByContext[p.ContextID][p.ID] = struct{}{}
		events = append(events, Event{Kind: PointAdded, ContextID: p.ContextID, Point: stored.copy()})

		if t, ok := stored.Time(); ok {
			if last, ok := c.LastTime(); !ok || t > last {
				c.Attributes = c.Attributes.Set(AttrLastTime, t)
				events = append(events, Event{Kind: ContextChanged, ContextID: c.ID, Context: c.copy()})
			}
		}
		return events, nil
	})
}

// dropPointLocked unindexes p from its context.
func (g *Graph) dropPointLocked(p *Point) {
	if byCtx := g.pointsByContext[p.ContextID]; byCtx != nil {
		delete(byCtx, p.ID)
		if len(byCtx) == 0 {
			delete(g.pointsByContext, p.ContextID)
		}
	}
}

// RemovePoint deletes a point.
func (g *Graph) RemovePoint(id PointID) error {
	if id == "" {
		return ErrInvalidID
	}
	return g.apply(func() ([]Event, error) {
		p, exists := g.points[id]
		if !exists {
			return nil, fmt.Errorf("point %s: %w", id, ErrNotFound)
		}
		delete(g.points, id)
		g.dropPointLocked(p)
		return []Event{{Kind: PointRemoved, ContextID: p.ContextID, Point: p}}, nil
	})
}

// GetPoint returns a copy of the point.
func (g *Graph) GetPoint(id PointID) (*Point, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, exists := g.points[id]
	if !exists {
		return nil, ErrNotFound
	}
	return p.copy(), nil
}

// Points returns copies of the points on a context, ordered by Time then ID.
// Points without a Time sort first.
func (g *Graph) Points(id ContextID) []*Point {
	g.mu.RLock()
	defer g.mu.RUnlock()

	byCtx := g.pointsByContext[id]
	out := make([]*Point, 0, len(byCtx))
	for pid := range byCtx {
		out = append(out, g.points[pid].copy())
	}
	sortPoints(out)
	return out
}

// ============================================================================
// Lifecycle and stats
// ============================================================================

// Subscribe registers fn for change notifications.
func (g *Graph) Subscribe(fn Listener) func() {
	return g.events.subscribe(fn)
}

// Notify delivers an event that did not originate from a graph mutation,
// such as ScoresUpdated, to every subscriber.
func (g *Graph) Notify(ev Event) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	g.events.emit(ev)
}

// ContextCount returns the number of contexts.
func (g *Graph) ContextCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.contexts)
}

// AssociationCount returns the number of associations.
func (g *Graph) AssociationCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.assocs)
}

// PointCount returns the number of points.
func (g *Graph) PointCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.points)
}

// Close releases all memory. Later mutations return ErrStorageClosed.
// Close is idempotent.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	g.contexts = make(map[ContextID]*Context)
	g.assocs = make(map[AssociationKey]*Association)
	g.assocSeq = make(map[AssociationKey]uint64)
	g.outgoing = make(map[ContextID][]AssociationKey)
	g.incoming = make(map[ContextID][]AssociationKey)
	g.points = make(map[PointID]*Point)
	g.pointsByContext = make(map[ContextID]map[PointID]struct{})
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func sortContextIDs(ids []ContextID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortedPointIDs(set map[PointID]struct{}) []PointID {
	out := make([]PointID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortPoints(points []*Point) {
	sort.SliceStable(points, func(i, j int) bool {
		ti, okI := points[i].Time()
		tj, okJ := points[j].Time()
		if okI != okJ {
			return !okI
		}
		if ti != tj {
			return ti < tj
		}
		return points[i].ID < points[j].ID
	})
}

// Timestamps extracts the Time of every point that has one, preserving order.
func Timestamps(points []*Point) []float64 {
	out := make([]float64, 0, len(points))
	for _, p := range points {
		if t, ok := p.Time(); ok {
			out = append(out, t)
		}
	}
	return out
}
