// Package aggregate rolls decay curves up a context hierarchy.
//
// Leaves get a curve from their own points: the target interval comes from
// the context's TargetInterval attribute, or failing that from the period
// estimator. Every non-leaf gets the unweighted elementwise mean of the
// curves of its "down" children that have one. Results are memoized in the
// Aggregator's side tables; contexts are never annotated in place.
//
// Example Usage:
//
//	agg := aggregate.New(graph, aggregate.DefaultConfig())
//	stop := agg.Watch() // drop stale curves as points arrive
//	defer stop()
//
//	res, err := agg.ComputeAll("health", 14*86400, 14, anchor, false)
//	if err != nil {
//		return err
//	}
//	curve, _ := agg.Curve("health")
//
// ComputeAll is idempotent: a second call with the same window and segment
// count serves every curve from the memo tables unless force is set.
package aggregate

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/cadence/pkg/decay"
	"github.com/orneryd/cadence/pkg/storage"
	"github.com/orneryd/cadence/pkg/temporal"
)

// Config holds aggregator settings.
type Config struct {
	// Period configures target interval estimation for leaves without an
	// explicit TargetInterval.
	Period temporal.Config

	// Logger - nil discards
	Logger *zap.Logger

	// Metrics - nil disables
	Metrics *Metrics
}

// DefaultConfig returns the standard aggregator settings.
func DefaultConfig() Config {
	return Config{Period: temporal.DefaultConfig()}
}

// Target records how a leaf's target interval was resolved.
type Target struct {
	Seconds   float64
	Estimated bool
}

// Result summarizes one ComputeAll call.
type Result struct {
	Root               storage.ContextID
	Contexts           int
	LeavesComputed     int
	LeavesSkipped      int
	AggregatesComputed int
	CacheHits          int
	// Inconsistent lists contexts reached again through their own
	// descendants while walking "down" associations.
	Inconsistent []storage.ContextID
}

// Aggregator computes and memoizes leaf and aggregate curves over a Source.
type Aggregator struct {
	src     storage.Source
	period  temporal.Config
	logger  *zap.Logger
	metrics *Metrics

	mu        sync.Mutex
	window    float64
	segments  int
	leaf      map[storage.ContextID]decay.Curve
	aggregate map[storage.ContextID]decay.Curve
	targets   map[storage.ContextID]Target
}

// New creates an aggregator over src.
func New(src storage.Source, cfg Config) *Aggregator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		src:       src,
		period:    cfg.Period,
		logger:    logger.Named("aggregate"),
		metrics:   cfg.Metrics,
		leaf:      make(map[storage.ContextID]decay.Curve),
		aggregate: make(map[storage.ContextID]decay.Curve),
		targets:   make(map[storage.ContextID]Target),
	}
}

// ComputeAll fills the curve tables for root and everything below it.
//
// With force, every cached curve under root is dropped first. Changing the
// window or segment count from the previous call drops all cached curves,
// since curves of different shapes cannot be averaged together.
func (a *Aggregator) ComputeAll(root storage.ContextID, windowSeconds float64, segments int, anchorTime float64, force bool) (*Result, error) {
	start := time.Now()
	if !a.src.HasContext(root) {
		return nil, fmt.Errorf("aggregate root %s: %w", root, storage.ErrNotFound)
	}
	if !(windowSeconds > 0) || segments <= 0 {
		return nil, fmt.Errorf("window=%v segments=%d: %w", windowSeconds, segments, decay.ErrInvalidParameters)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.window != windowSeconds || a.segments != segments {
		a.resetLocked()
		a.window, a.segments = windowSeconds, segments
	}

	res := &Result{Root: root}
	subtree := a.collectLocked(root, res)
	res.Contexts = len(subtree)

	if force {
		for _, id := range subtree {
			delete(a.leaf, id)
			delete(a.aggregate, id)
			delete(a.targets, id)
		}
	}

	// Leaf pass
	for _, id := range subtree {
		if !storage.IsLeaf(a.src, id) {
			continue
		}
		if _, cached := a.leaf[id]; cached {
			res.CacheHits++
			continue
		}
		if err := a.computeLeafLocked(id, anchorTime, res); err != nil {
			return nil, err
		}
	}

	// Aggregation pass
	if _, _, err := a.curveLocked(root, make(map[storage.ContextID]bool), res); err != nil {
		return nil, err
	}

	if a.metrics != nil {
		a.metrics.CacheHits.Add(float64(res.CacheHits))
		a.metrics.Inconsistencies.Add(float64(len(res.Inconsistent)))
		a.metrics.ComputeDuration.Observe(time.Since(start).Seconds())
	}
	a.logger.Debug("computed curves",
		zap.String("root", string(root)),
		zap.Int("contexts", res.Contexts),
		zap.Int("leaves", res.LeavesComputed),
		zap.Int("aggregates", res.AggregatesComputed),
		zap.Int("cache_hits", res.CacheHits))
	return res, nil
}

// collectLocked returns root and every context reachable from it over "down"
// associations, in pre-order. Down edges leading back onto the current path
// are recorded as inconsistencies.
func (a *Aggregator) collectLocked(root storage.ContextID, res *Result) []storage.ContextID {
	var order []storage.ContextID
	seen := make(map[storage.ContextID]bool)
	onPath := make(map[storage.ContextID]bool)

	var walk func(id storage.ContextID)
	walk = func(id storage.ContextID) {
		if onPath[id] {
			res.Inconsistent = append(res.Inconsistent, id)
			a.logger.Warn("cycle in down associations", zap.String("context_id", string(id)))
			return
		}
		if seen[id] {
			return
		}
		seen[id] = true
		onPath[id] = true
		order = append(order, id)
		for _, child := range storage.Children(a.src, id) {
			walk(child)
		}
		onPath[id] = false
	}
	walk(root)
	return order
}

func (a *Aggregator) computeLeafLocked(id storage.ContextID, anchorTime float64, res *Result) error {
	c, err := a.src.GetContext(id)
	if err != nil {
		return fmt.Errorf("reading leaf %s: %w", id, err)
	}
	timestamps := storage.Timestamps(a.src.Points(id))

	target := Target{}
	if explicit, ok := c.TargetInterval(); ok {
		target.Seconds = explicit
	} else if estimated, ok := temporal.EstimatePeriod(timestamps, a.period); ok && estimated > 0 {
		target = Target{Seconds: estimated, Estimated: true}
	} else {
		res.LeavesSkipped++
		if a.metrics != nil {
			a.metrics.SkippedLeaves.Inc()
		}
		a.logger.Debug("no target interval for leaf",
			zap.String("context_id", string(id)),
			zap.Int("points", len(timestamps)))
		return nil
	}

	curve, err := decay.ToCurve(timestamps, a.window, a.segments, decay.Options{
		TargetInterval: target.Seconds,
		AnchorTime:     anchorTime,
		IncludeEmpty:   true,
	})
	if err != nil {
		return fmt.Errorf("leaf %s: %w", id, err)
	}

	a.leaf[id] = curve
	a.targets[id] = target
	res.LeavesComputed++
	if a.metrics != nil {
		a.metrics.LeafCurves.Inc()
	}
	return nil
}

// curveLocked returns the curve for id, building aggregates post-order.
func (a *Aggregator) curveLocked(id storage.ContextID, onPath map[storage.ContextID]bool, res *Result) (decay.Curve, bool, error) {
	children := storage.Children(a.src, id)
	if len(children) == 0 {
		c, ok := a.leaf[id]
		return c, ok, nil
	}
	if c, ok := a.aggregate[id]; ok {
		res.CacheHits++
		return c, true, nil
	}
	if onPath[id] {
		return nil, false, nil
	}
	onPath[id] = true
	defer delete(onPath, id)

	var curves []decay.Curve
	for _, child := range children {
		c, ok, err := a.curveLocked(child, onPath, res)
		if err != nil {
			return nil, false, err
		}
		if ok {
			curves = append(curves, c)
		}
	}
	if len(curves) == 0 {
		return nil, false, nil
	}

	avg, err := decay.Average(curves)
	if err != nil {
		return nil, false, fmt.Errorf("aggregating %s: %w", id, err)
	}
	a.aggregate[id] = avg
	res.AggregatesComputed++
	if a.metrics != nil {
		a.metrics.AggregateCurves.Inc()
	}
	return avg, true, nil
}

// LeafCurve returns a copy of the cached leaf curve for id.
func (a *Aggregator) LeafCurve(id storage.ContextID) (decay.Curve, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.leaf[id]
	return c.Clone(), ok
}

// AggregateCurve returns a copy of the cached aggregate curve for id.
func (a *Aggregator) AggregateCurve(id storage.ContextID) (decay.Curve, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.aggregate[id]
	return c.Clone(), ok
}

// Curve returns the aggregate curve for id, or its leaf curve when it has
// no aggregate.
func (a *Aggregator) Curve(id storage.ContextID) (decay.Curve, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.aggregate[id]; ok {
		return c.Clone(), true
	}
	c, ok := a.leaf[id]
	return c.Clone(), ok
}

// Target returns how the leaf's target interval was resolved.
func (a *Aggregator) Target(id storage.ContextID) (Target, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.targets[id]
	return t, ok
}

// Cached returns the ids holding a curve, in ascending order.
func (a *Aggregator) Cached() []storage.ContextID {
	a.mu.Lock()
	defer a.mu.Unlock()

	set := make(map[storage.ContextID]bool, len(a.leaf)+len(a.aggregate))
	for id := range a.leaf {
		set[id] = true
	}
	for id := range a.aggregate {
		set[id] = true
	}
	out := make([]storage.ContextID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Invalidate drops the cached curves of id and the aggregates of every
// context above it.
func (a *Aggregator) Invalidate(id storage.ContextID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invalidateLocked(id)
}

func (a *Aggregator) invalidateLocked(id storage.ContextID) {
	dropped := 0
	if _, ok := a.leaf[id]; ok {
		dropped++
	}
	delete(a.leaf, id)
	delete(a.targets, id)

	seen := map[storage.ContextID]bool{}
	queue := []storage.ContextID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if _, ok := a.aggregate[cur]; ok {
			delete(a.aggregate, cur)
			dropped++
		}
		queue = append(queue, a.src.Neighbors(cur, storage.Up)...)
	}

	if dropped > 0 && a.metrics != nil {
		a.metrics.Invalidations.Add(float64(dropped))
	}
}

// Reset drops every cached curve.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Aggregator) resetLocked() {
	a.leaf = make(map[storage.ContextID]decay.Curve)
	a.aggregate = make(map[storage.ContextID]decay.Curve)
	a.targets = make(map[storage.ContextID]Target)
}

// Watch subscribes to the source and invalidates curves whose inputs change:
// points added or removed, context attributes changed, and structural links
// added or removed. The returned func stops watching.
func (a *Aggregator) Watch() func() {
	return a.src.Subscribe(func(ev storage.Event) {
		switch ev.Kind {
		case storage.PointAdded, storage.PointRemoved, storage.ContextChanged:
			a.Invalidate(ev.ContextID)
		case storage.AssociationAdded, storage.AssociationRemoved:
			if ev.Association == nil {
				return
			}
			// Only the parent's curves depend on the link
			a.mu.Lock()
			switch ev.Association.Name {
			case storage.Down:
				a.invalidateLocked(ev.Association.SourceID)
			case storage.Up:
				a.invalidateLocked(ev.Association.DestID)
			default:
				a.invalidateLocked(ev.Association.SourceID)
				a.invalidateLocked(ev.Association.DestID)
			}
			a.mu.Unlock()
		case storage.ContextRemoved:
			a.mu.Lock()
			delete(a.leaf, ev.ContextID)
			delete(a.aggregate, ev.ContextID)
			delete(a.targets, ev.ContextID)
			a.mu.Unlock()
		}
	})
}
