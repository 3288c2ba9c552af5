// Package storage provides the context graph store for Cadence.
//
// The store holds three kinds of records:
//   - Context: a node in the activity hierarchy (an activity or category)
//   - Association: a directed, named edge between two contexts
//   - Point: a timestamped event logged against exactly one context
//
// Structural parent/child links are always written as a mirrored pair of
// associations inserted together:
//
//	(child,  "up",   parent)
//	(parent, "down", child)
//
// Consumers must never assume only one direction exists. A context may have
// several "up" neighbors; ancestry queries consult only the primary parent,
// which is the first "up" association in insertion order.
//
// Example Usage:
//
//	g := storage.NewGraph()
//
//	g.AddContext(&storage.Context{ID: "health"})
//	g.AddChild("health", &storage.Context{ID: "running"})
//
//	g.AddPoint(&storage.Point{
//		ID:        "p-1",
//		ContextID: "running",
//		Attributes: storage.Attributes{}.
//			Set(storage.AttrTime, 1700000000.0),
//	})
//
//	view, _ := g.DeriveSubgraph("health")
//	fmt.Println(view.Contains("running")) // true
//
// All timestamps are epoch seconds as float64. Durations are seconds.
//
// Thread Safety:
//
//	Graph and BoundedView are safe for concurrent use. Notifications are
//	delivered synchronously, in mutation order, on the goroutine that
//	performed the mutation.
package storage

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/orneryd/cadence/pkg/convert"
)

// Common errors
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidID          = errors.New("invalid id")
	ErrInvalidData        = errors.New("invalid data")
	ErrInvalidAssociation = errors.New("invalid association: source or destination context not found")
	ErrInvalidPoint       = errors.New("invalid point: context not found")
	ErrStorageClosed      = errors.New("storage closed")
	ErrGraphInconsistent  = errors.New("graph inconsistent")
	ErrViewOrphaned       = errors.New("view orphaned: root context removed")
	ErrOutsideView        = errors.New("context outside view")
	ErrIterationStopped   = errors.New("iteration stopped")
)

// Association names used for structural links.
const (
	Up   = "up"
	Down = "down"
)

// Canonical attribute names. Points surface Time, Duration and Text; contexts
// use Important, TargetInterval and LastTime.
const (
	AttrTime           = "Time"
	AttrDuration       = "Duration"
	AttrText           = "Text"
	AttrImportant      = "Important"
	AttrTargetInterval = "TargetInterval"
	AttrLastTime       = "LastTime"
)

// DefaultNamespace is the namespace used when callers omit one.
const DefaultNamespace = 1

// DefaultNamespacePrefix is the legacy qualified form of a default-namespace
// name ("1:Time"). Get strips it before lookup.
const DefaultNamespacePrefix = "1:"

// ContextID identifies a context. Ids are assigned by the caller; integer ids
// are carried in their decimal form.
type ContextID string

// PointID identifies a point.
type PointID string

// ContextIDFromInt formats an integer id.
func ContextIDFromInt(id int64) ContextID {
	return ContextID(strconv.FormatInt(id, 10))
}

// Attributes is a two-level namespaced key-value store:
// (namespace, name) -> value.
//
// Namespace 1 holds canonical values. Other namespaces (for example a numeric
// variant id) hold alternates for the same name without clobbering the
// canonical one.
type Attributes map[int]map[string]any

// Get reads name from the default namespace. A name already carrying the
// "1:" prefix is stripped first.
func (a Attributes) Get(name string) (any, bool) {
	name = strings.TrimPrefix(name, DefaultNamespacePrefix)
	return a.GetNS(DefaultNamespace, name)
}

// GetNS reads name from namespace ns.
func (a Attributes) GetNS(ns int, name string) (any, bool) {
	if a == nil {
		return nil, false
	}
	vals, ok := a[ns]
	if !ok {
		return nil, false
	}
	v, ok := vals[name]
	return v, ok
}

// Set writes name into the default namespace and returns the receiver, which
// is allocated when nil.
func (a Attributes) Set(name string, value any) Attributes {
	name = strings.TrimPrefix(name, DefaultNamespacePrefix)
	return a.SetNS(DefaultNamespace, name, value)
}

// SetNS writes name into namespace ns.
func (a Attributes) SetNS(ns int, name string, value any) Attributes {
	if a == nil {
		a = make(Attributes)
	}
	if a[ns] == nil {
		a[ns] = make(map[string]any)
	}
	a[ns][name] = value
	return a
}

// Delete removes name from namespace ns.
func (a Attributes) Delete(ns int, name string) {
	if vals, ok := a[ns]; ok {
		delete(vals, name)
		if len(vals) == 0 {
			delete(a, ns)
		}
	}
}

// Float reads a numeric attribute from the default namespace.
func (a Attributes) Float(name string) (float64, bool) {
	v, ok := a.Get(name)
	if !ok {
		return 0, false
	}
	return convert.ToFloat64(v)
}

// Bool reads a flag from the default namespace. Numbers are true when non-zero.
func (a Attributes) Bool(name string) bool {
	v, ok := a.Get(name)
	if !ok {
		return false
	}
	b, _ := convert.ToBool(v)
	return b
}

// Namespaces returns the namespace ids in ascending order.
func (a Attributes) Namespaces() []int {
	out := make([]int, 0, len(a))
	for ns := range a {
		out = append(out, ns)
	}
	sort.Ints(out)
	return out
}

func (a Attributes) clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for ns, vals := range a {
		cp := make(map[string]any, len(vals))
		for k, v := range vals {
			cp[k] = v
		}
		out[ns] = cp
	}
	return out
}

// Context is a node in the activity hierarchy.
//
// Derived values (distance scores, decay curves) are not stored here; they
// live in side tables owned by the Scorer and the aggregate package.
type Context struct {
	ID         ContextID  `json:"id"`
	Attributes Attributes `json:"attributes,omitempty"`
}

// Important reports the context's importance flag.
func (c *Context) Important() bool {
	return c.Attributes.Bool(AttrImportant)
}

// TargetInterval returns the explicit recurrence interval in seconds, if set.
func (c *Context) TargetInterval() (float64, bool) {
	v, ok := c.Attributes.Float(AttrTargetInterval)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// LastTime returns the most recent activity timestamp, if set.
func (c *Context) LastTime() (float64, bool) {
	return c.Attributes.Float(AttrLastTime)
}

func (c *Context) copy() *Context {
	return &Context{ID: c.ID, Attributes: c.Attributes.clone()}
}

// Association is a directed, named edge. Its identity is the
// (SourceID, Name, DestID) triple.
type Association struct {
	SourceID ContextID `json:"sourceId"`
	Name     string    `json:"name"`
	DestID   ContextID `json:"destId"`
}

// Key returns the association's identity triple.
func (a Association) Key() AssociationKey {
	return AssociationKey{SourceID: a.SourceID, Name: a.Name, DestID: a.DestID}
}

func (a Association) String() string {
	return fmt.Sprintf("(%s)-[%s]->(%s)", a.SourceID, a.Name, a.DestID)
}

// AssociationKey is the uniqueness key of an association.
type AssociationKey struct {
	SourceID ContextID
	Name     string
	DestID   ContextID
}

// Point is a timestamped event attached to one context.
type Point struct {
	ID         PointID    `json:"id"`
	ContextID  ContextID  `json:"contextId"`
	Attributes Attributes `json:"attributes,omitempty"`
}

// Time returns the point's timestamp in epoch seconds.
func (p *Point) Time() (float64, bool) {
	return p.Attributes.Float(AttrTime)
}

// Duration returns the point's duration in seconds (0 when unset).
func (p *Point) Duration() float64 {
	d, _ := p.Attributes.Float(AttrDuration)
	return d
}

// Text returns the point's free-form text.
func (p *Point) Text() string {
	v, ok := p.Attributes.Get(AttrText)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (p *Point) copy() *Point {
	return &Point{ID: p.ID, ContextID: p.ContextID, Attributes: p.Attributes.clone()}
}

// Source is the read side shared by the full Graph and every BoundedView.
// Scoring and aggregation accept a Source so they run unchanged over either.
type Source interface {
	// GetContext returns a copy of the context.
	GetContext(id ContextID) (*Context, error)
	// HasContext reports whether id is visible through this source.
	HasContext(id ContextID) bool
	// ContextIDs returns every visible context id in ascending order.
	ContextIDs() []ContextID
	// Neighbors returns the destinations of id's outgoing associations named
	// name, in insertion order. An empty name matches every association.
	Neighbors(id ContextID, name string) []ContextID
	// Points returns copies of the points attached to id, oldest first.
	Points(id ContextID) []*Point
	// Subscribe registers fn for change notifications.
	Subscribe(fn Listener) (unsubscribe func())
}
