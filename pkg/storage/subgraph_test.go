package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSubgraph_Membership(t *testing.T) {
	g := buildTree(t)

	view, err := g.DeriveSubgraph("a")
	require.NoError(t, err)
	defer view.Close()

	assert.Equal(t, []ContextID{"a", "a1", "a2"}, view.ContextIDs())
	assert.False(t, view.Contains("root"))
	assert.False(t, view.Contains("b"))

	// Edges leaving the view are hidden
	assert.Empty(t, view.Neighbors("a", Up))
	assert.Equal(t, []ContextID{"a1", "a2"}, view.Neighbors("a", Down))

	_, err = view.GetContext("b")
	assert.ErrorIs(t, err, ErrOutsideView)

	_, err = g.DeriveSubgraph("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeriveSubgraph_TracksAssociationPair(t *testing.T) {
	g := buildTree(t)
	require.NoError(t, g.AddContext(&Context{ID: "child"}))

	view, err := g.DeriveSubgraph("b")
	require.NoError(t, err)
	defer view.Close()
	assert.False(t, view.Contains("child"))

	require.NoError(t, g.AddAssociation(Down, "b", "child"))
	require.NoError(t, g.AddAssociation(Up, "child", "b"))
	assert.True(t, view.Contains("child"))

	require.NoError(t, g.RemoveAssociation(Down, "b", "child"))
	require.NoError(t, g.RemoveAssociation(Up, "child", "b"))
	assert.False(t, view.Contains("child"))
}

func TestDeriveSubgraph_ForwardsOnlyRelevantEvents(t *testing.T) {
	g := buildTree(t)
	view, err := g.DeriveSubgraph("a")
	require.NoError(t, err)
	defer view.Close()

	events, unsubscribe := recordEvents(view)
	defer unsubscribe()

	require.NoError(t, g.AddChild("b", &Context{ID: "b1"}))
	assert.Empty(t, *events, "outside the view")

	require.NoError(t, g.AddChild("a1", &Context{ID: "deep"}))
	assert.Equal(t, []EventKind{ContextAdded, AssociationAdded, AssociationAdded}, kinds(*events))
	assert.Equal(t, ContextID("deep"), (*events)[0].ContextID)
	assert.True(t, view.Contains("deep"))

	*events = nil
	require.NoError(t, g.AddPoint(&Point{ID: "p", ContextID: "deep"}))
	require.NoError(t, g.AddPoint(&Point{ID: "q", ContextID: "b1"}))
	assert.Equal(t, []EventKind{PointAdded}, kinds(*events))
	assert.Len(t, view.Points("deep"), 1)
	assert.Empty(t, view.Points("b1"))
}

func TestDeriveSubgraph_MoveOutAnnouncesRemoval(t *testing.T) {
	g := buildTree(t)
	view, err := g.DeriveSubgraph("a")
	require.NoError(t, err)
	defer view.Close()

	events, unsubscribe := recordEvents(view)
	defer unsubscribe()

	require.NoError(t, g.Unlink("a", "a2"))
	assert.False(t, view.Contains("a2"))

	got := kinds(*events)
	require.NotEmpty(t, got)
	assert.Equal(t, ContextRemoved, got[len(got)-1])
	assert.Equal(t, ContextID("a2"), (*events)[len(got)-1].ContextID)
}

func TestDeriveSubgraph_RootRemovalOrphans(t *testing.T) {
	g := buildTree(t)
	view, err := g.DeriveSubgraph("a")
	require.NoError(t, err)

	events, unsubscribe := recordEvents(view)
	defer unsubscribe()

	require.NoError(t, g.RemoveContext("a"))
	assert.True(t, view.Orphaned())
	assert.Equal(t, 0, view.Len())

	_, err = view.GetContext("a1")
	assert.ErrorIs(t, err, ErrViewOrphaned)

	require.NotEmpty(t, *events)
	last := (*events)[len(*events)-1]
	assert.Equal(t, ContextRemoved, last.Kind)
	assert.Equal(t, ContextID("a"), last.ContextID)

	// Detached: later mutations are not seen
	n := len(*events)
	require.NoError(t, g.AddChild("a1", &Context{ID: "x"}))
	assert.Len(t, *events, n)
}

func TestDeriveSubgraph_Nested(t *testing.T) {
	g := buildTree(t)
	outer, err := g.DeriveSubgraph("root")
	require.NoError(t, err)
	defer outer.Close()

	inner, err := outer.DeriveSubgraph("a")
	require.NoError(t, err)
	defer inner.Close()

	require.NoError(t, g.AddChild("a2", &Context{ID: "leaf"}))
	assert.True(t, outer.Contains("leaf"))
	assert.True(t, inner.Contains("leaf"))

	_, err = inner.DeriveSubgraph("b")
	assert.ErrorIs(t, err, ErrOutsideView)
}

func TestBoundedView_Close(t *testing.T) {
	g := buildTree(t)
	view, err := g.DeriveSubgraph("a")
	require.NoError(t, err)

	require.NoError(t, view.Close())
	require.NoError(t, view.Close())

	require.NoError(t, g.AddChild("a", &Context{ID: "late"}))
	assert.False(t, view.Contains("late"))
	assert.Equal(t, 0, g.events.count(), "view listener removed")
}
