package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_MirrorsAndReplays(t *testing.T) {
	dir := t.TempDir()

	journal, err := OpenJournal(JournalOptions{DataDir: dir})
	require.NoError(t, err)

	g := NewGraph()
	detach := journal.Attach(g)

	require.NoError(t, g.AddContext(&Context{ID: "root"}))
	require.NoError(t, g.AddChild("root", &Context{ID: "a"}))
	require.NoError(t, g.AddChild("root", &Context{ID: "b"}))
	require.NoError(t, g.AddChild("a", &Context{ID: "shared"}))
	require.NoError(t, g.Link("b", "shared"))
	require.NoError(t, g.SetAttribute("a", DefaultNamespace, AttrTargetInterval, 3600.0))
	require.NoError(t, g.AddPoint(&Point{ID: "p1", ContextID: "shared", Attributes: Attributes{}.Set(AttrTime, 10.0)}))
	require.NoError(t, g.AddPoint(&Point{ID: "p2", ContextID: "b", Attributes: Attributes{}.Set(AttrTime, 20.0)}))
	require.NoError(t, g.RemovePoint("p2"))

	detach()
	require.NoError(t, journal.Err())
	require.NoError(t, journal.Close())

	// Reopen from disk
	journal, err = OpenJournal(JournalOptions{DataDir: dir})
	require.NoError(t, err)
	defer journal.Close()

	loaded := NewGraph()
	require.NoError(t, journal.Load(context.Background(), loaded))

	assert.Equal(t, g.ContextIDs(), loaded.ContextIDs())
	assert.Equal(t, g.Associations(), loaded.Associations())
	assert.Equal(t, 1, loaded.PointCount())

	a, err := loaded.GetContext("a")
	require.NoError(t, err)
	interval, ok := a.TargetInterval()
	require.True(t, ok)
	assert.Equal(t, 3600.0, interval)

	parent, ok := PrimaryParent(loaded, "shared")
	require.True(t, ok)
	assert.Equal(t, ContextID("a"), parent, "insertion order survives replay")
}

func TestJournal_RemoveContextDeletesRecords(t *testing.T) {
	journal, err := OpenJournal(JournalOptions{InMemory: true})
	require.NoError(t, err)
	defer journal.Close()

	g := NewGraph()
	detach := journal.Attach(g)
	defer detach()

	require.NoError(t, g.AddContext(&Context{ID: "root"}))
	require.NoError(t, g.AddChild("root", &Context{ID: "gone"}))
	require.NoError(t, g.AddPoint(&Point{ID: "p", ContextID: "gone"}))
	require.NoError(t, g.RemoveContext("gone"))

	loaded := NewGraph()
	require.NoError(t, journal.Load(context.Background(), loaded))

	assert.Equal(t, []ContextID{"root"}, loaded.ContextIDs())
	assert.Equal(t, 0, loaded.AssociationCount())
	assert.Equal(t, 0, loaded.PointCount())
}

func TestJournal_LoadCancelled(t *testing.T) {
	journal, err := OpenJournal(JournalOptions{InMemory: true})
	require.NoError(t, err)
	defer journal.Close()

	require.NoError(t, journal.PutContext(&Context{ID: "x"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = journal.Load(ctx, NewGraph())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJournal_Closed(t *testing.T) {
	journal, err := OpenJournal(JournalOptions{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, journal.Close())
	require.NoError(t, journal.Close())

	assert.ErrorIs(t, journal.PutContext(&Context{ID: "x"}), ErrStorageClosed)
	assert.ErrorIs(t, journal.Load(context.Background(), NewGraph()), ErrStorageClosed)

	_, err = OpenJournal(JournalOptions{})
	assert.ErrorIs(t, err, ErrInvalidData)
}
