package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScorer_ScoreFromFocus(t *testing.T) {
	g := buildTree(t)
	require.NoError(t, g.SetAttribute("a1", DefaultNamespace, AttrLastTime, 900.0))
	require.NoError(t, g.SetAttribute("a2", DefaultNamespace, AttrImportant, true))

	scorer := NewScorer(g, 0, nil)
	set, err := scorer.ScoreFromFocus("a", 1000)
	require.NoError(t, err)

	assert.Equal(t, ContextID("a"), set.Focus)
	assert.Empty(t, set.Revisited)
	assert.Equal(t, map[ContextID]int{"a": 0, "root": 1, "a1": 1, "a2": 1, "b": 2}, set.Distances)
	assert.Equal(t, map[ContextID]float64{"a": 0, "root": 0, "a1": 1, "a2": 1, "b": 0}, set.Scores)

	score, ok := scorer.Score("a1")
	require.True(t, ok)
	assert.Equal(t, 1.0, score)
}

func TestScorer_DividesByDistance(t *testing.T) {
	g := buildTree(t)
	require.NoError(t, g.SetAttribute("a1", DefaultNamespace, AttrImportant, true))
	require.NoError(t, g.SetAttribute("a1", DefaultNamespace, AttrLastTime, 1000.0))
	require.NoError(t, g.SetAttribute("root", DefaultNamespace, AttrImportant, true))

	scorer := NewScorer(g, DefaultBumpWindow, nil)
	set, err := scorer.ScoreFromFocus("root", 1000)
	require.NoError(t, err)

	assert.Equal(t, 1.0, set.Scores["root"], "focus is not divided")
	assert.Equal(t, 1.0, set.Scores["a1"], "(1 + 1) / 2")
}

func TestScorer_RecencyFallsBackToPreviousWalk(t *testing.T) {
	g := buildTree(t)
	require.NoError(t, g.SetAttribute("a1", DefaultNamespace, AttrLastTime, 900.0))

	scorer := NewScorer(g, 600, nil)
	_, err := scorer.ScoreFromFocus("a", 1000)
	require.NoError(t, err)

	// Far outside the bump window: recency carries over from the last walk
	set, err := scorer.ScoreFromFocus("a", 100000)
	require.NoError(t, err)
	assert.Equal(t, 1.0, set.Scores["a1"])

	scorer.Reset()
	set, err = scorer.ScoreFromFocus("a", 100000)
	require.NoError(t, err)
	assert.Equal(t, 0.0, set.Scores["a1"])
}

func TestScorer_RepeatedWalksAreStable(t *testing.T) {
	g := buildTree(t)
	require.NoError(t, g.SetAttribute("a", DefaultNamespace, AttrImportant, true))
	require.NoError(t, g.SetAttribute("a1", DefaultNamespace, AttrImportant, true))
	require.NoError(t, g.SetAttribute("a1", DefaultNamespace, AttrLastTime, 990.0))

	scorer := NewScorer(g, 0, nil)
	first, err := scorer.ScoreFromFocus("a", 1000)
	require.NoError(t, err)
	assert.Equal(t, 1.0, first.Scores["a"])
	assert.Equal(t, 2.0, first.Scores["a1"])

	for i := 0; i < 3; i++ {
		again, err := scorer.ScoreFromFocus("a", 1000)
		require.NoError(t, err)
		assert.Equal(t, first.Scores, again.Scores)
	}

	// Outside the window the carried recency is 1, not the previous score
	later, err := scorer.ScoreFromFocus("a", 100000)
	require.NoError(t, err)
	assert.Equal(t, 2.0, later.Scores["a1"])
	assert.Equal(t, 1.0, later.Scores["a"])
}

func TestScorer_PointBumpsContext(t *testing.T) {
	g := buildTree(t)
	require.NoError(t, g.AddPoint(&Point{ID: "p", ContextID: "a2", Attributes: Attributes{}.Set(AttrTime, 950.0)}))

	scorer := NewScorer(g, 0, nil)
	set, err := scorer.ScoreFromFocus("a", 1000)
	require.NoError(t, err)
	assert.Equal(t, 1.0, set.Scores["a2"])
	assert.Equal(t, 0.0, set.Scores["a1"])
}

func TestScorer_SingleNotification(t *testing.T) {
	g := buildTree(t)
	events, unsubscribe := recordEvents(g)
	defer unsubscribe()

	scorer := NewScorer(g, 0, nil)
	_, err := scorer.ScoreFromFocus("root", 0)
	require.NoError(t, err)

	require.Len(t, *events, 1)
	assert.Equal(t, ScoresUpdated, (*events)[0].Kind)
	assert.Equal(t, ContextID("root"), (*events)[0].Focus)
}

func TestScorer_RevisitsReported(t *testing.T) {
	g := buildTree(t)
	require.NoError(t, g.Link("b", "a1"))

	scorer := NewScorer(g, 0, nil)
	set, err := scorer.ScoreFromFocus("root", 0)
	require.NoError(t, err)

	assert.Len(t, set.Scores, 5)
	assert.NotEmpty(t, set.Revisited)
}

func TestScorer_OverView(t *testing.T) {
	g := buildTree(t)
	view, err := g.DeriveSubgraph("a")
	require.NoError(t, err)
	defer view.Close()

	events, unsubscribe := recordEvents(view)
	defer unsubscribe()

	scorer := NewScorer(view, 0, nil)
	set, err := scorer.ScoreFromFocus("a", 0)
	require.NoError(t, err)

	assert.Len(t, set.Scores, 3, "traversal stays inside the view")
	assert.Equal(t, []EventKind{ScoresUpdated}, kinds(*events))

	_, err = scorer.ScoreFromFocus("b", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScorer_IsVisibleUnderThreshold(t *testing.T) {
	g := buildTree(t)
	require.NoError(t, g.SetAttribute("a1", DefaultNamespace, AttrLastTime, 1000.0))

	scorer := NewScorer(g, 0, nil)
	_, err := scorer.ScoreFromFocus("a", 1000)
	require.NoError(t, err)

	tests := []struct {
		name   string
		id     ContextID
		filter float64
		want   bool
	}{
		{"recent leaf", "a1", 0.5, true},
		{"stale leaf", "a2", 0.5, false},
		{"stale leaf at zero filter", "a2", 0, true},
		{"parent of visible leaf", "a", 0.5, true},
		{"grandparent of visible leaf", "root", 0.5, true},
		{"leaf above threshold", "a1", 1.5, false},
		{"unknown context", "ghost", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scorer.IsVisibleUnderThreshold(tt.id, tt.filter))
		})
	}

	t.Run("NaN never visible", func(t *testing.T) {
		scorer.scores["b"] = math.NaN()
		assert.False(t, scorer.IsVisibleUnderThreshold("b", math.Inf(-1)))
	})

	t.Run("unscored leaf", func(t *testing.T) {
		require.NoError(t, g.AddChild("b", &Context{ID: "new"}))
		assert.False(t, scorer.IsVisibleUnderThreshold("new", 0))
	})
}
