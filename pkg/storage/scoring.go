package storage

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// DefaultBumpWindow is how recent (seconds) a context's LastTime must be for
// it to count as freshly active during scoring.
const DefaultBumpWindow = 600.0

// ScoreSet is the result of one ScoreFromFocus traversal.
type ScoreSet struct {
	Focus     ContextID
	Scores    map[ContextID]float64
	Distances map[ContextID]int
	// Revisited lists contexts reached more than once. Multi-parent shapes
	// and "up" cycles both produce entries; each context is scored once.
	Revisited []ContextID
}

// Scorer computes distance scores relative to a focus context and keeps them
// in its own side table. Contexts are never annotated in place.
//
// Example:
//
//	scorer := storage.NewScorer(view, storage.DefaultBumpWindow, logger)
//	set, err := scorer.ScoreFromFocus("reading", float64(time.Now().Unix()))
//	if err != nil {
//		return err
//	}
//	if scorer.IsVisibleUnderThreshold("health", 0.5) {
//		// draw it
//	}
type Scorer struct {
	src        Source
	bumpWindow float64
	logger     *zap.Logger

	mu     sync.RWMutex
	scores map[ContextID]float64
	// recency holds the recency component behind each score, which is what
	// a context outside the bump window falls back to.
	recency map[ContextID]float64
}

// NewScorer creates a scorer over src. A non-positive bumpWindow selects
// DefaultBumpWindow.
func NewScorer(src Source, bumpWindow float64, logger *zap.Logger) *Scorer {
	if bumpWindow <= 0 {
		bumpWindow = DefaultBumpWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		src:        src,
		bumpWindow: bumpWindow,
		logger:     logger.Named("scorer"),
		scores:     make(map[ContextID]float64),
		recency:    make(map[ContextID]float64),
	}
}

type scoreFrame struct {
	id       ContextID
	pred     ContextID
	distance int
}

// ScoreFromFocus walks depth-first from focus across every association except
// the one leading back to the predecessor. Each visited context scores
//
//	(importance + recency) / distance
//
// where importance is 0 or 1, recency is 1 when LastTime is within the bump
// window of now and otherwise the recency from the previous walk, and the focus
// itself (distance 0) is not divided. A single ScoresUpdated event is sent
// once the walk completes.
func (s *Scorer) ScoreFromFocus(focus ContextID, now float64) (*ScoreSet, error) {
	if !s.src.HasContext(focus) {
		return nil, fmt.Errorf("focus %s: %w", focus, ErrNotFound)
	}

	set := &ScoreSet{
		Focus:     focus,
		Scores:    make(map[ContextID]float64),
		Distances: make(map[ContextID]int),
	}

	s.mu.Lock()
	stack := []scoreFrame{{id: focus}}
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := set.Scores[frame.id]; seen {
			set.Revisited = append(set.Revisited, frame.id)
			continue
		}

		c, err := s.src.GetContext(frame.id)
		if err != nil {
			// Dangling association target
			s.logger.Warn("skipping unreadable context",
				zap.String("context_id", string(frame.id)),
				zap.Error(err))
			continue
		}

		score := s.scoreLocked(c, frame.distance, now)
		set.Scores[frame.id] = score
		set.Distances[frame.id] = frame.distance
		s.scores[frame.id] = score

		// Push in reverse so the first association is explored first
		neighbors := s.src.Neighbors(frame.id, "")
		for i := len(neighbors) - 1; i >= 0; i-- {
			n := neighbors[i]
			if frame.distance > 0 && n == frame.pred {
				continue
			}
			stack = append(stack, scoreFrame{id: n, pred: frame.id, distance: frame.distance + 1})
		}
	}
	s.mu.Unlock()

	if len(set.Revisited) > 0 {
		s.logger.Debug("contexts reached more than once",
			zap.String("focus", string(focus)),
			zap.Int("revisited", len(set.Revisited)))
	}

	if n, ok := s.src.(interface{ Notify(Event) }); ok {
		n.Notify(Event{Kind: ScoresUpdated, ContextID: focus, Focus: focus})
	}
	return set, nil
}

func (s *Scorer) scoreLocked(c *Context, distance int, now float64) float64 {
	var importance float64
	if c.Important() {
		importance = 1
	}

	recency := s.recency[c.ID]
	if last, ok := c.LastTime(); ok && now-last <= s.bumpWindow {
		recency = 1
	}
	s.recency[c.ID] = recency

	score := importance + recency
	if distance > 0 {
		score /= float64(distance)
	}
	return score
}

// Score returns the cached distance score for id.
func (s *Scorer) Score(id ContextID) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.scores[id]
	return v, ok
}

// Reset drops every cached score.
func (s *Scorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = make(map[ContextID]float64)
	s.recency = make(map[ContextID]float64)
}

// IsVisibleUnderThreshold reports whether id should be shown at the given
// filter value. A leaf is visible when its score is at least filter; a
// non-leaf is visible when any "down" child is. Missing and NaN scores are
// never visible.
func (s *Scorer) IsVisibleUnderThreshold(id ContextID, filter float64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visibleLocked(id, filter, make(map[ContextID]bool))
}

func (s *Scorer) visibleLocked(id ContextID, filter float64, visiting map[ContextID]bool) bool {
	if visiting[id] {
		return false
	}
	visiting[id] = true

	children := s.src.Neighbors(id, Down)
	if len(children) == 0 {
		score, ok := s.scores[id]
		return ok && !math.IsNaN(score) && score >= filter
	}
	for _, child := range children {
		if s.visibleLocked(child, filter, visiting) {
			return true
		}
	}
	return false
}
