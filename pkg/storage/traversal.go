package storage

import "fmt"

// PrimaryParent returns the first "up" neighbor of id in insertion order.
// Additional "up" neighbors are tolerated but never consulted for ancestry.
func PrimaryParent(src Source, id ContextID) (ContextID, bool) {
	parents := src.Neighbors(id, Up)
	if len(parents) == 0 {
		return "", false
	}
	return parents[0], true
}

// Children returns the "down" neighbors of id.
func Children(src Source, id ContextID) []ContextID {
	return src.Neighbors(id, Down)
}

// IsLeaf reports whether id has no "down" neighbors.
func IsLeaf(src Source, id ContextID) bool {
	return len(src.Neighbors(id, Down)) == 0
}

// IsDescendantOf walks primary-parent links from id until root is reached.
// A context is a descendant of itself. A repeated visit means the "up" links
// form a cycle; the walk stops and returns false with an error wrapping
// ErrGraphInconsistent.
func IsDescendantOf(src Source, id, root ContextID) (bool, error) {
	if !src.HasContext(id) {
		return false, nil
	}

	visited := make(map[ContextID]bool)
	cur := id
	for {
		if cur == root {
			return true, nil
		}
		if visited[cur] {
			return false, fmt.Errorf("cycle through %s while resolving %s: %w", cur, id, ErrGraphInconsistent)
		}
		visited[cur] = true

		parent, ok := PrimaryParent(src, cur)
		if !ok {
			return false, nil
		}
		cur = parent
	}
}

// Ancestors returns the primary-parent chain of id, nearest first, excluding
// id itself.
func Ancestors(src Source, id ContextID) ([]ContextID, error) {
	var out []ContextID
	visited := map[ContextID]bool{id: true}
	cur := id
	for {
		parent, ok := PrimaryParent(src, cur)
		if !ok {
			return out, nil
		}
		if visited[parent] {
			return out, fmt.Errorf("cycle through %s above %s: %w", parent, id, ErrGraphInconsistent)
		}
		visited[parent] = true
		out = append(out, parent)
		cur = parent
	}
}

// Depth returns the number of primary-parent hops from id to its top-level
// ancestor.
func Depth(src Source, id ContextID) (int, error) {
	ancestors, err := Ancestors(src, id)
	return len(ancestors), err
}

// IsDescendantOf is the Graph form of the package-level IsDescendantOf.
func (g *Graph) IsDescendantOf(id, root ContextID) (bool, error) {
	return IsDescendantOf(g, id, root)
}
