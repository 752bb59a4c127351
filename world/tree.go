// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package world

import "sort"

// Session tree bounds. A runaway agent spawning subtasks of subtasks
// must not produce an unbounded display tree.
const (
	// MaxTreeDepth is the deepest level a session can appear at.
	// Sessions at this depth keep no children; their would-be children
	// surface as roots instead.
	MaxTreeDepth = 4

	// MaxTreeChildren caps each node's children to the most recently
	// updated few. Children beyond the cap are dropped from the tree,
	// subtrees and all.
	MaxTreeChildren = 10
)

// TreeNode is one session in the display hierarchy.
type TreeNode struct {
	Session  EnrichedSession `json:"session"`
	Depth    int             `json:"depth"`
	Children []TreeNode      `json:"children,omitempty"`
}

// SessionTree arranges the snapshot's sessions into the parent/child
// hierarchy used for display. A session whose parent is missing, or
// whose parent sits at the depth limit, becomes a root: unresolvable
// ancestry favors visibility over strict nesting. Children are sorted
// most recently updated first and capped at [MaxTreeChildren] per
// node. The computation builds fresh nodes and never reorders the
// snapshot's own slices.
func (w *WorldState) SessionTree() []TreeNode {
	children := make(map[string][]string)
	for _, session := range w.Sessions {
		parentID := session.Info.ParentID
		if parentID == "" || parentID == session.Info.ID {
			continue
		}
		if _, ok := w.sessionIndex[parentID]; !ok {
			continue
		}
		children[parentID] = append(children[parentID], session.Info.ID)
	}
	// The base order is the recency-sorted Sessions slice, so equal
	// timestamps keep their snapshot order.
	for _, ids := range children {
		sort.SliceStable(ids, func(i, j int) bool {
			a, _ := w.Session(ids[i])
			b, _ := w.Session(ids[j])
			return a.Info.Time.Updated > b.Info.Time.Updated
		})
	}

	attached := make(map[string]bool)
	excluded := make(map[string]bool)
	var pending []string

	var exclude func(id string)
	exclude = func(id string) {
		if attached[id] || excluded[id] {
			return
		}
		excluded[id] = true
		for _, childID := range children[id] {
			exclude(childID)
		}
	}

	var build func(id string, depth int) TreeNode
	build = func(id string, depth int) TreeNode {
		attached[id] = true
		session, _ := w.Session(id)
		node := TreeNode{Session: session, Depth: depth}
		if depth >= MaxTreeDepth {
			// The depth limit cuts the chain here; children queue up
			// to surface as roots instead of vanishing.
			pending = append(pending, children[id]...)
			return node
		}
		for _, childID := range children[id] {
			if attached[childID] || excluded[childID] {
				continue
			}
			if len(node.Children) >= MaxTreeChildren {
				exclude(childID)
				continue
			}
			node.Children = append(node.Children, build(childID, depth+1))
		}
		return node
	}

	var roots []TreeNode
	drain := func() {
		for len(pending) > 0 {
			id := pending[0]
			pending = pending[1:]
			if attached[id] || excluded[id] {
				continue
			}
			roots = append(roots, build(id, 0))
		}
	}

	for _, session := range w.Sessions {
		parentID := session.Info.ParentID
		if parentID != "" && parentID != session.Info.ID {
			if _, ok := w.sessionIndex[parentID]; ok {
				continue
			}
		}
		roots = append(roots, build(session.Info.ID, 0))
	}
	drain()

	// Whatever is still unattached has a resolvable parent that never
	// got built: a parent cycle. Promote those too, in recency order.
	for _, session := range w.Sessions {
		id := session.Info.ID
		if attached[id] || excluded[id] {
			continue
		}
		roots = append(roots, build(id, 0))
		drain()
	}
	return roots
}
