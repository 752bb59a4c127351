// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package world

import (
	"fmt"
	"testing"
)

func treeIDs(nodes []TreeNode) []string {
	ids := make([]string, 0, len(nodes))
	for _, node := range nodes {
		ids = append(ids, node.Session.Info.ID)
	}
	return ids
}

// findNode walks the tree depth-first for a session ID.
func findNode(nodes []TreeNode, id string) (TreeNode, bool) {
	for _, node := range nodes {
		if node.Session.Info.ID == id {
			return node, true
		}
		if found, ok := findNode(node.Children, id); ok {
			return found, true
		}
	}
	return TreeNode{}, false
}

func TestSessionTreeNestsAndSortsChildren(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.UpsertSession(session("ses_p", "/work/app", 100), "")
	older := session("ses_old", "/work/app", 1000)
	older.ParentID = "ses_p"
	store.UpsertSession(older, "")
	newer := session("ses_new", "/work/app", 2000)
	newer.ParentID = "ses_p"
	store.UpsertSession(newer, "")

	state := deriveFromStore(store)
	roots := state.SessionTree()
	if len(roots) != 1 {
		t.Fatalf("roots = %v, want only the parent", treeIDs(roots))
	}
	parent := roots[0]
	if parent.Session.Info.ID != "ses_p" || parent.Depth != 0 {
		t.Fatalf("root = %q depth %d, want ses_p at 0", parent.Session.Info.ID, parent.Depth)
	}
	got := treeIDs(parent.Children)
	if len(got) != 2 || got[0] != "ses_new" || got[1] != "ses_old" {
		t.Errorf("children = %v, want newest first", got)
	}
	for _, child := range parent.Children {
		if child.Depth != 1 {
			t.Errorf("child %q depth = %d, want 1", child.Session.Info.ID, child.Depth)
		}
	}
}

func TestSessionTreeDepthLimit(t *testing.T) {
	t.Parallel()

	// A chain of six. The fifth level sits at the depth limit and keeps
	// no children; the sixth surfaces as a root.
	store := NewStore()
	chain := []string{"ses_a", "ses_b", "ses_c", "ses_d", "ses_e", "ses_f"}
	for i, id := range chain {
		s := session(id, "/work/app", int64(1000+i))
		if i > 0 {
			s.ParentID = chain[i-1]
		}
		store.UpsertSession(s, "")
	}

	state := deriveFromStore(store)
	roots := state.SessionTree()
	got := treeIDs(roots)
	if len(got) != 2 || got[0] != "ses_a" || got[1] != "ses_f" {
		t.Fatalf("roots = %v, want [ses_a ses_f]", got)
	}

	for depth, id := range chain[:5] {
		node, ok := findNode(roots, id)
		if !ok {
			t.Fatalf("%q missing from tree", id)
		}
		if node.Depth != depth {
			t.Errorf("%q depth = %d, want %d", id, node.Depth, depth)
		}
	}
	leaf, _ := findNode(roots, "ses_e")
	if len(leaf.Children) != 0 {
		t.Errorf("ses_e children = %v, want none at the depth limit", treeIDs(leaf.Children))
	}
	promoted, _ := findNode(roots, "ses_f")
	if promoted.Depth != 0 {
		t.Errorf("ses_f depth = %d, want promoted to root", promoted.Depth)
	}
}

func TestSessionTreeUnresolvableParentIsRoot(t *testing.T) {
	t.Parallel()

	store := NewStore()
	orphan := session("ses_orphan", "/work/app", 2000)
	orphan.ParentID = "ses_gone"
	store.UpsertSession(orphan, "")
	loop := session("ses_self", "/work/app", 1000)
	loop.ParentID = "ses_self"
	store.UpsertSession(loop, "")

	state := deriveFromStore(store)
	roots := state.SessionTree()
	got := treeIDs(roots)
	if len(got) != 2 || got[0] != "ses_orphan" || got[1] != "ses_self" {
		t.Fatalf("roots = %v, want both promoted in recency order", got)
	}
	for _, root := range roots {
		if root.Depth != 0 || len(root.Children) != 0 {
			t.Errorf("root %q = depth %d with %d children, want bare root",
				root.Session.Info.ID, root.Depth, len(root.Children))
		}
	}
}

func TestSessionTreeChildCapDropsSubtrees(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.UpsertSession(session("ses_p", "/work/app", 100), "")
	for i := 1; i <= MaxTreeChildren+2; i++ {
		child := session(fmt.Sprintf("ses_c%02d", i), "/work/app", int64(1000+i))
		child.ParentID = "ses_p"
		store.UpsertSession(child, "")
	}
	// The two oldest children fall past the cap. One of them has a
	// child of its own, which must vanish with it rather than float up.
	grandchild := session("ses_g", "/work/app", 9000)
	grandchild.ParentID = "ses_c01"
	store.UpsertSession(grandchild, "")

	state := deriveFromStore(store)
	roots := state.SessionTree()
	if len(roots) != 1 {
		t.Fatalf("roots = %v, want only the parent", treeIDs(roots))
	}
	children := treeIDs(roots[0].Children)
	if len(children) != MaxTreeChildren {
		t.Fatalf("len(children) = %d, want capped at %d", len(children), MaxTreeChildren)
	}
	if children[0] != "ses_c12" || children[len(children)-1] != "ses_c03" {
		t.Errorf("children = %v, want the %d most recent", children, MaxTreeChildren)
	}
	for _, id := range []string{"ses_c01", "ses_c02", "ses_g"} {
		if _, ok := findNode(roots, id); ok {
			t.Errorf("%q present in tree, want dropped past the cap", id)
		}
	}
}

func TestSessionTreeCycleBrokenAtNewest(t *testing.T) {
	t.Parallel()

	store := NewStore()
	first := session("ses_x", "/work/app", 2000)
	first.ParentID = "ses_y"
	store.UpsertSession(first, "")
	second := session("ses_y", "/work/app", 1000)
	second.ParentID = "ses_x"
	store.UpsertSession(second, "")

	state := deriveFromStore(store)
	roots := state.SessionTree()
	if len(roots) != 1 || roots[0].Session.Info.ID != "ses_x" {
		t.Fatalf("roots = %v, want cycle promoted at its newest member", treeIDs(roots))
	}
	if len(roots[0].Children) != 1 || roots[0].Children[0].Session.Info.ID != "ses_y" {
		t.Fatalf("children = %v, want ses_y nested under the break", treeIDs(roots[0].Children))
	}
}

func TestSessionTreeLeavesSnapshotIntact(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.UpsertSession(session("ses_p", "/work/app", 100), "")
	for i := 0; i < 3; i++ {
		child := session(fmt.Sprintf("ses_c%d", i), "/work/app", int64(1000-i))
		child.ParentID = "ses_p"
		store.UpsertSession(child, "")
	}

	state := deriveFromStore(store)
	var before []string
	for _, enriched := range state.Sessions {
		before = append(before, enriched.Info.ID)
	}
	state.SessionTree()
	for i, enriched := range state.Sessions {
		if enriched.Info.ID != before[i] {
			t.Fatalf("Sessions[%d] = %q after SessionTree, want %q untouched", i, enriched.Info.ID, before[i])
		}
	}
}
