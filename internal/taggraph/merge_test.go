package taggraph

import (
	"errors"
	"reflect"
	"sort"
	"testing"
)

func TestMergeUnionsRelations(t *testing.T) {
	t.Parallel()

	// animal -> dog, pet -> doggo; merge doggo (4) into dog (2).
	g := New()
	mustAdd(t, g, 1, 2)
	mustAdd(t, g, 3, 4)

	parents, children := g.UnionRelations(2, 4)
	if !reflect.DeepEqual(parents, []int64{1, 3}) {
		t.Fatalf("UnionRelations parents = %v, want [1 3]", parents)
	}
	if len(children) != 0 {
		t.Fatalf("UnionRelations children = %v, want empty", children)
	}

	result, err := g.Merge(2, 4, parents, children)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(result.Dropped) != 0 {
		t.Errorf("Unexpected dropped edges: %v", result.Dropped)
	}

	if g.HasTag(4) {
		t.Error("Merged tag should be removed from the graph")
	}
	if got := g.AncestorsOf(2); !reflect.DeepEqual(got, []int64{1, 3}) {
		t.Errorf("AncestorsOf(2) = %v, want [1 3]", got)
	}
}

func TestMergeDropsCycleFormingEdges(t *testing.T) {
	t.Parallel()

	// a -> b -> c; merge c into a with b requested as a parent of a. That
	// edge would close a cycle through the surviving b and must be dropped.
	g := New()
	mustAdd(t, g, 1, 2)
	mustAdd(t, g, 2, 3)

	result, err := g.Merge(1, 3, []int64{2}, []int64{2})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	// Parents are evaluated before children, so 2->1 lands and the
	// conflicting child edge 1->2 is the one dropped.
	if len(result.Dropped) != 1 {
		t.Fatalf("Expected 1 dropped edge, got %v", result.Dropped)
	}
	if result.Dropped[0] != (Edge{ParentID: 1, ChildID: 2}) {
		t.Errorf("Dropped = %v, want {1 2}", result.Dropped[0])
	}
	if got := g.AncestorsOf(1); !reflect.DeepEqual(got, []int64{2}) {
		t.Errorf("AncestorsOf(1) = %v, want [2]", got)
	}
}

func TestMergeRewritesMergedIDInUnifiedSets(t *testing.T) {
	t.Parallel()

	// merged tag appears in the unified parent set; it must be rewritten to
	// the kept tag and then dropped as a self-loop.
	g := New()
	g.AddTag(1)
	g.AddTag(2)
	mustAdd(t, g, 2, 3)

	result, err := g.Merge(1, 2, []int64{2}, []int64{3})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if len(result.Dropped) != 1 {
		t.Fatalf("Expected 1 dropped edge, got %v", result.Dropped)
	}
	if got := g.ChildrenOf(1); !reflect.DeepEqual(got, []int64{3}) {
		t.Errorf("ChildrenOf(1) = %v, want [3]", got)
	}
}

func TestMergeUnknownTag(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddTag(1)

	if _, err := g.Merge(1, 99, nil, nil); !errors.Is(err, ErrTagNotFound) {
		t.Errorf("Expected ErrTagNotFound, got %v", err)
	}
	if _, err := g.Merge(99, 1, nil, nil); !errors.Is(err, ErrTagNotFound) {
		t.Errorf("Expected ErrTagNotFound, got %v", err)
	}
	if _, err := g.Merge(1, 1, nil, nil); err == nil {
		t.Error("Expected error merging a tag into itself")
	}
}

func TestMergeAffectedClosuresRefreshed(t *testing.T) {
	t.Parallel()

	// root -> old, root -> keep; child under old moves with the union.
	g := New()
	mustAdd(t, g, 1, 2)
	mustAdd(t, g, 1, 3)
	mustAdd(t, g, 2, 4)

	parents, children := g.UnionRelations(3, 2)
	result, err := g.Merge(3, 2, parents, children)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	sort.Slice(result.Affected, func(i, j int) bool { return result.Affected[i] < result.Affected[j] })
	if !reflect.DeepEqual(result.Affected, []int64{1, 3, 4}) {
		t.Errorf("Affected = %v, want [1 3 4]", result.Affected)
	}

	if got := g.AncestorsOf(4); !reflect.DeepEqual(got, []int64{1, 3}) {
		t.Errorf("AncestorsOf(4) = %v, want [1 3]", got)
	}
}
