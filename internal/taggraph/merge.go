package taggraph

import (
	"fmt"

	"media-vault/internal/logging"
	"media-vault/internal/metrics"
)

// MergeResult describes the graph changes applied by a merge.
type MergeResult struct {
	// Edges is the final edge set touching the kept tag.
	Edges []Edge
	// Dropped holds requested edges that were skipped because they would
	// have produced a self-loop or a cycle.
	Dropped []Edge
	// Affected lists every tag whose closure changed, including the kept
	// tag. The merged tag is not included; it no longer exists.
	Affected []int64
}

// Merge folds mergeID into keepID: the merged tag is removed and the kept
// tag's relations are replaced with the requested unified parent and child
// sets. References to the merged tag inside the unified sets are rewritten
// to the kept tag. Edges that would create a self-loop or a cycle are
// dropped silently, in request order, so the merge always succeeds on two
// existing tags.
func (g *Graph) Merge(keepID, mergeID int64, unifiedParents, unifiedChildren []int64) (*MergeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.tags[keepID]; !ok {
		return nil, fmt.Errorf("%w: keep tag %d", ErrTagNotFound, keepID)
	}
	if _, ok := g.tags[mergeID]; !ok {
		return nil, fmt.Errorf("%w: merge tag %d", ErrTagNotFound, mergeID)
	}
	if keepID == mergeID {
		return nil, fmt.Errorf("cannot merge tag %d into itself", keepID)
	}

	affected := make(map[int64]struct{})
	affected[keepID] = struct{}{}
	for id := range g.parents[keepID] {
		affected[id] = struct{}{}
	}
	for id := range g.children[keepID] {
		affected[id] = struct{}{}
	}
	for id := range g.parents[mergeID] {
		affected[id] = struct{}{}
	}
	for id := range g.children[mergeID] {
		affected[id] = struct{}{}
	}
	delete(affected, mergeID)

	g.removeTagLocked(mergeID)

	// Detach the kept tag; its relations are replaced wholesale by the
	// unified sets.
	for parent := range g.parents[keepID] {
		delete(g.children[parent], keepID)
	}
	for child := range g.children[keepID] {
		delete(g.parents[child], keepID)
	}
	g.parents[keepID] = make(map[int64]struct{})
	g.children[keepID] = make(map[int64]struct{})
	g.invalidateAllLocked()

	result := &MergeResult{}
	for _, parent := range unifiedParents {
		if parent == mergeID {
			parent = keepID
		}
		if _, ok := g.tags[parent]; !ok {
			result.Dropped = append(result.Dropped, Edge{ParentID: parent, ChildID: keepID})
			continue
		}
		if err := g.addRelationLocked(parent, keepID); err != nil {
			logging.Debug("merge %d<-%d: dropping parent edge %d->%d: %v", keepID, mergeID, parent, keepID, err)
			result.Dropped = append(result.Dropped, Edge{ParentID: parent, ChildID: keepID})
			continue
		}
		result.Edges = append(result.Edges, Edge{ParentID: parent, ChildID: keepID})
		affected[parent] = struct{}{}
	}
	for _, child := range unifiedChildren {
		if child == mergeID {
			child = keepID
		}
		if _, ok := g.tags[child]; !ok {
			result.Dropped = append(result.Dropped, Edge{ParentID: keepID, ChildID: child})
			continue
		}
		if err := g.addRelationLocked(keepID, child); err != nil {
			logging.Debug("merge %d<-%d: dropping child edge %d->%d: %v", keepID, mergeID, keepID, child, err)
			result.Dropped = append(result.Dropped, Edge{ParentID: keepID, ChildID: child})
			continue
		}
		result.Edges = append(result.Edges, Edge{ParentID: keepID, ChildID: child})
		affected[child] = struct{}{}
	}

	for id := range affected {
		result.Affected = append(result.Affected, id)
		g.ancestorCache[id] = g.computeClosureLocked(id, true)
		g.descendantCache[id] = g.computeClosureLocked(id, false)
	}

	g.updateSizeMetricsLocked()
	metrics.TagMergesTotal.WithLabelValues("ok").Inc()
	return result, nil
}

// UnionRelations returns the combined direct parents and children of two
// tags, with the pair itself excluded. It is the default unified relation
// set offered to a caller preparing a merge.
func (g *Graph) UnionRelations(keepID, mergeID int64) (parents, children []int64) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	parentSet := make(map[int64]struct{})
	childSet := make(map[int64]struct{})
	for _, id := range []int64{keepID, mergeID} {
		for p := range g.parents[id] {
			parentSet[p] = struct{}{}
		}
		for c := range g.children[id] {
			childSet[c] = struct{}{}
		}
	}
	delete(parentSet, keepID)
	delete(parentSet, mergeID)
	delete(childSet, keepID)
	delete(childSet, mergeID)

	return sortedKeys(parentSet), sortedKeys(childSet)
}
