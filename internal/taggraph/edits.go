package taggraph

import (
	"errors"

	"media-vault/internal/metrics"
)

// EditOp distinguishes relation edit kinds.
type EditOp uint8

const (
	// OpAdd inserts a parent→child edge.
	OpAdd EditOp = iota
	// OpRemove deletes a parent→child edge.
	OpRemove
)

// Edit is a single requested relation change.
type Edit struct {
	Op       EditOp
	ParentID int64
	ChildID  int64
}

// EditResult pairs an edit with its outcome. Err is nil on success and
// wraps ErrCycle when the edit was rejected.
type EditResult struct {
	Edit Edit
	Err  error
}

// ApplyEdits evaluates relation edits strictly in request order: each edit
// sees the graph as modified by the edits before it, so a removal earlier in
// the batch can make a later addition legal. Rejected edits are reported in
// the results and do not abort the batch.
func (g *Graph) ApplyEdits(edits []Edit) []EditResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	results := make([]EditResult, 0, len(edits))
	for _, edit := range edits {
		var err error
		switch edit.Op {
		case OpAdd:
			err = g.addRelationLocked(edit.ParentID, edit.ChildID)
			if errors.Is(err, ErrCycle) {
				metrics.TagGraphCycleRejections.Inc()
			}
		case OpRemove:
			delete(g.children[edit.ParentID], edit.ChildID)
			delete(g.parents[edit.ChildID], edit.ParentID)
			g.invalidateDownLocked(edit.ChildID)
			g.invalidateUpLocked(edit.ParentID)
		}
		results = append(results, EditResult{Edit: edit, Err: err})
	}

	g.updateSizeMetricsLocked()
	return results
}
