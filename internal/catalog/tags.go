package catalog

import (
	"context"
	"fmt"

	"media-vault/internal/database"
	"media-vault/internal/events"
	"media-vault/internal/logging"
	"media-vault/internal/taggraph"
	"media-vault/internal/tagmatch"
)

// TagSpec describes a tag to create. ParentIDs and ChildIDs seed the new
// tag's relations; edits that would violate acyclicity are reported per edge
// and dropped.
type TagSpec struct {
	Label        string   `json:"label"`
	Aliases      []string `json:"aliases,omitempty"`
	ParentIDs    []int64  `json:"parentIds,omitempty"`
	ChildIDs     []int64  `json:"childIds,omitempty"`
	RegexPattern string   `json:"regexPattern,omitempty"`
	RegexTargets int      `json:"regexTargets"`
}

// TagEdit carries the optional field changes of a tag edit. Nil fields keep
// the stored value, so a rename-only request leaves aliases and the regex
// mapping untouched. WithSub widens the change notification to the tag's
// descendants.
type TagEdit struct {
	Label        *string  `json:"label"`
	Aliases      []string `json:"aliases"`
	RegexPattern *string  `json:"regexPattern"`
	RegexTargets *int     `json:"regexTargets"`
	WithSub      bool     `json:"withSub"`
}

// MergeSpec is the caller-chosen unified shape of a merge. Zero-valued
// fields fall back to the union of the two tags: empty label keeps the kept
// tag's label, nil aliases absorb both tags' labels and aliases, nil parent
// or child ids take the union of both tags' relations.
type MergeSpec struct {
	Label        string   `json:"label,omitempty"`
	Aliases      []string `json:"aliases,omitempty"`
	ParentIDs    []int64  `json:"parentIds,omitempty"`
	ChildIDs     []int64  `json:"childIds,omitempty"`
	RegexPattern string   `json:"regexPattern,omitempty"`
	RegexTargets *int     `json:"regexTargets,omitempty"`
}

// RelationEdit is one requested parent/child change on a tag edit.
type RelationEdit struct {
	Add      bool  `json:"add"`
	ParentID int64 `json:"parentId"`
	ChildID  int64 `json:"childId"`
}

// RelationEditResult reports the outcome of one relation edit. Error is
// empty on success.
type RelationEditResult struct {
	RelationEdit
	Error string `json:"error,omitempty"`
}

// CreateTag persists a new tag, adds it to the graph with its requested
// initial relations, and rebuilds the matcher. An empty RegexPattern defaults
// to the canonical pattern derived from the label and aliases.
func (c *Catalog) CreateTag(ctx context.Context, spec TagSpec) (*database.Tag, []RelationEditResult, error) {
	if spec.Label == "" {
		return nil, nil, fmt.Errorf("tag label must not be empty")
	}

	tag := &database.Tag{
		Label:        spec.Label,
		Aliases:      spec.Aliases,
		RegexPattern: spec.RegexPattern,
		RegexTargets: spec.RegexTargets,
	}
	if tag.RegexPattern == "" {
		tag.RegexPattern = tagmatch.PatternFromLabel(tag.Label, tag.Aliases)
	}

	id, err := c.db.CreateTag(ctx, tag)
	if err != nil {
		return nil, nil, err
	}
	tag.ID = id
	c.graph.AddTag(id)

	edits := make([]RelationEdit, 0, len(spec.ParentIDs)+len(spec.ChildIDs))
	for _, parent := range spec.ParentIDs {
		edits = append(edits, RelationEdit{Add: true, ParentID: parent, ChildID: id})
	}
	for _, child := range spec.ChildIDs {
		edits = append(edits, RelationEdit{Add: true, ParentID: id, ChildID: child})
	}
	results, changed := c.applyRelationEdits(ctx, edits)
	if len(changed) > 0 {
		changed[id] = struct{}{}
		if err := c.RegenTagAncestors(ctx, setToIDs(changed)); err != nil {
			return nil, nil, err
		}
		if err := c.db.RecalculateTagCounts(ctx); err != nil {
			return nil, nil, err
		}
	}

	if err := c.RebuildMatcher(ctx); err != nil {
		logging.Warn("matcher rebuild after tag create failed: %v", err)
	}
	c.bus.Publish(events.Event{
		Name:    events.TagsUpdated,
		Payload: events.TagsUpdatedPayload{Tags: []events.TagUpdate{{TagID: id}}},
	})
	logging.Info("created tag %d (%s)", id, tag.Label)
	return tag, results, nil
}

// applyRelationEdits applies relation edits to the graph in request order and
// persists the accepted ones. Rejected edits (cycles, unknown tags) are
// reported per edit without aborting the rest. The returned set holds every
// tag whose relations actually changed.
func (c *Catalog) applyRelationEdits(ctx context.Context, edits []RelationEdit) ([]RelationEditResult, map[int64]struct{}) {
	if len(edits) == 0 {
		return nil, nil
	}

	graphEdits := make([]taggraph.Edit, 0, len(edits))
	for _, edit := range edits {
		op := taggraph.OpRemove
		if edit.Add {
			op = taggraph.OpAdd
		}
		graphEdits = append(graphEdits, taggraph.Edit{Op: op, ParentID: edit.ParentID, ChildID: edit.ChildID})
	}
	outcomes := c.graph.ApplyEdits(graphEdits)

	results := make([]RelationEditResult, 0, len(outcomes))
	changed := make(map[int64]struct{})
	for i, outcome := range outcomes {
		result := RelationEditResult{RelationEdit: edits[i]}
		if outcome.Err != nil {
			result.Error = outcome.Err.Error()
			results = append(results, result)
			continue
		}
		var err error
		if edits[i].Add {
			err = c.db.AddRelation(ctx, edits[i].ParentID, edits[i].ChildID)
		} else {
			err = c.db.RemoveRelation(ctx, edits[i].ParentID, edits[i].ChildID)
		}
		if err != nil {
			// The graph applied the edit; a persistence failure leaves the
			// two out of sync, so reload from the store.
			logging.Error("failed to persist relation edit %+v: %v", edits[i], err)
			if reloadErr := c.ReloadGraph(ctx); reloadErr != nil {
				logging.Error("graph reload after failed edit persist failed: %v", reloadErr)
			}
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		changed[edits[i].ParentID] = struct{}{}
		changed[edits[i].ChildID] = struct{}{}
		results = append(results, result)
	}
	return results, changed
}

func setToIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// EditTag updates a tag's supplied fields and applies its relation edits in
// request order. Omitted fields keep their stored values; in particular a
// rename-only edit leaves the regex mapping intact. Rejected relation edits
// (cycles) are reported per edit and do not abort the rest; successful edits
// are persisted. When any relation changed, affected file closures and tag
// counts are refreshed and subscribers are told to reload file lists.
func (c *Catalog) EditTag(ctx context.Context, id int64, edit TagEdit, edits []RelationEdit) (*database.Tag, []RelationEditResult, error) {
	tag, err := c.db.GetTag(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	// A pattern equal to the canonical one for the old label/aliases was
	// auto-derived, so it follows the new label unless the caller pins it.
	derivedPattern := tag.RegexPattern == "" ||
		tag.RegexPattern == tagmatch.PatternFromLabel(tag.Label, tag.Aliases)

	if edit.Label != nil && *edit.Label != "" {
		tag.Label = *edit.Label
	}
	if edit.Aliases != nil {
		tag.Aliases = edit.Aliases
	}
	if edit.RegexTargets != nil {
		tag.RegexTargets = *edit.RegexTargets
	}
	if edit.RegexPattern != nil {
		tag.RegexPattern = *edit.RegexPattern
	}
	if tag.RegexPattern == "" || (edit.RegexPattern == nil && derivedPattern) {
		tag.RegexPattern = tagmatch.PatternFromLabel(tag.Label, tag.Aliases)
	}
	if err := c.db.UpdateTag(ctx, tag); err != nil {
		return nil, nil, err
	}

	results, changed := c.applyRelationEdits(ctx, edits)
	relationsChanged := len(changed) > 0
	if relationsChanged {
		changed[id] = struct{}{}
		if err := c.RegenTagAncestors(ctx, setToIDs(changed)); err != nil {
			return nil, nil, err
		}
		if err := c.db.RecalculateTagCounts(ctx); err != nil {
			return nil, nil, err
		}
	}
	if err := c.RebuildMatcher(ctx); err != nil {
		logging.Warn("matcher rebuild after tag edit failed: %v", err)
	}

	updates := []events.TagUpdate{{TagID: id}}
	if edit.WithSub {
		for _, descendant := range c.graph.DescendantsOf(id) {
			updates = append(updates, events.TagUpdate{TagID: descendant})
		}
	}
	c.bus.Publish(events.Event{
		Name: events.TagsUpdated,
		Payload: events.TagsUpdatedPayload{
			Tags:           updates,
			WithFileReload: relationsChanged,
		},
	})
	return tag, results, nil
}

// MergeTags folds mergeID into keepID, with the unified tag shaped by spec:
// the human resolving the merge chooses the final label, aliases, relations,
// and regex mapping, with the union of the two tags as the default for
// anything omitted. Edges that would break acyclicity are dropped per the
// graph's merge rules. Storage and memory are reconciled: the store change is
// one transaction, and on failure the graph is reloaded from the store.
func (c *Catalog) MergeTags(ctx context.Context, keepID, mergeID int64, spec MergeSpec) (*database.Tag, error) {
	keep, err := c.db.GetTag(ctx, keepID)
	if err != nil {
		return nil, fmt.Errorf("keep tag: %w", err)
	}
	merge, err := c.db.GetTag(ctx, mergeID)
	if err != nil {
		return nil, fmt.Errorf("merge tag: %w", err)
	}

	unified := &database.Tag{
		ID:           keep.ID,
		Label:        keep.Label,
		RegexTargets: keep.RegexTargets | merge.RegexTargets,
		RegexPattern: spec.RegexPattern,
	}
	if spec.Label != "" {
		unified.Label = spec.Label
	}
	if spec.Aliases != nil {
		unified.Aliases = spec.Aliases
	} else {
		unified.Aliases = unionAliases(unified.Label, keep, merge)
	}
	if spec.RegexTargets != nil {
		unified.RegexTargets = *spec.RegexTargets
	}
	if unified.RegexPattern == "" {
		unified.RegexPattern = tagmatch.PatternFromLabel(unified.Label, unified.Aliases)
	}

	parents, children := spec.ParentIDs, spec.ChildIDs
	unionParents, unionChildren := c.graph.UnionRelations(keepID, mergeID)
	if parents == nil {
		parents = unionParents
	}
	if children == nil {
		children = unionChildren
	}
	plan, err := c.graph.Merge(keepID, mergeID, parents, children)
	if err != nil {
		return nil, err
	}

	if err := c.db.MergeTags(ctx, keepID, mergeID, unified, plan.Edges); err != nil {
		logging.Error("tag merge %d<-%d failed to persist, reloading graph: %v", keepID, mergeID, err)
		if reloadErr := c.ReloadGraph(ctx); reloadErr != nil {
			logging.Error("graph reload after failed merge failed: %v", reloadErr)
		}
		return nil, err
	}

	if err := c.regenFileAncestorsForTags(ctx, plan.Affected); err != nil {
		return nil, err
	}
	if err := c.db.RecalculateTagCounts(ctx); err != nil {
		return nil, err
	}
	if err := c.RebuildMatcher(ctx); err != nil {
		logging.Warn("matcher rebuild after tag merge failed: %v", err)
	}

	c.bus.Publish(events.Event{
		Name:    events.TagMerged,
		Payload: events.TagMergedPayload{OldTagID: mergeID, NewTagID: keepID},
	})
	logging.Info("merged tag %d (%s) into %d (%s), %d edges kept, %d dropped",
		mergeID, merge.Label, keepID, keep.Label, len(plan.Edges), len(plan.Dropped))
	return unified, nil
}

// RegenTagAncestors regenerates graph closures for the given tags and their
// transitive dependents, then rewrites the denormalized per-file ancestor
// rows of every file carrying any affected tag.
func (c *Catalog) RegenTagAncestors(ctx context.Context, tagIDs []int64) error {
	affected := make(map[int64]struct{})
	for _, id := range tagIDs {
		affected[id] = struct{}{}
		for _, a := range c.graph.AncestorsOf(id) {
			affected[a] = struct{}{}
		}
		for _, d := range c.graph.DescendantsOf(id) {
			affected[d] = struct{}{}
		}
	}
	c.graph.RegenerateClosures(tagIDs)

	ids := make([]int64, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	return c.regenFileAncestorsForTags(ctx, ids)
}

// regenFileAncestorsForTags rewrites the ancestor rows of every file whose
// direct tags include any of the given tags.
func (c *Catalog) regenFileAncestorsForTags(ctx context.Context, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	fileIDs, err := c.db.ListFileIDsWithTags(ctx, tagIDs)
	if err != nil {
		return err
	}
	for _, fileID := range fileIDs {
		if err := c.refreshFileAncestors(ctx, fileID); err != nil {
			return fmt.Errorf("failed to refresh ancestors for file %d: %w", fileID, err)
		}
	}
	return nil
}

// RecalculateTagCounts recomputes direct and with-descendant counts for all
// tags and notifies subscribers.
func (c *Catalog) RecalculateTagCounts(ctx context.Context) error {
	if err := c.db.RecalculateTagCounts(ctx); err != nil {
		return err
	}
	c.bus.Publish(events.Event{
		Name:    events.TagsUpdated,
		Payload: events.TagsUpdatedPayload{},
	})
	return nil
}

// ReloadGraph rebuilds the in-memory graph from the store. Used at startup
// and to re-sync after a persistence failure mid graph mutation.
func (c *Catalog) ReloadGraph(ctx context.Context) error {
	tags, err := c.db.ListTags(ctx)
	if err != nil {
		return err
	}
	edges, err := c.db.ListRelations(ctx)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(tags))
	for _, tag := range tags {
		ids = append(ids, tag.ID)
	}
	c.graph.Load(ids, edges)
	return nil
}

// DeleteTag removes a tag everywhere: store (attachments cascade), graph,
// and matcher.
func (c *Catalog) DeleteTag(ctx context.Context, id int64) error {
	descendants := c.graph.DescendantsOf(id)
	ancestors := c.graph.AncestorsOf(id)

	if _, err := c.db.GetTag(ctx, id); err != nil {
		return err
	}
	if err := c.db.DeleteTag(ctx, id); err != nil {
		return fmt.Errorf("failed to delete tag %d: %w", id, err)
	}
	c.graph.RemoveTag(id)

	neighbors := append(append([]int64{}, descendants...), ancestors...)
	if len(neighbors) > 0 {
		if err := c.regenFileAncestorsForTags(ctx, neighbors); err != nil {
			return err
		}
	}
	if err := c.db.RecalculateTagCounts(ctx); err != nil {
		return err
	}
	if err := c.RebuildMatcher(ctx); err != nil {
		logging.Warn("matcher rebuild after tag delete failed: %v", err)
	}
	c.bus.Publish(events.Event{
		Name: events.TagsUpdated,
		Payload: events.TagsUpdatedPayload{
			Tags:           []events.TagUpdate{{TagID: id}},
			WithFileReload: true,
		},
	})
	return nil
}

// unionAliases combines both tags' labels and aliases into the unified
// tag's alias set, case-preserving and order-stable, without duplicating the
// unified label itself.
func unionAliases(label string, keep, merge *database.Tag) []string {
	seen := map[string]struct{}{label: {}}
	var out []string
	add := func(values ...string) {
		for _, v := range values {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	add(keep.Label)
	add(keep.Aliases...)
	add(merge.Label)
	add(merge.Aliases...)
	return out
}
