package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"media-vault/internal/database"
	"media-vault/internal/events"
	"media-vault/internal/importer"
	"media-vault/internal/logging"
	"media-vault/internal/taggraph"
	"media-vault/internal/tagmatch"
)

// Catalog is the command layer. It coordinates the store, the in-memory tag
// graph, the regex matcher, and the import pipeline, and publishes change
// events. Transport adapters call into it; it contains no transport concerns.
type Catalog struct {
	db       *database.Database
	graph    *taggraph.Graph
	resolver *importer.TagResolver
	tracker  *importer.Tracker
	bus      events.Publisher
}

// New wires a Catalog over its collaborators.
func New(db *database.Database, graph *taggraph.Graph, resolver *importer.TagResolver, tracker *importer.Tracker, bus events.Publisher) *Catalog {
	return &Catalog{
		db:       db,
		graph:    graph,
		resolver: resolver,
		tracker:  tracker,
		bus:      bus,
	}
}

// ItemSpec is one file requested for import.
type ItemSpec struct {
	Path   string  `json:"path"`
	Size   int64   `json:"size"`
	TagIDs []int64 `json:"tagIds,omitempty"`
}

// BatchSpec describes one import batch to create.
type BatchSpec struct {
	CollectionID      int64      `json:"collectionId,omitempty"`
	TagIDs            []int64    `json:"tagIds,omitempty"`
	DeleteOnImport    bool       `json:"deleteOnImport"`
	IgnorePrevDeleted bool       `json:"ignorePrevDeleted"`
	Items             []ItemSpec `json:"items"`
}

// CreateImportBatches persists the given batch specs and returns their ids.
// The call is all or nothing: if any batch fails to persist, batches already
// created by this call are rolled back and an error is returned.
func (c *Catalog) CreateImportBatches(ctx context.Context, specs []BatchSpec) ([]string, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no batches given")
	}

	created := make([]string, 0, len(specs))
	for _, spec := range specs {
		batch := &database.ImportBatch{
			ID:                uuid.NewString(),
			CollectionID:      spec.CollectionID,
			TagIDs:            spec.TagIDs,
			DeleteOnImport:    spec.DeleteOnImport,
			IgnorePrevDeleted: spec.IgnorePrevDeleted,
		}
		items := make([]*database.ImportItem, 0, len(spec.Items))
		for _, item := range spec.Items {
			items = append(items, &database.ImportItem{
				ID:      uuid.NewString(),
				BatchID: batch.ID,
				Path:    item.Path,
				Size:    item.Size,
				TagIDs:  item.TagIDs,
			})
		}

		if err := c.db.CreateBatch(ctx, batch, items); err != nil {
			for _, id := range created {
				if delErr := c.db.DeleteBatch(ctx, id); delErr != nil {
					logging.Error("rollback of batch %s failed: %v", id, delErr)
				}
			}
			return nil, fmt.Errorf("failed to create import batch: %w", err)
		}
		created = append(created, batch.ID)
	}

	logging.Info("created %d import batch(es)", len(created))
	return created, nil
}

// StartImportBatch marks a batch started and hands its items to the import
// pipeline. Starting an already started batch is rejected by the store.
func (c *Catalog) StartImportBatch(ctx context.Context, id string) (time.Time, error) {
	started, err := c.db.MarkBatchStarted(ctx, id)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to start batch %s: %w", id, err)
	}

	batch, err := c.db.GetBatch(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	items, err := c.db.ListBatchItems(ctx, id)
	if err != nil {
		return time.Time{}, err
	}

	// The batch outlives the request that started it; its cancellation is
	// driven by CancelBatch, not by the caller's context.
	if err := c.tracker.StartBatch(context.Background(), batch, items); err != nil {
		return time.Time{}, err
	}
	return started, nil
}

// CompleteImportBatch applies batch-level tags and a collection to the given
// member records, refreshes closures and counts, and marks the batch
// completed. The tracker uses it when the last item lands; it is also a
// command for callers finalizing an externally assembled batch.
func (c *Catalog) CompleteImportBatch(ctx context.Context, id string, collectionID int64, fileIDs, tagIDs []int64) (time.Time, error) {
	for _, fileID := range fileIDs {
		if len(tagIDs) > 0 {
			if err := c.db.AttachTags(ctx, fileID, tagIDs); err != nil {
				return time.Time{}, fmt.Errorf("failed to tag file %d: %w", fileID, err)
			}
			if err := c.refreshFileAncestors(ctx, fileID); err != nil {
				return time.Time{}, err
			}
		}
		if collectionID != 0 {
			if err := c.db.SetFileCollection(ctx, fileID, collectionID); err != nil {
				return time.Time{}, fmt.Errorf("failed to assign file %d to collection %d: %w", fileID, collectionID, err)
			}
		}
	}

	if err := c.db.RecalculateTagCounts(ctx); err != nil {
		return time.Time{}, err
	}
	completed, err := c.db.MarkBatchCompleted(ctx, id)
	if err != nil {
		return time.Time{}, err
	}

	c.bus.Publish(events.Event{
		Name:    events.ImportBatchCompleted,
		Payload: events.BatchCompletedPayload{ID: id},
	})
	return completed, nil
}

// DeleteImportBatches cancels any in-flight work for the given batches and
// removes their rows. Files already imported stay; only the batch bookkeeping
// goes away.
func (c *Catalog) DeleteImportBatches(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if c.tracker.CancelBatch(id) {
			logging.Info("cancelled in-flight batch %s before deletion", id)
		}
		if err := c.db.DeleteBatch(ctx, id); err != nil {
			return fmt.Errorf("failed to delete batch %s: %w", id, err)
		}
	}
	return nil
}

// CancelImportBatch stops an in-flight batch without deleting it. Returns
// false if the batch has no outstanding items.
func (c *Catalog) CancelImportBatch(id string) bool {
	return c.tracker.CancelBatch(id)
}

// refreshFileAncestors recomputes the denormalized ancestor closure for one
// file from its current direct tags.
func (c *Catalog) refreshFileAncestors(ctx context.Context, fileID int64) error {
	direct, err := c.db.GetFileTagIDs(ctx, fileID)
	if err != nil {
		return err
	}
	closure := make(map[int64]struct{}, len(direct))
	ordered := make([]int64, 0, len(direct))
	for _, id := range direct {
		if _, ok := closure[id]; !ok {
			closure[id] = struct{}{}
			ordered = append(ordered, id)
		}
	}
	for _, id := range direct {
		for _, ancestor := range c.graph.AncestorsOf(id) {
			if _, ok := closure[ancestor]; !ok {
				closure[ancestor] = struct{}{}
				ordered = append(ordered, ancestor)
			}
		}
	}
	return c.db.ReplaceFileTagAncestors(ctx, fileID, ordered)
}

// RebuildMatcher recompiles the regex matcher from the current tag set and
// swaps it into the import pipeline.
func (c *Catalog) RebuildMatcher(ctx context.Context) error {
	tags, err := c.db.ListTags(ctx)
	if err != nil {
		return err
	}

	var mappings []tagmatch.Mapping
	for _, tag := range tags {
		if tag.RegexTargets == 0 {
			continue
		}
		pattern := tag.RegexPattern
		if pattern == "" {
			pattern = tagmatch.PatternFromLabel(tag.Label, tag.Aliases)
		}
		if pattern == "" {
			continue
		}
		mappings = append(mappings, tagmatch.Mapping{
			Pattern: pattern,
			TagID:   tag.ID,
			Targets: tagmatch.Target(tag.RegexTargets),
		})
	}

	matcher := tagmatch.New(mappings)
	c.resolver.UpdateMatcher(matcher)
	logging.Debug("rebuilt tag matcher: %d mappings, %d skipped", matcher.Len(), len(matcher.SkippedMappings()))
	return nil
}
