package catalog

import (
	"context"

	"media-vault/internal/database"
)

// Read-side passthroughs for transport adapters.

// ListTags returns every tag ordered by label.
func (c *Catalog) ListTags(ctx context.Context) ([]*database.Tag, error) {
	return c.db.ListTags(ctx)
}

// GetTag returns one tag by id.
func (c *Catalog) GetTag(ctx context.Context, id int64) (*database.Tag, error) {
	return c.db.GetTag(ctx, id)
}

// TagNeighbors returns a tag's direct parents and children from the graph.
func (c *Catalog) TagNeighbors(id int64) (parents, children []int64) {
	return c.graph.ParentsOf(id), c.graph.ChildrenOf(id)
}

// BatchStatus is a batch together with its items.
type BatchStatus struct {
	Batch  *database.ImportBatch  `json:"batch"`
	Items  []*database.ImportItem `json:"items"`
	Active bool                   `json:"active"`
}

// GetBatchStatus returns a batch, its items, and whether it is in flight.
func (c *Catalog) GetBatchStatus(ctx context.Context, id string) (*BatchStatus, error) {
	batch, err := c.db.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := c.db.ListBatchItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return &BatchStatus{Batch: batch, Items: items, Active: c.tracker.Active(id)}, nil
}

// GetFileByHash returns the record for a content hash.
func (c *Catalog) GetFileByHash(ctx context.Context, hash string) (*database.FileRecord, error) {
	return c.db.GetFileByHash(ctx, hash)
}

// GetFileByID returns one file record.
func (c *Catalog) GetFileByID(ctx context.Context, id int64) (*database.FileRecord, error) {
	return c.db.GetFileByID(ctx, id)
}

// DeleteFile removes a record and optionally remembers its hash so the same
// content is skipped on future imports.
func (c *Catalog) DeleteFile(ctx context.Context, id int64, rememberHash bool) error {
	if err := c.db.DeleteFile(ctx, id, rememberHash); err != nil {
		return err
	}
	return c.db.RecalculateTagCounts(ctx)
}

// CreateCollection creates a grouping target and returns its id.
func (c *Catalog) CreateCollection(ctx context.Context, title string) (int64, error) {
	return c.db.CreateCollection(ctx, title)
}
