package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CreateBatch persists an import batch and its items in one transaction.
// Item ids must be pre-assigned by the caller.
func (d *Database) CreateBatch(ctx context.Context, batch *ImportBatch, items []*ImportItem) (err error) {
	start := time.Now()
	defer func() { recordQuery("create_batch", start, err) }()

	tx, err := d.BeginBatch()
	if err != nil {
		return err
	}
	defer func() { err = d.EndBatch(tx, err) }()

	bg := context.Background()

	var collectionID interface{}
	if batch.CollectionID != 0 {
		collectionID = batch.CollectionID
	}
	if _, execErr := tx.ExecContext(bg,
		`INSERT INTO import_batches (id, collection_id, tag_ids, delete_on_import, ignore_prev_deleted)
		 VALUES (?, ?, ?, ?, ?)`,
		batch.ID, collectionID, encodeIDs(batch.TagIDs),
		batch.DeleteOnImport, batch.IgnorePrevDeleted); execErr != nil {
		err = execErr
		return err
	}

	for _, item := range items {
		if _, execErr := tx.ExecContext(bg,
			`INSERT INTO import_items (id, batch_id, path, size, status, tag_ids)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			item.ID, batch.ID, item.Path, item.Size, item.Status, encodeIDs(item.TagIDs)); execErr != nil {
			err = execErr
			return err
		}
	}
	return err
}

// GetBatch retrieves an import batch by id.
func (d *Database) GetBatch(ctx context.Context, id string) (*ImportBatch, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_batch", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var batch ImportBatch
	var collectionID sql.NullInt64
	var tagIDs string
	var createdAt int64
	var startedAt, completedAt sql.NullInt64

	err = d.db.QueryRowContext(ctx,
		`SELECT id, collection_id, tag_ids, delete_on_import, ignore_prev_deleted,
		        created_at, started_at, completed_at
		 FROM import_batches WHERE id = ?`, id).Scan(
		&batch.ID, &collectionID, &tagIDs, &batch.DeleteOnImport,
		&batch.IgnorePrevDeleted, &createdAt, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return nil, err
	}

	batch.CollectionID = collectionID.Int64
	batch.TagIDs = decodeIDs(tagIDs)
	batch.CreatedAt = time.Unix(createdAt, 0)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		batch.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		batch.CompletedAt = &t
	}
	return &batch, nil
}

// ErrAlreadyStarted is returned when a batch's started_at is already set.
var ErrAlreadyStarted = errors.New("batch already started")

// MarkBatchStarted stamps started_at and returns the stamped time. A missing
// batch yields ErrNotFound, a started one ErrAlreadyStarted.
func (d *Database) MarkBatchStarted(ctx context.Context, id string) (time.Time, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("mark_batch_started", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	now := time.Now()
	var result sql.Result
	result, err = d.db.ExecContext(ctx,
		`UPDATE import_batches SET started_at = ? WHERE id = ? AND started_at IS NULL`,
		now.Unix(), id)
	if err != nil {
		return time.Time{}, err
	}
	rows, raErr := result.RowsAffected()
	if raErr == nil && rows == 0 {
		var exists int
		scanErr := d.db.QueryRowContext(ctx,
			`SELECT 1 FROM import_batches WHERE id = ?`, id).Scan(&exists)
		if errors.Is(scanErr, sql.ErrNoRows) {
			err = ErrNotFound
		} else if scanErr != nil {
			err = scanErr
		} else {
			err = ErrAlreadyStarted
		}
		return time.Time{}, err
	}
	return now, nil
}

// MarkBatchCompleted stamps completed_at and returns the stamped time.
func (d *Database) MarkBatchCompleted(ctx context.Context, id string) (time.Time, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("mark_batch_completed", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	now := time.Now()
	_, err = d.db.ExecContext(ctx,
		`UPDATE import_batches SET completed_at = ? WHERE id = ?`, now.Unix(), id)
	if err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// DeleteBatch removes a batch; its items cascade.
func (d *Database) DeleteBatch(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_batch", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `DELETE FROM import_batches WHERE id = ?`, id)
	return err
}

// ListBatchItems returns every item in a batch.
func (d *Database) ListBatchItems(ctx context.Context, batchID string) ([]*ImportItem, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_batch_items", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, batch_id, path, size, status, error_msg, COALESCE(file_id, 0), thumb_path, tag_ids, created_at, updated_at
		 FROM import_items WHERE batch_id = ? ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*ImportItem
	for rows.Next() {
		var item ImportItem
		var tagIDs string
		var createdAt, updatedAt int64
		if err = rows.Scan(&item.ID, &item.BatchID, &item.Path, &item.Size, &item.Status,
			&item.ErrorMsg, &item.FileID, &item.ThumbPath, &tagIDs, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		item.TagIDs = decodeIDs(tagIDs)
		item.CreatedAt = time.Unix(createdAt, 0)
		item.UpdatedAt = time.Unix(updatedAt, 0)
		items = append(items, &item)
	}
	err = rows.Err()
	return items, err
}

// UpdateItem records an item's status transition and resolution fields.
func (d *Database) UpdateItem(ctx context.Context, item *ImportItem) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_item", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var fileID interface{}
	if item.FileID != 0 {
		fileID = item.FileID
	}
	_, err = d.db.ExecContext(ctx,
		`UPDATE import_items SET status = ?, error_msg = ?, file_id = ?, thumb_path = ?,
		 updated_at = strftime('%s', 'now') WHERE id = ?`,
		item.Status, item.ErrorMsg, fileID, item.ThumbPath, item.ID)
	return err
}

// CreateCollection inserts a collection and returns its id.
func (d *Database) CreateCollection(ctx context.Context, title string) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_collection", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx, `INSERT INTO collections (title) VALUES (?)`, title)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetCollection retrieves a collection by id.
func (d *Database) GetCollection(ctx context.Context, id int64) (*Collection, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_collection", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var c Collection
	var createdAt int64
	err = d.db.QueryRowContext(ctx,
		`SELECT id, title, created_at FROM collections WHERE id = ?`, id).Scan(
		&c.ID, &c.Title, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	return &c, nil
}
