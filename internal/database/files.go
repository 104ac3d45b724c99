package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicateHash is returned by InsertFile when a record with the same
// content hash already exists. Import workers treat this as losing the race
// to another worker and resolve the item as a duplicate.
var ErrDuplicateHash = errors.New("file with this hash already exists")

// InsertFile creates a new file record and returns its id.
func (d *Database) InsertFile(ctx context.Context, file *FileRecord) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("insert_file", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
	INSERT INTO files (hash, original_hash, path, size, width, height, duration, codec, thumb_path, is_corrupted, collection_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var collectionID interface{}
	if file.CollectionID != 0 {
		collectionID = file.CollectionID
	}

	result, err := d.db.ExecContext(ctx, query,
		file.Hash,
		file.OriginalHash,
		file.Path,
		file.Size,
		file.Width,
		file.Height,
		file.Duration,
		file.Codec,
		file.ThumbPath,
		file.IsCorrupted,
		collectionID,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			err = fmt.Errorf("%w: %s", ErrDuplicateHash, file.Hash)
		}
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	file.ID = id
	return id, nil
}

// GetFileByHash retrieves the file record for a content hash. Returns
// ErrNotFound when no record exists.
func (d *Database) GetFileByHash(ctx context.Context, hash string) (*FileRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_file_by_hash", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
	SELECT id, hash, original_hash, path, size, width, height, duration, codec,
	       thumb_path, is_corrupted, COALESCE(collection_id, 0), created_at, updated_at
	FROM files WHERE hash = ?
	`

	file, scanErr := scanFile(d.db.QueryRowContext(ctx, query, hash))
	err = scanErr
	return file, err
}

// GetFileByID retrieves a file record by id.
func (d *Database) GetFileByID(ctx context.Context, id int64) (*FileRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_file_by_id", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
	SELECT id, hash, original_hash, path, size, width, height, duration, codec,
	       thumb_path, is_corrupted, COALESCE(collection_id, 0), created_at, updated_at
	FROM files WHERE id = ?
	`

	file, scanErr := scanFile(d.db.QueryRowContext(ctx, query, id))
	err = scanErr
	return file, err
}

func scanFile(row *sql.Row) (*FileRecord, error) {
	var file FileRecord
	var createdAt, updatedAt int64

	err := row.Scan(
		&file.ID, &file.Hash, &file.OriginalHash, &file.Path, &file.Size,
		&file.Width, &file.Height, &file.Duration, &file.Codec,
		&file.ThumbPath, &file.IsCorrupted, &file.CollectionID,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	file.CreatedAt = time.Unix(createdAt, 0)
	file.UpdatedAt = time.Unix(updatedAt, 0)
	return &file, nil
}

// SetFileCollection assigns a file to a collection.
func (d *Database) SetFileCollection(ctx context.Context, fileID, collectionID int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_file_collection", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx,
		`UPDATE files SET collection_id = ?, updated_at = strftime('%s', 'now') WHERE id = ?`,
		collectionID, fileID)
	return err
}

// AttachTags adds direct tag attachments to a file. Existing attachments
// are left in place.
func (d *Database) AttachTags(ctx context.Context, fileID int64, tagIDs []int64) (err error) {
	if len(tagIDs) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { recordQuery("attach_tags", start, err) }()

	tx, err := d.BeginBatch()
	if err != nil {
		return err
	}
	defer func() { err = d.EndBatch(tx, err) }()

	for _, tagID := range tagIDs {
		if _, execErr := tx.ExecContext(context.Background(),
			`INSERT OR IGNORE INTO file_tags (file_id, tag_id) VALUES (?, ?)`,
			fileID, tagID); execErr != nil {
			err = execErr
			return err
		}
	}
	return err
}

// DetachTag removes a direct tag attachment from a file.
func (d *Database) DetachTag(ctx context.Context, fileID, tagID int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("detach_tag", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx,
		`DELETE FROM file_tags WHERE file_id = ? AND tag_id = ?`, fileID, tagID)
	return err
}

// GetFileTagIDs returns the direct tag attachments of a file.
func (d *Database) GetFileTagIDs(ctx context.Context, fileID int64) ([]int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_file_tags", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT tag_id FROM file_tags WHERE file_id = ? ORDER BY tag_id`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	return ids, err
}

// ReplaceFileTagAncestors rewrites the denormalized ancestor closure rows
// for a file in one transaction.
func (d *Database) ReplaceFileTagAncestors(ctx context.Context, fileID int64, tagIDs []int64) (err error) {
	start := time.Now()
	defer func() { recordQuery("replace_file_tag_ancestors", start, err) }()

	tx, err := d.BeginBatch()
	if err != nil {
		return err
	}
	defer func() { err = d.EndBatch(tx, err) }()

	if _, execErr := tx.ExecContext(context.Background(),
		`DELETE FROM file_tag_ancestors WHERE file_id = ?`, fileID); execErr != nil {
		err = execErr
		return err
	}
	for _, tagID := range tagIDs {
		if _, execErr := tx.ExecContext(context.Background(),
			`INSERT OR IGNORE INTO file_tag_ancestors (file_id, tag_id) VALUES (?, ?)`,
			fileID, tagID); execErr != nil {
			err = execErr
			return err
		}
	}
	return err
}

// GetFileTagAncestorIDs returns the denormalized closure rows for a file.
func (d *Database) GetFileTagAncestorIDs(ctx context.Context, fileID int64) ([]int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_file_tag_ancestors", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT tag_id FROM file_tag_ancestors WHERE file_id = ? ORDER BY tag_id`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	return ids, err
}

// ListFileIDsWithTags returns ids of files directly attached to any of the
// given tags.
func (d *Database) ListFileIDsWithTags(ctx context.Context, tagIDs []int64) ([]int64, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}

	start := time.Now()
	var err error
	defer func() { recordQuery("list_files_with_tags", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `SELECT DISTINCT file_id FROM file_tags WHERE tag_id IN (` + placeholders(len(tagIDs)) + `) ORDER BY file_id`
	args := make([]interface{}, len(tagIDs))
	for i, id := range tagIDs {
		args[i] = id
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	return ids, err
}

// DeleteFile removes a file record. With rememberHash set the content hash
// is added to the deleted-hash ledger so future imports can skip it.
func (d *Database) DeleteFile(ctx context.Context, fileID int64, rememberHash bool) (err error) {
	start := time.Now()
	defer func() { recordQuery("delete_file", start, err) }()

	tx, err := d.BeginBatch()
	if err != nil {
		return err
	}
	defer func() { err = d.EndBatch(tx, err) }()

	if rememberHash {
		if _, execErr := tx.ExecContext(context.Background(),
			`INSERT OR IGNORE INTO deleted_hashes (hash) SELECT hash FROM files WHERE id = ?`,
			fileID); execErr != nil {
			err = execErr
			return err
		}
	}
	if _, execErr := tx.ExecContext(context.Background(),
		`DELETE FROM files WHERE id = ?`, fileID); execErr != nil {
		err = execErr
		return err
	}
	return err
}

// IsHashDeleted reports whether the hash is in the deleted-hash ledger.
func (d *Database) IsHashDeleted(ctx context.Context, hash string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("is_hash_deleted", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var exists bool
	err = d.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM deleted_hashes WHERE hash = ?)`, hash).Scan(&exists)
	return exists, err
}

// ForgetDeletedHash removes a hash from the deleted-hash ledger, typically
// after a forced re-import.
func (d *Database) ForgetDeletedHash(ctx context.Context, hash string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("forget_deleted_hash", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `DELETE FROM deleted_hashes WHERE hash = ?`, hash)
	return err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
