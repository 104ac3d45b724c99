package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"media-vault/internal/taggraph"
)

// ErrDuplicateLabel is returned when a tag label (case-insensitive) is
// already taken.
var ErrDuplicateLabel = errors.New("tag label already exists")

// CreateTag inserts a new tag and returns its id.
func (d *Database) CreateTag(ctx context.Context, tag *Tag) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_tag", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx,
		`INSERT INTO tags (label, aliases, regex_pattern, regex_targets) VALUES (?, ?, ?, ?)`,
		tag.Label, encodeAliases(tag.Aliases), tag.RegexPattern, tag.RegexTargets)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			err = fmt.Errorf("%w: %s", ErrDuplicateLabel, tag.Label)
		}
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	tag.ID = id
	return id, nil
}

// GetTag retrieves a tag by id. Returns ErrNotFound when absent.
func (d *Database) GetTag(ctx context.Context, id int64) (*Tag, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_tag", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tag, scanErr := scanTag(d.db.QueryRowContext(ctx,
		`SELECT id, label, aliases, regex_pattern, regex_targets, count, count_with_sub, created_at, updated_at
		 FROM tags WHERE id = ?`, id))
	err = scanErr
	return tag, err
}

// GetTagByLabel retrieves a tag by its label, case-insensitively.
func (d *Database) GetTagByLabel(ctx context.Context, label string) (*Tag, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_tag_by_label", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tag, scanErr := scanTag(d.db.QueryRowContext(ctx,
		`SELECT id, label, aliases, regex_pattern, regex_targets, count, count_with_sub, created_at, updated_at
		 FROM tags WHERE label = ? COLLATE NOCASE`, label))
	err = scanErr
	return tag, err
}

func scanTag(row *sql.Row) (*Tag, error) {
	var tag Tag
	var aliases string
	var createdAt, updatedAt int64

	err := row.Scan(&tag.ID, &tag.Label, &aliases, &tag.RegexPattern, &tag.RegexTargets,
		&tag.Count, &tag.CountWithSub, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	tag.Aliases = decodeAliases(aliases)
	tag.CreatedAt = time.Unix(createdAt, 0)
	tag.UpdatedAt = time.Unix(updatedAt, 0)
	return &tag, nil
}

// ListTags returns every tag ordered by label.
func (d *Database) ListTags(ctx context.Context) ([]*Tag, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_tags", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, label, aliases, regex_pattern, regex_targets, count, count_with_sub, created_at, updated_at
		 FROM tags ORDER BY label COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []*Tag
	for rows.Next() {
		var tag Tag
		var aliases string
		var createdAt, updatedAt int64
		if err = rows.Scan(&tag.ID, &tag.Label, &aliases, &tag.RegexPattern, &tag.RegexTargets,
			&tag.Count, &tag.CountWithSub, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		tag.Aliases = decodeAliases(aliases)
		tag.CreatedAt = time.Unix(createdAt, 0)
		tag.UpdatedAt = time.Unix(updatedAt, 0)
		tags = append(tags, &tag)
	}
	err = rows.Err()
	return tags, err
}

// UpdateTag rewrites a tag's label, aliases, and regex mapping.
func (d *Database) UpdateTag(ctx context.Context, tag *Tag) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_tag", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx,
		`UPDATE tags SET label = ?, aliases = ?, regex_pattern = ?, regex_targets = ?,
		 updated_at = strftime('%s', 'now') WHERE id = ?`,
		tag.Label, encodeAliases(tag.Aliases), tag.RegexPattern, tag.RegexTargets, tag.ID)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			err = fmt.Errorf("%w: %s", ErrDuplicateLabel, tag.Label)
		}
	}
	return err
}

// DeleteTag removes a tag; attachments and relations cascade.
func (d *Database) DeleteTag(ctx context.Context, id int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_tag", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	return err
}

// ListRelations returns the full tag relation edge list.
func (d *Database) ListRelations(ctx context.Context) ([]taggraph.Edge, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_relations", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT parent_id, child_id FROM tag_relations ORDER BY parent_id, child_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []taggraph.Edge
	for rows.Next() {
		var edge taggraph.Edge
		if err = rows.Scan(&edge.ParentID, &edge.ChildID); err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	err = rows.Err()
	return edges, err
}

// AddRelation persists a parent→child edge.
func (d *Database) AddRelation(ctx context.Context, parentID, childID int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("add_relation", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tag_relations (parent_id, child_id) VALUES (?, ?)`,
		parentID, childID)
	return err
}

// RemoveRelation deletes a parent→child edge.
func (d *Database) RemoveRelation(ctx context.Context, parentID, childID int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("remove_relation", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx,
		`DELETE FROM tag_relations WHERE parent_id = ? AND child_id = ?`, parentID, childID)
	return err
}

// MergeTags folds mergeID into keepID in one transaction: file attachments
// are reassigned (duplicates collapse), the kept tag takes the unified
// label/aliases/regex, the kept tag's relations are replaced with the given
// edge set, and the merged tag row is deleted.
func (d *Database) MergeTags(ctx context.Context, keepID, mergeID int64, unified *Tag, edges []taggraph.Edge) (err error) {
	start := time.Now()
	defer func() { recordQuery("merge_tags", start, err) }()

	tx, err := d.BeginBatch()
	if err != nil {
		return err
	}
	defer func() { err = d.EndBatch(tx, err) }()

	bg := context.Background()

	// Reassign direct attachments; a file tagged with both collapses to one.
	if _, execErr := tx.ExecContext(bg,
		`INSERT OR IGNORE INTO file_tags (file_id, tag_id)
		 SELECT file_id, ? FROM file_tags WHERE tag_id = ?`, keepID, mergeID); execErr != nil {
		err = execErr
		return err
	}
	if _, execErr := tx.ExecContext(bg,
		`DELETE FROM file_tags WHERE tag_id = ?`, mergeID); execErr != nil {
		err = execErr
		return err
	}

	if _, execErr := tx.ExecContext(bg,
		`UPDATE tags SET label = ?, aliases = ?, regex_pattern = ?, regex_targets = ?,
		 updated_at = strftime('%s', 'now') WHERE id = ?`,
		unified.Label, encodeAliases(unified.Aliases), unified.RegexPattern,
		unified.RegexTargets, keepID); execErr != nil {
		err = execErr
		return err
	}

	// Relations cascade when the merged tag row goes; the kept tag's edges
	// are replaced wholesale with the planned set.
	if _, execErr := tx.ExecContext(bg,
		`DELETE FROM tag_relations WHERE parent_id = ? OR child_id = ?`, keepID, keepID); execErr != nil {
		err = execErr
		return err
	}
	if _, execErr := tx.ExecContext(bg,
		`DELETE FROM tags WHERE id = ?`, mergeID); execErr != nil {
		err = execErr
		return err
	}
	for _, edge := range edges {
		if _, execErr := tx.ExecContext(bg,
			`INSERT OR IGNORE INTO tag_relations (parent_id, child_id) VALUES (?, ?)`,
			edge.ParentID, edge.ChildID); execErr != nil {
			err = execErr
			return err
		}
	}
	return err
}

// RecalculateTagCounts recomputes the direct and with-descendants reference
// counts for every tag from file_tags and file_tag_ancestors.
func (d *Database) RecalculateTagCounts(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { recordQuery("recalculate_tag_counts", start, err) }()

	tx, err := d.BeginBatch()
	if err != nil {
		return err
	}
	defer func() { err = d.EndBatch(tx, err) }()

	bg := context.Background()
	if _, execErr := tx.ExecContext(bg, `
		UPDATE tags SET
			count = (SELECT COUNT(*) FROM file_tags WHERE file_tags.tag_id = tags.id),
			count_with_sub = (SELECT COUNT(*) FROM file_tag_ancestors WHERE file_tag_ancestors.tag_id = tags.id)
	`); execErr != nil {
		err = execErr
		return err
	}
	return err
}
