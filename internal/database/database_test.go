package database

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"media-vault/internal/taggraph"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	d, err := New(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("Failed to close database: %v", err)
		}
	})
	return d
}

func TestInsertAndGetFile(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	ctx := context.Background()

	file := &FileRecord{
		Hash:         "abc123",
		OriginalHash: "abc123",
		Path:         "/imports/photo.jpg",
		Size:         2048,
		Width:        800,
		Height:       600,
		Codec:        "jpeg",
		ThumbPath:    "/cache/abc123.jpg",
	}

	id, err := d.InsertFile(ctx, file)
	if err != nil {
		t.Fatalf("InsertFile failed: %v", err)
	}
	if id == 0 {
		t.Fatal("Expected non-zero id")
	}

	got, err := d.GetFileByHash(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetFileByHash failed: %v", err)
	}
	if got.ID != id || got.Path != file.Path || got.Width != 800 {
		t.Errorf("Got %+v, want id=%d path=%s width=800", got, id, file.Path)
	}

	byID, err := d.GetFileByID(ctx, id)
	if err != nil {
		t.Fatalf("GetFileByID failed: %v", err)
	}
	if byID.Hash != "abc123" {
		t.Errorf("GetFileByID hash = %q, want abc123", byID.Hash)
	}
}

func TestInsertFileDuplicateHash(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	ctx := context.Background()

	first := &FileRecord{Hash: "samehash", OriginalHash: "samehash", Path: "/a.jpg"}
	if _, err := d.InsertFile(ctx, first); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	second := &FileRecord{Hash: "samehash", OriginalHash: "samehash", Path: "/b.jpg"}
	_, err := d.InsertFile(ctx, second)
	if !errors.Is(err, ErrDuplicateHash) {
		t.Fatalf("Expected ErrDuplicateHash, got %v", err)
	}

	// Exactly one record survives.
	got, err := d.GetFileByHash(ctx, "samehash")
	if err != nil {
		t.Fatalf("GetFileByHash failed: %v", err)
	}
	if got.Path != "/a.jpg" {
		t.Errorf("Surviving record path = %q, want /a.jpg", got.Path)
	}
}

func TestGetFileNotFound(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	if _, err := d.GetFileByHash(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTagCRUD(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	ctx := context.Background()

	tag := &Tag{Label: "Sunset", Aliases: []string{"dusk"}, RegexPattern: `\bsunset\b`, RegexTargets: 1}
	id, err := d.CreateTag(ctx, tag)
	if err != nil {
		t.Fatalf("CreateTag failed: %v", err)
	}

	got, err := d.GetTag(ctx, id)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if got.Label != "Sunset" || !reflect.DeepEqual(got.Aliases, []string{"dusk"}) {
		t.Errorf("Got %+v", got)
	}

	// Case-insensitive label lookup and uniqueness.
	if _, err := d.GetTagByLabel(ctx, "sUnSeT"); err != nil {
		t.Errorf("Case-insensitive lookup failed: %v", err)
	}
	if _, err := d.CreateTag(ctx, &Tag{Label: "SUNSET"}); !errors.Is(err, ErrDuplicateLabel) {
		t.Errorf("Expected ErrDuplicateLabel, got %v", err)
	}

	got.Label = "Golden Hour"
	got.Aliases = nil
	if err := d.UpdateTag(ctx, got); err != nil {
		t.Fatalf("UpdateTag failed: %v", err)
	}
	updated, err := d.GetTag(ctx, id)
	if err != nil {
		t.Fatalf("GetTag after update failed: %v", err)
	}
	if updated.Label != "Golden Hour" || updated.Aliases != nil {
		t.Errorf("Update not applied: %+v", updated)
	}

	if err := d.DeleteTag(ctx, id); err != nil {
		t.Fatalf("DeleteTag failed: %v", err)
	}
	if _, err := d.GetTag(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestRelationsRoundTrip(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	ctx := context.Background()

	parent, err := d.CreateTag(ctx, &Tag{Label: "animal"})
	if err != nil {
		t.Fatalf("CreateTag failed: %v", err)
	}
	child, err := d.CreateTag(ctx, &Tag{Label: "dog"})
	if err != nil {
		t.Fatalf("CreateTag failed: %v", err)
	}

	if err := d.AddRelation(ctx, parent, child); err != nil {
		t.Fatalf("AddRelation failed: %v", err)
	}
	// Duplicate insert is ignored.
	if err := d.AddRelation(ctx, parent, child); err != nil {
		t.Fatalf("Duplicate AddRelation failed: %v", err)
	}

	edges, err := d.ListRelations(ctx)
	if err != nil {
		t.Fatalf("ListRelations failed: %v", err)
	}
	want := []taggraph.Edge{{ParentID: parent, ChildID: child}}
	if !reflect.DeepEqual(edges, want) {
		t.Errorf("ListRelations = %v, want %v", edges, want)
	}

	if err := d.RemoveRelation(ctx, parent, child); err != nil {
		t.Fatalf("RemoveRelation failed: %v", err)
	}
	edges, err = d.ListRelations(ctx)
	if err != nil {
		t.Fatalf("ListRelations failed: %v", err)
	}
	if len(edges) != 0 {
		t.Errorf("Expected no edges, got %v", edges)
	}
}

func TestFileTagsAndCounts(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	ctx := context.Background()

	animal, _ := d.CreateTag(ctx, &Tag{Label: "animal"})
	dog, _ := d.CreateTag(ctx, &Tag{Label: "dog"})

	fileID, err := d.InsertFile(ctx, &FileRecord{Hash: "h1", OriginalHash: "h1", Path: "/dog.jpg"})
	if err != nil {
		t.Fatalf("InsertFile failed: %v", err)
	}

	if err := d.AttachTags(ctx, fileID, []int64{dog}); err != nil {
		t.Fatalf("AttachTags failed: %v", err)
	}
	if err := d.ReplaceFileTagAncestors(ctx, fileID, []int64{dog, animal}); err != nil {
		t.Fatalf("ReplaceFileTagAncestors failed: %v", err)
	}

	direct, err := d.GetFileTagIDs(ctx, fileID)
	if err != nil {
		t.Fatalf("GetFileTagIDs failed: %v", err)
	}
	if !reflect.DeepEqual(direct, []int64{dog}) {
		t.Errorf("Direct tags = %v, want [%d]", direct, dog)
	}

	closure, err := d.GetFileTagAncestorIDs(ctx, fileID)
	if err != nil {
		t.Fatalf("GetFileTagAncestorIDs failed: %v", err)
	}
	if !reflect.DeepEqual(closure, []int64{animal, dog}) {
		t.Errorf("Closure = %v, want [%d %d]", closure, animal, dog)
	}

	if err := d.RecalculateTagCounts(ctx); err != nil {
		t.Fatalf("RecalculateTagCounts failed: %v", err)
	}

	animalTag, _ := d.GetTag(ctx, animal)
	dogTag, _ := d.GetTag(ctx, dog)
	if animalTag.Count != 0 || animalTag.CountWithSub != 1 {
		t.Errorf("animal counts = %d/%d, want 0/1", animalTag.Count, animalTag.CountWithSub)
	}
	if dogTag.Count != 1 || dogTag.CountWithSub != 1 {
		t.Errorf("dog counts = %d/%d, want 1/1", dogTag.Count, dogTag.CountWithSub)
	}
}

func TestBatchLifecycle(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	ctx := context.Background()

	batch := &ImportBatch{
		ID:                "batch-1",
		TagIDs:            []int64{1, 2},
		DeleteOnImport:    true,
		IgnorePrevDeleted: false,
	}
	items := []*ImportItem{
		{ID: "item-1", Path: "/a.jpg", Size: 100, Status: "pending"},
		{ID: "item-2", Path: "/b.jpg", Size: 200, Status: "pending", TagIDs: []int64{3}},
	}

	if err := d.CreateBatch(ctx, batch, items); err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	got, err := d.GetBatch(ctx, "batch-1")
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if !got.DeleteOnImport || got.IgnorePrevDeleted {
		t.Errorf("Flags not persisted: %+v", got)
	}
	if !reflect.DeepEqual(got.TagIDs, []int64{1, 2}) {
		t.Errorf("TagIDs = %v, want [1 2]", got.TagIDs)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("New batch should have no started/completed stamps")
	}

	started, err := d.MarkBatchStarted(ctx, "batch-1")
	if err != nil {
		t.Fatalf("MarkBatchStarted failed: %v", err)
	}
	if started.IsZero() {
		t.Error("Expected a start time")
	}
	// Starting twice is rejected, distinctly from a batch that never existed.
	if _, err := d.MarkBatchStarted(ctx, "batch-1"); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted on double start, got %v", err)
	}
	if _, err := d.MarkBatchStarted(ctx, "no-such-batch"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown batch, got %v", err)
	}

	listed, err := d.ListBatchItems(ctx, "batch-1")
	if err != nil {
		t.Fatalf("ListBatchItems failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(listed))
	}
	if !reflect.DeepEqual(listed[1].TagIDs, []int64{3}) {
		t.Errorf("Item tag ids = %v, want [3]", listed[1].TagIDs)
	}

	listed[0].Status = "done"
	listed[0].FileID = 42
	listed[0].ThumbPath = "/cache/42.jpg"
	if err := d.UpdateItem(ctx, listed[0]); err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}
	reloaded, _ := d.ListBatchItems(ctx, "batch-1")
	if reloaded[0].Status != "done" || reloaded[0].FileID != 42 {
		t.Errorf("Item update not persisted: %+v", reloaded[0])
	}

	if _, err := d.MarkBatchCompleted(ctx, "batch-1"); err != nil {
		t.Fatalf("MarkBatchCompleted failed: %v", err)
	}
	got, _ = d.GetBatch(ctx, "batch-1")
	if got.CompletedAt == nil {
		t.Error("Expected completed stamp")
	}

	if err := d.DeleteBatch(ctx, "batch-1"); err != nil {
		t.Fatalf("DeleteBatch failed: %v", err)
	}
	if _, err := d.GetBatch(ctx, "batch-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	// Items cascade with the batch.
	orphans, err := d.ListBatchItems(ctx, "batch-1")
	if err != nil {
		t.Fatalf("ListBatchItems failed: %v", err)
	}
	if len(orphans) != 0 {
		t.Errorf("Expected items to cascade, got %d", len(orphans))
	}
}

func TestDeletedHashLedger(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	ctx := context.Background()

	fileID, err := d.InsertFile(ctx, &FileRecord{Hash: "gone1", OriginalHash: "gone1", Path: "/x.jpg"})
	if err != nil {
		t.Fatalf("InsertFile failed: %v", err)
	}

	if err := d.DeleteFile(ctx, fileID, true); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if _, err := d.GetFileByHash(ctx, "gone1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	deleted, err := d.IsHashDeleted(ctx, "gone1")
	if err != nil {
		t.Fatalf("IsHashDeleted failed: %v", err)
	}
	if !deleted {
		t.Error("Hash should be in the deleted ledger")
	}

	if err := d.ForgetDeletedHash(ctx, "gone1"); err != nil {
		t.Fatalf("ForgetDeletedHash failed: %v", err)
	}
	deleted, _ = d.IsHashDeleted(ctx, "gone1")
	if deleted {
		t.Error("Hash should be forgotten")
	}
}

func TestDeleteFileWithoutRemembering(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	ctx := context.Background()

	fileID, err := d.InsertFile(ctx, &FileRecord{Hash: "gone2", OriginalHash: "gone2", Path: "/y.jpg"})
	if err != nil {
		t.Fatalf("InsertFile failed: %v", err)
	}
	if err := d.DeleteFile(ctx, fileID, false); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	deleted, err := d.IsHashDeleted(ctx, "gone2")
	if err != nil {
		t.Fatalf("IsHashDeleted failed: %v", err)
	}
	if deleted {
		t.Error("Hash should not be in the ledger")
	}
}

func TestMergeTags(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	ctx := context.Background()

	keep, _ := d.CreateTag(ctx, &Tag{Label: "dog"})
	merge, _ := d.CreateTag(ctx, &Tag{Label: "doggo"})
	parent, _ := d.CreateTag(ctx, &Tag{Label: "animal"})

	if err := d.AddRelation(ctx, parent, merge); err != nil {
		t.Fatalf("AddRelation failed: %v", err)
	}

	// One file on each tag, one file on both.
	f1, _ := d.InsertFile(ctx, &FileRecord{Hash: "m1", OriginalHash: "m1", Path: "/1.jpg"})
	f2, _ := d.InsertFile(ctx, &FileRecord{Hash: "m2", OriginalHash: "m2", Path: "/2.jpg"})
	f3, _ := d.InsertFile(ctx, &FileRecord{Hash: "m3", OriginalHash: "m3", Path: "/3.jpg"})
	if err := d.AttachTags(ctx, f1, []int64{keep}); err != nil {
		t.Fatal(err)
	}
	if err := d.AttachTags(ctx, f2, []int64{merge}); err != nil {
		t.Fatal(err)
	}
	if err := d.AttachTags(ctx, f3, []int64{keep, merge}); err != nil {
		t.Fatal(err)
	}

	unified := &Tag{Label: "dog", Aliases: []string{"doggo"}}
	edges := []taggraph.Edge{{ParentID: parent, ChildID: keep}}
	if err := d.MergeTags(ctx, keep, merge, unified, edges); err != nil {
		t.Fatalf("MergeTags failed: %v", err)
	}

	if _, err := d.GetTag(ctx, merge); !errors.Is(err, ErrNotFound) {
		t.Errorf("Merged tag should be deleted, got %v", err)
	}

	kept, err := d.GetTag(ctx, keep)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if !reflect.DeepEqual(kept.Aliases, []string{"doggo"}) {
		t.Errorf("Unified aliases = %v, want [doggo]", kept.Aliases)
	}

	// All three files now reference the kept tag, once each.
	for _, fileID := range []int64{f1, f2, f3} {
		tags, err := d.GetFileTagIDs(ctx, fileID)
		if err != nil {
			t.Fatalf("GetFileTagIDs failed: %v", err)
		}
		if !reflect.DeepEqual(tags, []int64{keep}) {
			t.Errorf("File %d tags = %v, want [%d]", fileID, tags, keep)
		}
	}

	gotEdges, err := d.ListRelations(ctx)
	if err != nil {
		t.Fatalf("ListRelations failed: %v", err)
	}
	if !reflect.DeepEqual(gotEdges, edges) {
		t.Errorf("Relations = %v, want %v", gotEdges, edges)
	}
}

func TestListFileIDsWithTags(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	ctx := context.Background()

	tag1, _ := d.CreateTag(ctx, &Tag{Label: "one"})
	tag2, _ := d.CreateTag(ctx, &Tag{Label: "two"})

	f1, _ := d.InsertFile(ctx, &FileRecord{Hash: "w1", OriginalHash: "w1", Path: "/1"})
	f2, _ := d.InsertFile(ctx, &FileRecord{Hash: "w2", OriginalHash: "w2", Path: "/2"})
	if err := d.AttachTags(ctx, f1, []int64{tag1}); err != nil {
		t.Fatal(err)
	}
	if err := d.AttachTags(ctx, f2, []int64{tag1, tag2}); err != nil {
		t.Fatal(err)
	}

	got, err := d.ListFileIDsWithTags(ctx, []int64{tag1, tag2})
	if err != nil {
		t.Fatalf("ListFileIDsWithTags failed: %v", err)
	}
	if !reflect.DeepEqual(got, []int64{f1, f2}) {
		t.Errorf("Got %v, want [%d %d]", got, f1, f2)
	}

	empty, err := d.ListFileIDsWithTags(ctx, nil)
	if err != nil || empty != nil {
		t.Errorf("Empty tag list should yield nil, got %v (%v)", empty, err)
	}
}
