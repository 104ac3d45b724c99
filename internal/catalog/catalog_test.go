package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"media-vault/internal/database"
	"media-vault/internal/events"
	"media-vault/internal/importer"
	"media-vault/internal/probe"
	"media-vault/internal/taggraph"
	"media-vault/internal/tagmatch"
)

// stubProbe avoids external binaries in catalog tests.
type stubProbe struct{}

func (stubProbe) Probe(_ context.Context, _, hash string) (*probe.Result, error) {
	return &probe.Result{
		Metadata:  probe.Metadata{Width: 4, Height: 4, Codec: "png"},
		ThumbPath: "/cache/" + hash + ".jpg",
	}, nil
}

type recordingBus struct {
	mu        sync.Mutex
	events    []events.Event
	completed chan string
}

func newRecordingBus() *recordingBus {
	return &recordingBus{completed: make(chan string, 16)}
}

func (b *recordingBus) Publish(event events.Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
	if event.Name == events.ImportBatchCompleted {
		b.completed <- event.Payload.(events.BatchCompletedPayload).ID
	}
}

func (b *recordingBus) last(name events.Name) (events.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].Name == name {
			return b.events[i], true
		}
	}
	return events.Event{}, false
}

type testCatalog struct {
	*Catalog
	db  *database.Database
	bus *recordingBus
}

func newTestCatalog(t *testing.T) *testCatalog {
	t.Helper()

	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close database: %v", err)
		}
	})

	graph := taggraph.New()
	resolver := importer.NewTagResolver(tagmatch.New(nil), graph)
	bus := newRecordingBus()
	pool := importer.NewPool(2, db, stubProbe{}, resolver, bus)
	pool.Start()
	t.Cleanup(pool.Stop)
	tracker := importer.NewTracker(pool, db, bus)

	return &testCatalog{
		Catalog: New(db, graph, resolver, tracker, bus),
		db:      db,
		bus:     bus,
	}
}

func (tc *testCatalog) waitForBatch(t *testing.T, id string) {
	t.Helper()
	select {
	case got := <-tc.bus.completed:
		if got != id {
			t.Fatalf("Unexpected batch completion %s, want %s", got, id)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Timed out waiting for batch %s", id)
	}
}

func writeImportFile(t *testing.T, dir, name, content string) ItemSpec {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	return ItemSpec{Path: path, Size: int64(len(content))}
}

func mustCreateTag(t *testing.T, tc *testCatalog, label string, targets int) *database.Tag {
	t.Helper()
	tag, _, err := tc.CreateTag(context.Background(), TagSpec{Label: label, RegexTargets: targets})
	if err != nil {
		t.Fatalf("CreateTag(%s) failed: %v", label, err)
	}
	return tag
}

func TestImportBatchEndToEnd(t *testing.T) {
	ctx := context.Background()
	tc := newTestCatalog(t)
	dir := t.TempDir()

	tag := mustCreateTag(t, tc, "vacation", 0)
	item := writeImportFile(t, dir, "beach.png", "sand and waves")

	ids, err := tc.CreateImportBatches(ctx, []BatchSpec{{TagIDs: []int64{tag.ID}, Items: []ItemSpec{item}}})
	if err != nil {
		t.Fatalf("CreateImportBatches failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("Expected 1 batch id, got %v", ids)
	}

	started, err := tc.StartImportBatch(ctx, ids[0])
	if err != nil {
		t.Fatalf("StartImportBatch failed: %v", err)
	}
	if started.IsZero() {
		t.Error("Start time should be set")
	}
	// Starting twice is rejected.
	if _, err := tc.StartImportBatch(ctx, ids[0]); err == nil {
		t.Error("Second start should fail")
	}

	tc.waitForBatch(t, ids[0])

	status, err := tc.GetBatchStatus(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetBatchStatus failed: %v", err)
	}
	if status.Batch.CompletedAt == nil {
		t.Error("Batch should be marked completed")
	}
	if status.Active {
		t.Error("Completed batch should not be active")
	}
	if len(status.Items) != 1 || status.Items[0].Status != "done" {
		t.Fatalf("Items = %+v, want one done item", status.Items)
	}

	record, err := tc.GetFileByID(ctx, status.Items[0].FileID)
	if err != nil {
		t.Fatalf("GetFileByID failed: %v", err)
	}
	if record.Width != 4 || record.Codec != "png" {
		t.Errorf("Record metadata = %dx%d %s", record.Width, record.Height, record.Codec)
	}

	updated, err := tc.GetTag(ctx, tag.ID)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if updated.Count != 1 {
		t.Errorf("Tag count = %d, want 1", updated.Count)
	}
}

func TestMatcherAttachesTagsByFileName(t *testing.T) {
	ctx := context.Background()
	tc := newTestCatalog(t)
	dir := t.TempDir()

	tag := mustCreateTag(t, tc, "beach", int(tagmatch.TargetFileName))
	item := writeImportFile(t, dir, "beach-sunset.png", "pixels")

	ids, err := tc.CreateImportBatches(ctx, []BatchSpec{{Items: []ItemSpec{item}}})
	if err != nil {
		t.Fatalf("CreateImportBatches failed: %v", err)
	}
	if _, err := tc.StartImportBatch(ctx, ids[0]); err != nil {
		t.Fatalf("StartImportBatch failed: %v", err)
	}
	tc.waitForBatch(t, ids[0])

	updated, err := tc.GetTag(ctx, tag.ID)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if updated.Count != 1 {
		t.Errorf("Auto-matched tag count = %d, want 1", updated.Count)
	}
}

func TestEditTagRelations(t *testing.T) {
	ctx := context.Background()
	tc := newTestCatalog(t)

	animal := mustCreateTag(t, tc, "animal", 0)
	dog := mustCreateTag(t, tc, "dog", 0)
	puppy := mustCreateTag(t, tc, "puppy", 0)

	_, results, err := tc.EditTag(ctx, dog.ID, TagEdit{}, []RelationEdit{
		{Add: true, ParentID: animal.ID, ChildID: dog.ID},
		{Add: true, ParentID: dog.ID, ChildID: puppy.ID},
		// Would close the cycle; must be rejected without aborting the rest.
		{Add: true, ParentID: puppy.ID, ChildID: animal.ID},
	})
	if err != nil {
		t.Fatalf("EditTag failed: %v", err)
	}
	if results[0].Error != "" || results[1].Error != "" {
		t.Errorf("Legal edits reported errors: %+v", results)
	}
	if results[2].Error == "" {
		t.Error("Cycle-closing edit should be rejected")
	}

	// Persisted edges match the applied edits.
	edges, err := tc.db.ListRelations(ctx)
	if err != nil {
		t.Fatalf("ListRelations failed: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("Persisted edges = %v, want 2", edges)
	}

	parents, _ := tc.TagNeighbors(puppy.ID)
	if len(parents) != 1 || parents[0] != dog.ID {
		t.Errorf("Puppy parents = %v, want [%d]", parents, dog.ID)
	}
}

func TestEditTagUpdatesFields(t *testing.T) {
	ctx := context.Background()
	tc := newTestCatalog(t)

	tag := mustCreateTag(t, tc, "misspeled", 0)
	label := "misspelled"
	targets := int(tagmatch.TargetFileName)
	edited, _, err := tc.EditTag(ctx, tag.ID, TagEdit{
		Label:        &label,
		Aliases:      []string{"typo"},
		RegexTargets: &targets,
	}, nil)
	if err != nil {
		t.Fatalf("EditTag failed: %v", err)
	}
	if edited.Label != "misspelled" {
		t.Errorf("Label = %q", edited.Label)
	}
	if edited.RegexPattern == "" {
		t.Error("Pattern should be regenerated from label and aliases")
	}

	stored, err := tc.GetTag(ctx, tag.ID)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if stored.Label != "misspelled" || len(stored.Aliases) != 1 {
		t.Errorf("Stored tag = %+v", stored)
	}
}

func TestCreateTagWithRelations(t *testing.T) {
	ctx := context.Background()
	tc := newTestCatalog(t)

	animal := mustCreateTag(t, tc, "animal", 0)
	dog := mustCreateTag(t, tc, "dog", 0)
	if _, _, err := tc.EditTag(ctx, dog.ID, TagEdit{}, []RelationEdit{
		{Add: true, ParentID: animal.ID, ChildID: dog.ID},
	}); err != nil {
		t.Fatalf("EditTag failed: %v", err)
	}

	// A new tag born with a parent and a child in one request. The child
	// edge closes a cycle (animal is already above dog) and must be
	// rejected without losing the parent edge.
	tag, results, err := tc.CreateTag(ctx, TagSpec{
		Label:     "puppy",
		ParentIDs: []int64{dog.ID},
		ChildIDs:  []int64{animal.ID},
	})
	if err != nil {
		t.Fatalf("CreateTag failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Relation results = %+v, want 2", results)
	}
	if results[0].Error != "" {
		t.Errorf("Parent edge reported error: %s", results[0].Error)
	}
	if results[1].Error == "" {
		t.Error("Cycle-closing child edge should be rejected")
	}

	parents, children := tc.TagNeighbors(tag.ID)
	if len(parents) != 1 || parents[0] != dog.ID {
		t.Errorf("Parents = %v, want [%d]", parents, dog.ID)
	}
	if len(children) != 0 {
		t.Errorf("Children = %v, want none", children)
	}

	edges, err := tc.db.ListRelations(ctx)
	if err != nil {
		t.Fatalf("ListRelations failed: %v", err)
	}
	if len(edges) != 2 {
		t.Errorf("Persisted edges = %v, want animal->dog and dog->puppy", edges)
	}
}

func TestEditTagRenameKeepsRegexMapping(t *testing.T) {
	ctx := context.Background()
	tc := newTestCatalog(t)
	dir := t.TempDir()

	tag := mustCreateTag(t, tc, "sunset", int(tagmatch.TargetFileName))

	// Rename only; the omitted regex fields must keep their stored values.
	label := "dusk"
	if _, _, err := tc.EditTag(ctx, tag.ID, TagEdit{Label: &label}, nil); err != nil {
		t.Fatalf("EditTag failed: %v", err)
	}

	stored, err := tc.GetTag(ctx, tag.ID)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if stored.RegexTargets != int(tagmatch.TargetFileName) {
		t.Fatalf("RegexTargets = %d, rename must not clear the mapping", stored.RegexTargets)
	}
	if stored.RegexPattern == "" {
		t.Fatal("Pattern should follow the new label, not vanish")
	}

	// The matcher still attaches the tag, now under the new name.
	item := writeImportFile(t, dir, "dusk-sky.png", "pixels")
	ids, err := tc.CreateImportBatches(ctx, []BatchSpec{{Items: []ItemSpec{item}}})
	if err != nil {
		t.Fatalf("CreateImportBatches failed: %v", err)
	}
	if _, err := tc.StartImportBatch(ctx, ids[0]); err != nil {
		t.Fatalf("StartImportBatch failed: %v", err)
	}
	tc.waitForBatch(t, ids[0])

	updated, err := tc.GetTag(ctx, tag.ID)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if updated.Count != 1 {
		t.Errorf("Tag count = %d, want 1 via regex match after rename", updated.Count)
	}
}

func TestEditTagPinnedPatternSurvivesRename(t *testing.T) {
	ctx := context.Background()
	tc := newTestCatalog(t)

	tag, _, err := tc.CreateTag(ctx, TagSpec{
		Label:        "render",
		RegexPattern: `(?im)\brender_v\d+\b`,
		RegexTargets: int(tagmatch.TargetFileName),
	})
	if err != nil {
		t.Fatalf("CreateTag failed: %v", err)
	}

	label := "renders"
	if _, _, err := tc.EditTag(ctx, tag.ID, TagEdit{Label: &label}, nil); err != nil {
		t.Fatalf("EditTag failed: %v", err)
	}
	stored, err := tc.GetTag(ctx, tag.ID)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if stored.RegexPattern != `(?im)\brender_v\d+\b` {
		t.Errorf("Pattern = %q, a hand-written pattern must not be regenerated", stored.RegexPattern)
	}
}

func TestMergeTagsWithExplicitShape(t *testing.T) {
	ctx := context.Background()
	tc := newTestCatalog(t)

	keep := mustCreateTag(t, tc, "dog", 0)
	merge := mustCreateTag(t, tc, "doggo", 0)
	animal := mustCreateTag(t, tc, "animal", 0)
	plant := mustCreateTag(t, tc, "plant", 0)

	// Each side brings its own parent; the caller keeps only one of them.
	if _, _, err := tc.EditTag(ctx, keep.ID, TagEdit{}, []RelationEdit{
		{Add: true, ParentID: plant.ID, ChildID: keep.ID},
	}); err != nil {
		t.Fatalf("EditTag failed: %v", err)
	}
	if _, _, err := tc.EditTag(ctx, merge.ID, TagEdit{}, []RelationEdit{
		{Add: true, ParentID: animal.ID, ChildID: merge.ID},
	}); err != nil {
		t.Fatalf("EditTag failed: %v", err)
	}

	unified, err := tc.MergeTags(ctx, keep.ID, merge.ID, MergeSpec{
		Label:     "canine",
		ParentIDs: []int64{animal.ID},
		ChildIDs:  []int64{},
	})
	if err != nil {
		t.Fatalf("MergeTags failed: %v", err)
	}
	if unified.Label != "canine" {
		t.Errorf("Label = %q, want the caller's choice", unified.Label)
	}
	// Both old labels survive as aliases of the renamed tag.
	aliases := map[string]bool{}
	for _, alias := range unified.Aliases {
		aliases[alias] = true
	}
	if !aliases["dog"] || !aliases["doggo"] {
		t.Errorf("Aliases = %v, want dog and doggo absorbed", unified.Aliases)
	}

	parents, children := tc.TagNeighbors(keep.ID)
	if len(parents) != 1 || parents[0] != animal.ID {
		t.Errorf("Parents = %v, want only [%d]", parents, animal.ID)
	}
	if len(children) != 0 {
		t.Errorf("Children = %v, want none", children)
	}

	stored, err := tc.GetTag(ctx, keep.ID)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if stored.Label != "canine" {
		t.Errorf("Stored label = %q", stored.Label)
	}
}

func TestMergeTagsEndToEnd(t *testing.T) {
	ctx := context.Background()
	tc := newTestCatalog(t)
	dir := t.TempDir()

	keep := mustCreateTag(t, tc, "dog", 0)
	merge := mustCreateTag(t, tc, "doggo", 0)
	animal := mustCreateTag(t, tc, "animal", 0)

	if _, _, err := tc.EditTag(ctx, merge.ID, TagEdit{}, []RelationEdit{
		{Add: true, ParentID: animal.ID, ChildID: merge.ID},
	}); err != nil {
		t.Fatalf("EditTag failed: %v", err)
	}

	// One file tagged with each.
	for i, tag := range []*database.Tag{keep, merge} {
		item := writeImportFile(t, dir, []string{"a.png", "b.png"}[i], []string{"aa", "bb"}[i])
		item.TagIDs = []int64{tag.ID}
		ids, err := tc.CreateImportBatches(ctx, []BatchSpec{{Items: []ItemSpec{item}}})
		if err != nil {
			t.Fatalf("CreateImportBatches failed: %v", err)
		}
		if _, err := tc.StartImportBatch(ctx, ids[0]); err != nil {
			t.Fatalf("StartImportBatch failed: %v", err)
		}
		tc.waitForBatch(t, ids[0])
	}

	unified, err := tc.MergeTags(ctx, keep.ID, merge.ID, MergeSpec{})
	if err != nil {
		t.Fatalf("MergeTags failed: %v", err)
	}
	if unified.Label != "dog" {
		t.Errorf("Unified label = %q, want dog", unified.Label)
	}
	found := false
	for _, alias := range unified.Aliases {
		if alias == "doggo" {
			found = true
		}
	}
	if !found {
		t.Errorf("Aliases = %v, want doggo absorbed", unified.Aliases)
	}

	if _, err := tc.GetTag(ctx, merge.ID); err == nil {
		t.Error("Merged tag should be gone")
	}
	stored, err := tc.GetTag(ctx, keep.ID)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if stored.Count != 2 {
		t.Errorf("Kept tag count = %d, want both files", stored.Count)
	}

	// The merged tag's parent carried over to the kept tag.
	parents, _ := tc.TagNeighbors(keep.ID)
	if len(parents) != 1 || parents[0] != animal.ID {
		t.Errorf("Kept tag parents = %v, want [%d]", parents, animal.ID)
	}
	withSub, err := tc.GetTag(ctx, animal.ID)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if withSub.CountWithSub != 2 {
		t.Errorf("Ancestor countWithSub = %d, want 2", withSub.CountWithSub)
	}

	if _, ok := tc.bus.last(events.TagMerged); !ok {
		t.Error("TagMerged event not published")
	}
}

func TestDeleteImportBatches(t *testing.T) {
	ctx := context.Background()
	tc := newTestCatalog(t)
	dir := t.TempDir()

	item := writeImportFile(t, dir, "x.png", "bytes")
	ids, err := tc.CreateImportBatches(ctx, []BatchSpec{{Items: []ItemSpec{item}}})
	if err != nil {
		t.Fatalf("CreateImportBatches failed: %v", err)
	}

	if err := tc.DeleteImportBatches(ctx, ids); err != nil {
		t.Fatalf("DeleteImportBatches failed: %v", err)
	}
	if _, err := tc.GetBatchStatus(ctx, ids[0]); err == nil {
		t.Error("Deleted batch should not be found")
	}
}

func TestDeleteTag(t *testing.T) {
	ctx := context.Background()
	tc := newTestCatalog(t)

	tag := mustCreateTag(t, tc, "ephemeral", 0)
	if err := tc.DeleteTag(ctx, tag.ID); err != nil {
		t.Fatalf("DeleteTag failed: %v", err)
	}
	if _, err := tc.GetTag(ctx, tag.ID); err == nil {
		t.Error("Deleted tag should not be found")
	}
	// Deleting again reports not found.
	if err := tc.DeleteTag(ctx, tag.ID); err == nil {
		t.Error("Double delete should fail")
	}
}

func TestDeleteFileRemembersHash(t *testing.T) {
	ctx := context.Background()
	tc := newTestCatalog(t)
	dir := t.TempDir()

	content := "delete then reimport"
	item := writeImportFile(t, dir, "once.png", content)
	ids, err := tc.CreateImportBatches(ctx, []BatchSpec{{Items: []ItemSpec{item}}})
	if err != nil {
		t.Fatalf("CreateImportBatches failed: %v", err)
	}
	if _, err := tc.StartImportBatch(ctx, ids[0]); err != nil {
		t.Fatalf("StartImportBatch failed: %v", err)
	}
	tc.waitForBatch(t, ids[0])

	status, err := tc.GetBatchStatus(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetBatchStatus failed: %v", err)
	}
	if err := tc.DeleteFile(ctx, status.Items[0].FileID, true); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}

	// Re-import the same content; the ledger skips it.
	item2 := writeImportFile(t, dir, "again.png", content)
	ids2, err := tc.CreateImportBatches(ctx, []BatchSpec{{Items: []ItemSpec{item2}}})
	if err != nil {
		t.Fatalf("CreateImportBatches failed: %v", err)
	}
	if _, err := tc.StartImportBatch(ctx, ids2[0]); err != nil {
		t.Fatalf("StartImportBatch failed: %v", err)
	}
	tc.waitForBatch(t, ids2[0])

	status2, err := tc.GetBatchStatus(ctx, ids2[0])
	if err != nil {
		t.Fatalf("GetBatchStatus failed: %v", err)
	}
	if status2.Items[0].Status != "skipped" {
		t.Errorf("Re-import status = %s, want skipped", status2.Items[0].Status)
	}
}
