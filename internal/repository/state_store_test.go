package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/forge/internal/domain"
)

func testStore(t *testing.T) *StateStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewStateStore(db)
}

func TestPutGetRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	item := &Item{
		PK:      ProjectPK("p1"),
		SK:      SKMetadata,
		Kind:    "project",
		Payload: []byte(`{"id":"p1"}`),
	}
	if err := store.Put(ctx, item); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, ProjectPK("p1"), SKMetadata)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Payload) != `{"id":"p1"}` {
		t.Errorf("Payload mismatch: got %s", got.Payload)
	}

	if _, err := store.Get(ctx, ProjectPK("missing"), SKMetadata); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for missing item, got %v", err)
	}
}

// TestPutIsUpsert verifies that writing the same key twice leaves one
// item with the second payload, never two items.
func TestPutIsUpsert(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		item := &Item{
			PK:      ProjectPK("p1"),
			SK:      FileSK("app.py"),
			Kind:    "file",
			Payload: []byte(fmt.Sprintf(`{"rev":%d}`, i)),
		}
		if err := store.Put(ctx, item); err != nil {
			t.Fatalf("Put %d failed: %v", i, err)
		}
	}

	items, err := store.QueryPartition(ctx, ProjectPK("p1"), "")
	if err != nil {
		t.Fatalf("QueryPartition failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item after double write, got %d", len(items))
	}
	if string(items[0].Payload) != `{"rev":1}` {
		t.Errorf("Expected second payload to win, got %s", items[0].Payload)
	}
}

func TestQueryPartitionPrefix(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	keys := []string{SKMetadata, FileSK("app.py"), FileSK("models.py"), HistorySK("p1#plan")}
	for _, sk := range keys {
		if err := store.Put(ctx, &Item{PK: ProjectPK("p1"), SK: sk, Payload: []byte("{}")}); err != nil {
			t.Fatalf("Put %s failed: %v", sk, err)
		}
	}
	// Another partition must never leak into the query.
	if err := store.Put(ctx, &Item{PK: ProjectPK("p2"), SK: FileSK("app.py"), Payload: []byte("{}")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	files, err := store.QueryPartition(ctx, ProjectPK("p1"), "FILE#")
	if err != nil {
		t.Fatalf("QueryPartition failed: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("Expected 2 file items, got %d", len(files))
	}

	all, err := store.QueryPartition(ctx, ProjectPK("p1"), "")
	if err != nil {
		t.Fatalf("QueryPartition failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("Expected 4 items in partition, got %d", len(all))
	}
}

// TestBatchGetChunking verifies that a request for 137 keys is served in
// exactly two rounds under the 100-key ceiling, and that missing keys
// are skipped rather than reported as errors.
func TestBatchGetChunking(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	var keys []ItemKey
	for i := 0; i < 137; i++ {
		pk := ProjectPK(fmt.Sprintf("p%03d", i))
		keys = append(keys, ItemKey{PK: pk, SK: SKMetadata})
		// Leave every tenth key unwritten.
		if i%10 == 9 {
			continue
		}
		if err := store.Put(ctx, &Item{PK: pk, SK: SKMetadata, Payload: []byte("{}")}); err != nil {
			t.Fatalf("Put %d failed: %v", i, err)
		}
	}

	items, rounds, err := store.batchGet(ctx, keys)
	if err != nil {
		t.Fatalf("batchGet failed: %v", err)
	}
	if rounds != 2 {
		t.Errorf("Expected exactly 2 rounds for 137 keys, got %d", rounds)
	}
	if len(items) != 137-13 {
		t.Errorf("Expected %d items, got %d", 137-13, len(items))
	}
}

func TestBatchGetDeduplicates(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, &Item{PK: ProjectPK("p1"), SK: SKMetadata, Payload: []byte("{}")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	key := ItemKey{PK: ProjectPK("p1"), SK: SKMetadata}
	items, err := store.BatchGet(ctx, []ItemKey{key, key, key})
	if err != nil {
		t.Fatalf("BatchGet failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("Expected duplicate keys to yield 1 item, got %d", len(items))
	}
}

// TestIndexConsistency writes 60 projects through the repository and
// verifies both secondary indexes return exactly the matching records.
func TestIndexConsistency(t *testing.T) {
	store := testStore(t)
	repo := NewProjectRepository(store)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 60; i++ {
		owner := "alice"
		if i%2 == 1 {
			owner = "bob"
		}
		status := domain.ProjectStatusCreated
		if i%3 == 0 {
			status = domain.ProjectStatusInProgress
		}
		p := &domain.Project{
			ID:        fmt.Sprintf("p%03d", i),
			Name:      fmt.Sprintf("project %d", i),
			Type:      domain.ProjectTypeAPI,
			Status:    status,
			Owner:     owner,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.PutMetadata(ctx, p); err != nil {
			t.Fatalf("PutMetadata %d failed: %v", i, err)
		}
	}

	// Owner index, paged 10 at a time.
	var byOwner []domain.Project
	cursor := ""
	for {
		page, next, err := repo.ListByOwner(ctx, "alice", cursor, 10)
		if err != nil {
			t.Fatalf("ListByOwner failed: %v", err)
		}
		byOwner = append(byOwner, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	if len(byOwner) != 30 {
		t.Errorf("Expected 30 projects for alice, got %d", len(byOwner))
	}
	for _, p := range byOwner {
		if p.Owner != "alice" {
			t.Errorf("Owner index returned project %s owned by %s", p.ID, p.Owner)
		}
	}

	// Status index.
	inProgress, _, err := repo.ListByStatus(ctx, domain.ProjectStatusInProgress, "", 100)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(inProgress) != 20 {
		t.Errorf("Expected 20 in_progress projects, got %d", len(inProgress))
	}
	for _, p := range inProgress {
		if p.Status != domain.ProjectStatusInProgress {
			t.Errorf("Status index returned project %s in status %s", p.ID, p.Status)
		}
	}
}

// TestIndexFollowsStatusChange verifies that a status update moves the
// metadata item between index partitions.
func TestIndexFollowsStatusChange(t *testing.T) {
	store := testStore(t)
	repo := NewProjectRepository(store)
	ctx := context.Background()

	p := &domain.Project{
		ID:        "p1",
		Name:      "mover",
		Type:      domain.ProjectTypeAPI,
		Status:    domain.ProjectStatusCreated,
		Owner:     "alice",
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.PutMetadata(ctx, p); err != nil {
		t.Fatalf("PutMetadata failed: %v", err)
	}
	if err := repo.UpdateStatus(ctx, "p1", domain.ProjectStatusInProgress); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	created, _, err := repo.ListByStatus(ctx, domain.ProjectStatusCreated, "", 10)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("Expected project to leave the created partition, found %d", len(created))
	}

	inProgress, _, err := repo.ListByStatus(ctx, domain.ProjectStatusInProgress, "", 10)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(inProgress) != 1 {
		t.Errorf("Expected project in the in_progress partition, found %d", len(inProgress))
	}
}

func TestDeletePartitionCascades(t *testing.T) {
	store := testStore(t)
	repo := NewProjectRepository(store)
	ctx := context.Background()

	p := &domain.Project{ID: "p1", Name: "doomed", Type: domain.ProjectTypeAPI,
		Status: domain.ProjectStatusCreated, Owner: "alice", CreatedAt: time.Now().UTC()}
	if err := repo.PutMetadata(ctx, p); err != nil {
		t.Fatalf("PutMetadata failed: %v", err)
	}
	if err := repo.PutFile(ctx, "p1", &domain.FileRecord{Path: "app.py", Content: "print()"}); err != nil {
		t.Fatalf("PutFile failed: %v", err)
	}
	if err := repo.RecordHistory(ctx, "p1", "p1#plan", &domain.HistoryEntry{Stage: "plan", Outcome: "ok"}); err != nil {
		t.Fatalf("RecordHistory failed: %v", err)
	}

	if err := repo.Delete(ctx, "p1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	items, err := store.QueryPartition(ctx, ProjectPK("p1"), "")
	if err != nil {
		t.Fatalf("QueryPartition failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected empty partition after delete, got %d items", len(items))
	}
}

// TestHistoryRedeliveryOverwrites verifies the idempotency property the
// workers rely on: recording history twice under one correlation id
// leaves a single entry.
func TestHistoryRedeliveryOverwrites(t *testing.T) {
	store := testStore(t)
	repo := NewProjectRepository(store)
	ctx := context.Background()

	corrID := "p1#develop#task-1"
	for i := 0; i < 3; i++ {
		err := repo.RecordHistory(ctx, "p1", corrID, &domain.HistoryEntry{
			Stage: "develop", TaskID: "task-1", Outcome: "ok",
			Detail: fmt.Sprintf("attempt %d", i),
		})
		if err != nil {
			t.Fatalf("RecordHistory %d failed: %v", i, err)
		}
	}

	entries, err := repo.History(ctx, "p1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 history entry after redeliveries, got %d", len(entries))
	}
	if entries[0].Detail != "attempt 2" {
		t.Errorf("Expected last write to win, got %q", entries[0].Detail)
	}

	done, err := repo.HasHistory(ctx, "p1", corrID)
	if err != nil {
		t.Fatalf("HasHistory failed: %v", err)
	}
	if !done {
		t.Error("Expected HasHistory to report the persisted effect")
	}
}

func TestModificationRoundTrip(t *testing.T) {
	store := testStore(t)
	repo := NewProjectRepository(store)
	ctx := context.Background()

	mod := &domain.Modification{
		ID:            "m1",
		ProjectID:     "p1",
		Request:       "add rate limiting",
		RequestedBy:   "alice",
		RequestedAt:   time.Now().UTC(),
		AffectedFiles: []string{"app.py"},
		Status:        domain.ModificationStatusPending,
	}
	if err := repo.PutModification(ctx, mod); err != nil {
		t.Fatalf("PutModification failed: %v", err)
	}

	got, err := repo.GetModification(ctx, "p1", "m1")
	if err != nil {
		t.Fatalf("GetModification failed: %v", err)
	}
	if got.Request != mod.Request || got.Status != domain.ModificationStatusPending {
		b, _ := json.Marshal(got)
		t.Errorf("Modification mismatch: %s", b)
	}

	mods, err := repo.ListModifications(ctx, "p1")
	if err != nil {
		t.Fatalf("ListModifications failed: %v", err)
	}
	if len(mods) != 1 {
		t.Errorf("Expected 1 modification, got %d", len(mods))
	}
}
