package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/timmy/forge/internal/domain"
	"github.com/timmy/forge/internal/storage"
)

// defaultMaxFileBytes is the inline content ceiling for file items.
// Larger content is spilled to the blob store when one is attached.
const defaultMaxFileBytes = 256 * 1024

// ProjectRepository provides typed access to project partitions of the
// state store. Metadata, codebase files, history entries and
// modifications live under the same partition key and disjoint sort
// keys, so concurrent stages for one project do not contend.
type ProjectRepository struct {
	store        *StateStore
	blobs        storage.BlobStore
	maxFileBytes int
}

// NewProjectRepository creates a ProjectRepository over store.
func NewProjectRepository(store *StateStore) *ProjectRepository {
	return &ProjectRepository{store: store, maxFileBytes: defaultMaxFileBytes}
}

// WithBlobStore attaches a blob store for oversized file content. File
// content above maxFileBytes is spilled on write and hydrated back on
// every read, so callers always see full content. maxFileBytes <= 0
// selects the default ceiling.
func (r *ProjectRepository) WithBlobStore(blobs storage.BlobStore, maxFileBytes int) *ProjectRepository {
	if maxFileBytes <= 0 {
		maxFileBytes = defaultMaxFileBytes
	}
	r.blobs = blobs
	r.maxFileBytes = maxFileBytes
	return r
}

// blobKey builds the deterministic blob store key for a codebase file.
func blobKey(projectID, path string) string {
	return fmt.Sprintf("projects/%s/%s", projectID, path)
}

// Store exposes the underlying state store for raw item access.
func (r *ProjectRepository) Store() *StateStore {
	return r.store
}

// PutMetadata upserts the project metadata item. The codebase map is
// never embedded in metadata; files are separate items.
func (r *ProjectRepository) PutMetadata(ctx context.Context, p *domain.Project) error {
	meta := *p
	meta.Codebase = nil
	meta.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to marshal project %s: %w", p.ID, err)
	}

	return r.store.Put(ctx, &Item{
		PK:      ProjectPK(p.ID),
		SK:      SKMetadata,
		Kind:    "project",
		GSI1PK:  OwnerGSI(p.Owner),
		GSI1SK:  gsi1SortKey(meta.CreatedAt, ProjectPK(p.ID)),
		GSI2PK:  StatusGSI(string(p.Status)),
		GSI2SK:  ProjectPK(p.ID),
		Payload: payload,
	})
}

// Get retrieves project metadata, optionally joined with its codebase
// files.
func (r *ProjectRepository) Get(ctx context.Context, id string, withFiles bool) (*domain.Project, error) {
	item, err := r.store.Get(ctx, ProjectPK(id), SKMetadata)
	if err != nil {
		return nil, err
	}

	var p domain.Project
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project %s: %w", id, err)
	}

	if withFiles {
		files, err := r.ListFiles(ctx, id)
		if err != nil {
			return nil, err
		}
		p.Codebase = make(map[string]string, len(files))
		for _, f := range files {
			p.Codebase[f.Path] = f.Content
		}
	}
	return &p, nil
}

// PutFile upserts one codebase file item. Reprocessing the same stage
// message writes the same key, so redelivery cannot duplicate files.
// Content above the inline ceiling is spilled to the blob store and the
// item keeps only the blob key.
func (r *ProjectRepository) PutFile(ctx context.Context, projectID string, f *domain.FileRecord) error {
	f.UpdatedAt = time.Now().UTC()
	f.Size = len(f.Content)
	if r.blobs != nil && f.Size > r.maxFileBytes {
		key := blobKey(projectID, f.Path)
		if err := r.blobs.Put(ctx, key, []byte(f.Content)); err != nil {
			return fmt.Errorf("failed to spill file %s to blob store: %w", f.Path, err)
		}
		f.BlobKey = key
		f.Content = ""
	} else {
		f.BlobKey = ""
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal file %s: %w", f.Path, err)
	}
	return r.store.Put(ctx, &Item{
		PK:      ProjectPK(projectID),
		SK:      FileSK(f.Path),
		Kind:    "file",
		Payload: payload,
	})
}

// ListFiles returns all codebase file records of a project ordered by path.
func (r *ProjectRepository) ListFiles(ctx context.Context, projectID string) ([]domain.FileRecord, error) {
	items, err := r.store.QueryPartition(ctx, ProjectPK(projectID), skFile)
	if err != nil {
		return nil, err
	}
	files := make([]domain.FileRecord, 0, len(items))
	for _, item := range items {
		var f domain.FileRecord
		if err := json.Unmarshal(item.Payload, &f); err != nil {
			return nil, fmt.Errorf("failed to unmarshal file item %s: %w", item.SK, err)
		}
		if err := r.hydrate(ctx, &f); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// GetFile retrieves one codebase file record with its full content.
func (r *ProjectRepository) GetFile(ctx context.Context, projectID, path string) (*domain.FileRecord, error) {
	item, err := r.store.Get(ctx, ProjectPK(projectID), FileSK(path))
	if err != nil {
		return nil, err
	}
	var f domain.FileRecord
	if err := json.Unmarshal(item.Payload, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal file item %s: %w", item.SK, err)
	}
	if err := r.hydrate(ctx, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// hydrate restores spilled content from the blob store.
func (r *ProjectRepository) hydrate(ctx context.Context, f *domain.FileRecord) error {
	if f.BlobKey == "" || r.blobs == nil {
		return nil
	}
	data, err := r.blobs.Get(ctx, f.BlobKey)
	if err != nil {
		return fmt.Errorf("failed to read spilled file %s: %w", f.Path, err)
	}
	f.Content = string(data)
	return nil
}

// RecordHistory upserts a history entry keyed by correlation id.
// Redelivered messages overwrite their own entry rather than appending
// a second one.
func (r *ProjectRepository) RecordHistory(ctx context.Context, projectID, correlationID string, entry *domain.HistoryEntry) error {
	entry.RecordedAt = time.Now().UTC()
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	return r.store.Put(ctx, &Item{
		PK:      ProjectPK(projectID),
		SK:      HistorySK(correlationID),
		Kind:    "history",
		Payload: payload,
	})
}

// HasHistory reports whether a stage effect for the correlation id is
// already persisted. Workers use this to no-op-acknowledge redeliveries.
func (r *ProjectRepository) HasHistory(ctx context.Context, projectID, correlationID string) (bool, error) {
	_, err := r.store.Get(ctx, ProjectPK(projectID), HistorySK(correlationID))
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// History returns all recorded history entries of a project.
func (r *ProjectRepository) History(ctx context.Context, projectID string) ([]domain.HistoryEntry, error) {
	items, err := r.store.QueryPartition(ctx, ProjectPK(projectID), skHistory)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.HistoryEntry, 0, len(items))
	for _, item := range items {
		var e domain.HistoryEntry
		if err := json.Unmarshal(item.Payload, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history item %s: %w", item.SK, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// UpdateStatus rewrites the metadata item with the new status. The
// caller is responsible for validating the transition.
func (r *ProjectRepository) UpdateStatus(ctx context.Context, id string, status domain.ProjectStatus) error {
	p, err := r.Get(ctx, id, false)
	if err != nil {
		return err
	}
	p.Status = status
	if status == domain.ProjectStatusDeployed {
		now := time.Now().UTC()
		p.LastDeployedAt = &now
	}
	return r.PutMetadata(ctx, p)
}

// UpdateMetrics rewrites the metadata item with new quality metrics.
func (r *ProjectRepository) UpdateMetrics(ctx context.Context, id string, metrics domain.ProjectMetrics) error {
	p, err := r.Get(ctx, id, false)
	if err != nil {
		return err
	}
	p.Metrics = metrics
	return r.PutMetadata(ctx, p)
}

// PutModification upserts a modification item under its project
// partition.
func (r *ProjectRepository) PutModification(ctx context.Context, m *domain.Modification) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal modification %s: %w", m.ID, err)
	}
	return r.store.Put(ctx, &Item{
		PK:      ProjectPK(m.ProjectID),
		SK:      ModSK(m.ID),
		Kind:    "modification",
		GSI2PK:  StatusGSI("mod_" + string(m.Status)),
		GSI2SK:  ProjectPK(m.ProjectID) + "#" + m.ID,
		Payload: payload,
	})
}

// GetModification retrieves one modification of a project.
func (r *ProjectRepository) GetModification(ctx context.Context, projectID, modID string) (*domain.Modification, error) {
	item, err := r.store.Get(ctx, ProjectPK(projectID), ModSK(modID))
	if err != nil {
		return nil, err
	}
	var m domain.Modification
	if err := json.Unmarshal(item.Payload, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal modification %s: %w", modID, err)
	}
	return &m, nil
}

// ListModifications returns all modifications of a project.
func (r *ProjectRepository) ListModifications(ctx context.Context, projectID string) ([]domain.Modification, error) {
	items, err := r.store.QueryPartition(ctx, ProjectPK(projectID), skMod)
	if err != nil {
		return nil, err
	}
	mods := make([]domain.Modification, 0, len(items))
	for _, item := range items {
		var m domain.Modification
		if err := json.Unmarshal(item.Payload, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal modification item %s: %w", item.SK, err)
		}
		mods = append(mods, m)
	}
	return mods, nil
}

// Delete hard-deletes a project partition. Modifications, files and
// history cascade because they share the partition. Blob keys are
// deterministic per path, so spilled content is removed by deriving the
// keys from the file sort keys without decoding payloads.
func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	if r.blobs != nil {
		items, err := r.store.QueryPartition(ctx, ProjectPK(id), skFile)
		if err != nil {
			return err
		}
		for _, item := range items {
			key := blobKey(id, FilePathFromSK(item.SK))
			if err := r.blobs.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to delete blob %s: %w", key, err)
			}
		}
	}
	return r.store.DeletePartition(ctx, ProjectPK(id))
}

// ListByOwner pages through the projects of one owner via the
// owner/category index.
func (r *ProjectRepository) ListByOwner(ctx context.Context, owner, cursor string, limit int) ([]domain.Project, string, error) {
	page, err := r.store.ListIndex(ctx, IndexOwnerCategory, OwnerGSI(owner), cursor, limit)
	if err != nil {
		return nil, "", err
	}
	return r.decodePage(page)
}

// ListByStatus pages through projects in one status via the status/tag
// index.
func (r *ProjectRepository) ListByStatus(ctx context.Context, status domain.ProjectStatus, cursor string, limit int) ([]domain.Project, string, error) {
	page, err := r.store.ListIndex(ctx, IndexStatusTag, StatusGSI(string(status)), cursor, limit)
	if err != nil {
		return nil, "", err
	}
	return r.decodePage(page)
}

func (r *ProjectRepository) decodePage(page *ListPage) ([]domain.Project, string, error) {
	projects := make([]domain.Project, 0, len(page.Items))
	for _, item := range page.Items {
		var p domain.Project
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return nil, "", fmt.Errorf("failed to unmarshal project item %s: %w", item.PK, err)
		}
		projects = append(projects, p)
	}
	return projects, page.NextCursor, nil
}
