package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/timmy/forge/internal/domain"
)

// TemplateRepository provides typed access to template partitions.
// Each template stores its metadata item plus one TAG# item per tag so
// tag search runs over the status/tag index instead of scanning.
type TemplateRepository struct {
	store *StateStore
}

// NewTemplateRepository creates a TemplateRepository over store.
func NewTemplateRepository(store *StateStore) *TemplateRepository {
	return &TemplateRepository{store: store}
}

// Put upserts the template metadata and its tag items.
func (r *TemplateRepository) Put(ctx context.Context, t *domain.Template) error {
	t.UpdatedAt = time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.UpdatedAt
	}

	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal template %s: %w", t.ID, err)
	}

	items := []Item{{
		PK:      TemplatePK(t.ID),
		SK:      SKMetadata,
		Kind:    "template",
		GSI1PK:  CategoryGSI(string(t.Category)),
		GSI1SK:  gsi1SortKey(t.CreatedAt, TemplatePK(t.ID)),
		Payload: payload,
	}}
	for _, tag := range t.Tags {
		items = append(items, Item{
			PK:      TemplatePK(t.ID),
			SK:      TagSK(tag),
			Kind:    "template_tag",
			GSI2PK:  TagGSI(tag),
			GSI2SK:  TemplatePK(t.ID),
			Payload: payload,
		})
	}
	return r.store.PutBatch(ctx, items)
}

// Get retrieves a template by id.
func (r *TemplateRepository) Get(ctx context.Context, id string) (*domain.Template, error) {
	item, err := r.store.Get(ctx, TemplatePK(id), SKMetadata)
	if err != nil {
		return nil, err
	}
	var t domain.Template
	if err := json.Unmarshal(item.Payload, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template %s: %w", id, err)
	}
	return &t, nil
}

// ListByCategory pages through templates of one category.
func (r *TemplateRepository) ListByCategory(ctx context.Context, category domain.TemplateCategory, cursor string, limit int) ([]domain.Template, string, error) {
	page, err := r.store.ListIndex(ctx, IndexOwnerCategory, CategoryGSI(string(category)), cursor, limit)
	if err != nil {
		return nil, "", err
	}
	return decodeTemplatePage(page)
}

// SearchByTag pages through templates carrying one tag.
func (r *TemplateRepository) SearchByTag(ctx context.Context, tag, cursor string, limit int) ([]domain.Template, string, error) {
	page, err := r.store.ListIndex(ctx, IndexStatusTag, TagGSI(tag), cursor, limit)
	if err != nil {
		return nil, "", err
	}
	return decodeTemplatePage(page)
}

// Delete hard-deletes a template and its tag items.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	return r.store.DeletePartition(ctx, TemplatePK(id))
}

func decodeTemplatePage(page *ListPage) ([]domain.Template, string, error) {
	templates := make([]domain.Template, 0, len(page.Items))
	for _, item := range page.Items {
		var t domain.Template
		if err := json.Unmarshal(item.Payload, &t); err != nil {
			return nil, "", fmt.Errorf("failed to unmarshal template item %s: %w", item.PK, err)
		}
		templates = append(templates, t)
	}
	return templates, page.NextCursor, nil
}
