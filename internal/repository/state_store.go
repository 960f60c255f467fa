package repository

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxBatchKeys is the per-round key ceiling of BatchGet. Requests for
// more keys are served transparently over multiple rounds.
const MaxBatchKeys = 100

// ErrNotFound is returned when a requested item does not exist.
var ErrNotFound = errors.New("item not found")

// IndexName selects one of the two secondary indexes.
type IndexName int

const (
	// IndexOwnerCategory serves "list mine" and "list by category".
	IndexOwnerCategory IndexName = iota + 1
	// IndexStatusTag serves "list needing attention" and tag search.
	IndexStatusTag
)

// StateStore is the partitioned key-value store holding all entity
// state. Every write is an idempotent upsert of a single item; writes
// batched through PutBatch are individually atomic but the batch as a
// whole is not transactional. Conflicts resolve last-writer-wins by
// updated_at.
type StateStore struct {
	db *gorm.DB
}

// NewStateStore creates a StateStore bound to db.
func NewStateStore(db *gorm.DB) *StateStore {
	return &StateStore{db: db}
}

// Put upserts a single item keyed by (pk, sk).
func (s *StateStore) Put(ctx context.Context, item *Item) error {
	item.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pk"}, {Name: "sk"}},
		UpdateAll: true,
	}).Create(item).Error
}

// PutBatch upserts items one by one. A reader may observe some items of
// the batch before the rest land; callers that need stronger guarantees
// must not rely on batch atomicity.
func (s *StateStore) PutBatch(ctx context.Context, items []Item) error {
	for i := range items {
		if err := s.Put(ctx, &items[i]); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a single item by its full key.
func (s *StateStore) Get(ctx context.Context, pk, sk string) (*Item, error) {
	var item Item
	err := s.db.WithContext(ctx).First(&item, "pk = ? AND sk = ?", pk, sk).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// QueryPartition returns all items of a partition whose sort key starts
// with skPrefix, ordered by sort key. An empty prefix returns the whole
// partition.
func (s *StateStore) QueryPartition(ctx context.Context, pk, skPrefix string) ([]Item, error) {
	var items []Item
	q := s.db.WithContext(ctx).Where("pk = ?", pk)
	if skPrefix != "" {
		q = q.Where("sk LIKE ? ESCAPE '\\'", escapeLike(skPrefix)+"%")
	}
	if err := q.Order("sk").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListPage is one page of an index query.
type ListPage struct {
	Items      []Item
	NextCursor string
}

// ListIndex queries a secondary index partition with pagination. The
// cursor is opaque; pass the previous page's NextCursor to continue.
func (s *StateStore) ListIndex(ctx context.Context, index IndexName, partition string, cursor string, limit int) (*ListPage, error) {
	if limit <= 0 {
		limit = 50
	}

	pkCol, skCol := "gsi1pk", "gsi1sk"
	if index == IndexStatusTag {
		pkCol, skCol = "gsi2pk", "gsi2sk"
	}

	q := s.db.WithContext(ctx).Where(pkCol+" = ?", partition)
	if cursor != "" {
		after, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		q = q.Where(skCol+" > ?", after)
	}

	var items []Item
	if err := q.Order(skCol).Limit(limit + 1).Find(&items).Error; err != nil {
		return nil, err
	}

	page := &ListPage{}
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		lastSK := last.GSI1SK
		if index == IndexStatusTag {
			lastSK = last.GSI2SK
		}
		page.NextCursor = encodeCursor(lastSK)
	}
	page.Items = items
	return page, nil
}

// BatchGet retrieves items for the given keys, chunking requests so no
// round trip exceeds MaxBatchKeys keys. Missing keys are skipped, not
// errors; duplicates in keys yield one item.
func (s *StateStore) BatchGet(ctx context.Context, keys []ItemKey) ([]Item, error) {
	items, _, err := s.batchGet(ctx, keys)
	return items, err
}

// batchGet also reports the number of rounds issued, for tests.
func (s *StateStore) batchGet(ctx context.Context, keys []ItemKey) ([]Item, int, error) {
	seen := make(map[ItemKey]struct{}, len(keys))
	unique := keys[:0:0]
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, k)
	}

	var (
		out    []Item
		rounds int
	)
	for start := 0; start < len(unique); start += MaxBatchKeys {
		end := start + MaxBatchKeys
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[start:end]

		cond := s.db.Where("1 = 0")
		for _, k := range chunk {
			cond = cond.Or(s.db.Where("pk = ? AND sk = ?", k.PK, k.SK))
		}

		var items []Item
		if err := s.db.WithContext(ctx).Where(cond).Find(&items).Error; err != nil {
			return nil, rounds, err
		}
		out = append(out, items...)
		rounds++
	}
	return out, rounds, nil
}

// DeletePartition hard-deletes every item of a partition. Deleting a
// project partition removes its files, history and modifications in one
// sweep, which is the cascade the data model requires.
func (s *StateStore) DeletePartition(ctx context.Context, pk string) error {
	return s.db.WithContext(ctx).Where("pk = ?", pk).Delete(&Item{}).Error
}

// Delete removes a single item.
func (s *StateStore) Delete(ctx context.Context, pk, sk string) error {
	return s.db.WithContext(ctx).Where("pk = ? AND sk = ?", pk, sk).Delete(&Item{}).Error
}

func encodeCursor(sk string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(sk))
}

func decodeCursor(cursor string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", errors.New("invalid pagination cursor")
	}
	return string(b), nil
}

// escapeLike escapes LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
