package repository

import (
	"fmt"
	"strings"
	"time"
)

// Key prefixes of the single-table layout. The partition key scopes one
// entity (a project or a template); the sort key distinguishes the
// record kinds stored inside that partition.
const (
	pkProject  = "PROJECT#"
	pkTemplate = "TEMPLATE#"

	SKMetadata = "METADATA"
	skFile     = "FILE#"
	skMod      = "MOD#"
	skTag      = "TAG#"
	skHistory  = "HIST#"
)

// Secondary index prefixes. GSI1 serves owner/category listings, GSI2
// serves status/tag listings.
const (
	gsiOwner    = "OWNER#"
	gsiCategory = "CATEGORY#"
	gsiStatus   = "STATUS#"
	gsiTag      = "TAG#"
)

// Item is one row of the single-table state store. Heterogeneous entity
// kinds share the table and are told apart by their key prefixes; the
// payload column carries the entity JSON.
type Item struct {
	PK        string    `gorm:"column:pk;primaryKey;size:512"`
	SK        string    `gorm:"column:sk;primaryKey;size:512"`
	Kind      string    `gorm:"column:kind;size:32;index"`
	GSI1PK    string    `gorm:"column:gsi1pk;size:512;index:idx_items_gsi1,priority:1"`
	GSI1SK    string    `gorm:"column:gsi1sk;size:512;index:idx_items_gsi1,priority:2"`
	GSI2PK    string    `gorm:"column:gsi2pk;size:512;index:idx_items_gsi2,priority:1"`
	GSI2SK    string    `gorm:"column:gsi2sk;size:512;index:idx_items_gsi2,priority:2"`
	Payload   []byte    `gorm:"column:payload;type:text"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName returns the database table name for Item.
func (Item) TableName() string {
	return "items"
}

// ItemKey identifies one item for batch retrieval.
type ItemKey struct {
	PK string
	SK string
}

// ProjectPK builds the partition key for a project.
func ProjectPK(id string) string { return pkProject + id }

// TemplatePK builds the partition key for a template.
func TemplatePK(id string) string { return pkTemplate + id }

// FileSK builds the sort key for a codebase file item.
func FileSK(path string) string { return skFile + path }

// ModSK builds the sort key for a modification item.
func ModSK(id string) string { return skMod + id }

// TagSK builds the sort key for a template tag item.
func TagSK(tag string) string { return skTag + tag }

// HistorySK builds the sort key for a history entry. Keying history by
// correlation id makes redelivered stage messages overwrite their own
// entry instead of appending a duplicate.
func HistorySK(correlationID string) string { return skHistory + correlationID }

// FilePathFromSK recovers the codebase path from a file item's sort key.
func FilePathFromSK(sk string) string { return strings.TrimPrefix(sk, skFile) }

// StatusGSI builds the GSI2 partition value for a status listing.
func StatusGSI(status string) string { return gsiStatus + status }

// OwnerGSI builds the GSI1 partition value for an owner listing.
func OwnerGSI(owner string) string { return gsiOwner + owner }

// CategoryGSI builds the GSI1 partition value for a category listing.
func CategoryGSI(category string) string { return gsiCategory + category }

// TagGSI builds the GSI2 partition value for a tag search.
func TagGSI(tag string) string { return gsiTag + tag }

// gsi1SortKey orders index entries newest-first within a partition.
func gsi1SortKey(t time.Time, pk string) string {
	return fmt.Sprintf("%s#%s", t.UTC().Format(time.RFC3339Nano), pk)
}
