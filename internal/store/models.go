package store

import "time"

// Site is one consuming site: the tenant boundary for collections,
// snapshots and webhook delivery.
type Site struct {
	ID         string
	Name       string
	Slug       string
	APIKeyHash string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Collection groups content items of one shape within a site.
type Collection struct {
	ID        string
	SiteID    string
	Slug      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ContentItem is the persisted base record. Data holds the collection's
// custom fields as a JSON object.
type ContentItem struct {
	ID           string
	CollectionID string
	SiteID       string
	Slug         string
	Title        string
	Status       string
	Data         map[string]any
	PublishedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ContentDraft is the draft sub-resource row layered over a published
// item. Nil system fields mean "not edited".
type ContentDraft struct {
	ItemID    string
	Slug      *string
	Title     *string
	Data      map[string]any
	UpdatedAt time.Time
}

// SnapshotRow is one item as served by the snapshot endpoint: the
// published base only, drafts never leak into snapshots.
type SnapshotRow struct {
	ID        string
	Slug      string
	Status    string
	Title     string
	UpdatedAt time.Time
	Data      map[string]any
}
