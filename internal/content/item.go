// Package content holds the typed content model: items, draft overlays,
// the merged read view, and the change-set diff shape shared by the
// editor and the persistence layer.
package content

import "time"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// System field names accepted by the editor. Anything else is a custom
// field and lives under Data.
const (
	FieldSlug   = "slug"
	FieldTitle  = "title"
	FieldStatus = "status"
)

// Item is one content row as the admin surface sees it. Data carries the
// collection's custom fields. Draft is the unpublished edit layer and is
// only ever present while Status == published.
type Item struct {
	ID          string         `json:"id"`
	Slug        string         `json:"slug"`
	Title       string         `json:"title"`
	Status      Status         `json:"status"`
	PublishedAt *time.Time     `json:"publishedAt,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Data        map[string]any `json:"data,omitempty"`
	Draft       *Overlay       `json:"draft,omitempty"`
}

// Overlay is the draft layer stored alongside a published item. Nil
// pointers mean "not edited, fall through to the base".
type Overlay struct {
	Slug      *string        `json:"slug,omitempty"`
	Title     *string        `json:"title,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (o *Overlay) isEmpty() bool {
	return o == nil || (o.Slug == nil && o.Title == nil && len(o.Data) == 0)
}

// SetField records an edit on the overlay.
func (o *Overlay) SetField(field string, value any) {
	switch field {
	case FieldSlug:
		s, _ := value.(string)
		o.Slug = &s
	case FieldTitle:
		s, _ := value.(string)
		o.Title = &s
	default:
		if o.Data == nil {
			o.Data = map[string]any{}
		}
		o.Data[field] = value
	}
}
