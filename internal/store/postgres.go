package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"inkwell/api/internal/content"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- sites / collections ----

func (s *PostgresStore) InsertSite(ctx context.Context, site Site) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (id, name, slug, api_key_hash)
		VALUES ($1, $2, $3, $4)
	`, site.ID, site.Name, site.Slug, site.APIKeyHash)
	if err != nil {
		return fmt.Errorf("insert site: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSite(ctx context.Context, siteID string) (Site, error) {
	var site Site
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, api_key_hash, created_at, updated_at
		FROM sites WHERE id = $1
	`, siteID).Scan(&site.ID, &site.Name, &site.Slug, &site.APIKeyHash, &site.CreatedAt, &site.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Site{}, ErrNotFound
	}
	if err != nil {
		return Site{}, fmt.Errorf("get site: %w", err)
	}
	return site, nil
}

func (s *PostgresStore) InsertCollection(ctx context.Context, collection Collection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (id, site_id, slug, name)
		VALUES ($1, $2, $3, $4)
	`, collection.ID, collection.SiteID, collection.Slug, collection.Name)
	if err != nil {
		return fmt.Errorf("insert collection: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCollectionBySlug(ctx context.Context, siteID, slug string) (Collection, error) {
	var collection Collection
	err := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, slug, name, created_at, updated_at
		FROM collections WHERE site_id = $1 AND slug = $2
	`, siteID, slug).Scan(&collection.ID, &collection.SiteID, &collection.Slug, &collection.Name, &collection.CreatedAt, &collection.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, ErrNotFound
	}
	if err != nil {
		return Collection{}, fmt.Errorf("get collection %s/%s: %w", siteID, slug, err)
	}
	return collection, nil
}

// ---- items ----

const itemColumns = `i.id, i.collection_id, i.site_id, i.slug, i.title, i.status, i.data, i.published_at, i.created_at, i.updated_at`

func (s *PostgresStore) scanItem(row interface{ Scan(...any) error }) (ContentItem, error) {
	var item ContentItem
	var data []byte
	err := row.Scan(&item.ID, &item.CollectionID, &item.SiteID, &item.Slug, &item.Title, &item.Status, &data, &item.PublishedAt, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ContentItem{}, ErrNotFound
	}
	if err != nil {
		return ContentItem{}, fmt.Errorf("scan item: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &item.Data); err != nil {
			return ContentItem{}, fmt.Errorf("decode item data: %w", err)
		}
	}
	return item, nil
}

func (s *PostgresStore) InsertItem(ctx context.Context, item ContentItem) error {
	data, err := json.Marshal(dataOrEmpty(item.Data))
	if err != nil {
		return fmt.Errorf("encode item data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO content_items (id, collection_id, site_id, slug, title, status, data, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.CollectionID, item.SiteID, item.Slug, item.Title, item.Status, data, item.PublishedAt)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (ContentItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM content_items i WHERE i.id = $1`, itemID)
	return s.scanItem(row)
}

func (s *PostgresStore) ListItems(ctx context.Context, collectionID string) ([]ContentItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM content_items i
		WHERE i.collection_id = $1
		ORDER BY i.updated_at DESC
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []ContentItem
	for rows.Next() {
		item, err := s.scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DeleteItem(ctx context.Context, itemID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM content_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateItem applies a change set to the live record: system fields as
// column updates, custom fields merged into the data object.
func (s *PostgresStore) UpdateItem(ctx context.Context, itemID string, changes content.ChangeSet) error {
	if changes.IsZero() {
		return nil
	}
	setClause, args, err := buildItemUpdate(changes)
	if err != nil {
		return err
	}
	args = append(args, itemID)
	query := fmt.Sprintf(`UPDATE content_items SET %s, updated_at = NOW() WHERE id = $%d`, setClause, len(args))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update item %s: %w", itemID, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// buildItemUpdate renders the SET clause for a change set. Only slug,
// title and status are updatable columns; custom fields merge into data
// via the jsonb || operator.
func buildItemUpdate(changes content.ChangeSet) (string, []any, error) {
	var sets []string
	var args []any
	for _, field := range []string{content.FieldSlug, content.FieldTitle, content.FieldStatus} {
		value, ok := changes.Fields[field]
		if !ok {
			continue
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", field, len(args)))
	}
	for field := range changes.Fields {
		switch field {
		case content.FieldSlug, content.FieldTitle, content.FieldStatus:
		default:
			return "", nil, fmt.Errorf("unknown system field %q", field)
		}
	}
	if len(changes.Data) > 0 {
		patch, err := json.Marshal(changes.Data)
		if err != nil {
			return "", nil, fmt.Errorf("encode data patch: %w", err)
		}
		args = append(args, patch)
		sets = append(sets, fmt.Sprintf("data = data || $%d::jsonb", len(args)))
	}
	if len(sets) == 0 {
		return "", nil, fmt.Errorf("empty change set")
	}
	return strings.Join(sets, ", "), args, nil
}

// ---- draft sub-resource ----

func (s *PostgresStore) GetDraft(ctx context.Context, itemID string) (ContentDraft, error) {
	var draft ContentDraft
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT item_id, slug, title, data, updated_at
		FROM content_drafts WHERE item_id = $1
	`, itemID).Scan(&draft.ItemID, &draft.Slug, &draft.Title, &data, &draft.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ContentDraft{}, ErrNotFound
	}
	if err != nil {
		return ContentDraft{}, fmt.Errorf("get draft: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &draft.Data); err != nil {
			return ContentDraft{}, fmt.Errorf("decode draft data: %w", err)
		}
	}
	return draft, nil
}

// SaveDraft upserts the draft row for a published item, merging system
// fields and data on top of any existing draft state. The invariant
// that only published items carry drafts is enforced here, not just in
// the editor.
func (s *PostgresStore) SaveDraft(ctx context.Context, itemID string, changes content.ChangeSet) error {
	if changes.IsZero() {
		return nil
	}

	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM content_items WHERE id = $1`, itemID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check item status: %w", err)
	}
	if status != string(content.StatusPublished) {
		return fmt.Errorf("item %s is not published; drafts only layer over published items", itemID)
	}

	slug := nullableString(changes.Fields, content.FieldSlug)
	title := nullableString(changes.Fields, content.FieldTitle)
	patch, err := json.Marshal(dataOrEmpty(changes.Data))
	if err != nil {
		return fmt.Errorf("encode draft patch: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO content_drafts (item_id, slug, title, data, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (item_id) DO UPDATE SET
			slug = COALESCE(EXCLUDED.slug, content_drafts.slug),
			title = COALESCE(EXCLUDED.title, content_drafts.title),
			data = content_drafts.data || EXCLUDED.data,
			updated_at = NOW()
	`, itemID, slug, title, patch)
	if err != nil {
		return fmt.Errorf("save draft for %s: %w", itemID, err)
	}
	return nil
}

func (s *PostgresStore) DiscardDraft(ctx context.Context, itemID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM content_drafts WHERE item_id = $1`, itemID); err != nil {
		return fmt.Errorf("discard draft for %s: %w", itemID, err)
	}
	return nil
}

// ---- publish / unpublish ----

// Publish folds the draft row plus any extra pending changes into the
// live record, stamps published_at, drops the draft, and returns the
// canonical item, all in one transaction.
func (s *PostgresStore) Publish(ctx context.Context, itemID string, pending content.ChangeSet) (ContentItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ContentItem{}, fmt.Errorf("begin publish tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := s.scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM content_items i WHERE i.id = $1 FOR UPDATE`, itemID))
	if err != nil {
		return ContentItem{}, err
	}

	var draftSlug, draftTitle *string
	var draftData map[string]any
	var rawDraftData []byte
	err = tx.QueryRowContext(ctx, `SELECT slug, title, data FROM content_drafts WHERE item_id = $1`, itemID).
		Scan(&draftSlug, &draftTitle, &rawDraftData)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ContentItem{}, fmt.Errorf("load draft for publish: %w", err)
	}
	if len(rawDraftData) > 0 {
		if err := json.Unmarshal(rawDraftData, &draftData); err != nil {
			return ContentItem{}, fmt.Errorf("decode draft data: %w", err)
		}
	}

	// Draft layer first, then the caller's pending changes on top.
	if draftSlug != nil {
		item.Slug = *draftSlug
	}
	if draftTitle != nil {
		item.Title = *draftTitle
	}
	if item.Data == nil {
		item.Data = map[string]any{}
	}
	for key, value := range draftData {
		item.Data[key] = value
	}
	for field, value := range pending.Fields {
		switch field {
		case content.FieldSlug:
			if v, ok := value.(string); ok {
				item.Slug = v
			}
		case content.FieldTitle:
			if v, ok := value.(string); ok {
				item.Title = v
			}
		}
	}
	for key, value := range pending.Data {
		item.Data[key] = value
	}

	data, err := json.Marshal(item.Data)
	if err != nil {
		return ContentItem{}, fmt.Errorf("encode published data: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE content_items
		SET slug = $2, title = $3, data = $4, status = 'published', published_at = $5, updated_at = $5
		WHERE id = $1
	`, itemID, item.Slug, item.Title, data, now); err != nil {
		return ContentItem{}, fmt.Errorf("publish item %s: %w", itemID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM content_drafts WHERE item_id = $1`, itemID); err != nil {
		return ContentItem{}, fmt.Errorf("drop draft on publish: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ContentItem{}, fmt.Errorf("commit publish: %w", err)
	}

	item.Status = string(content.StatusPublished)
	item.PublishedAt = &now
	item.UpdatedAt = now
	return item, nil
}

// Unpublish reverts an item to draft status, clearing published_at and
// dropping any draft row (nothing left to layer over).
func (s *PostgresStore) Unpublish(ctx context.Context, itemID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unpublish tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE content_items
		SET status = 'draft', published_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, itemID)
	if err != nil {
		return fmt.Errorf("unpublish item %s: %w", itemID, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM content_drafts WHERE item_id = $1`, itemID); err != nil {
		return fmt.Errorf("drop draft on unpublish: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unpublish: %w", err)
	}
	return nil
}

// ---- snapshot ----

// ListSnapshot returns the published base of every item in a
// collection, the shape the fetch contract serves.
func (s *PostgresStore) ListSnapshot(ctx context.Context, collectionID string) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, status, title, updated_at, data
		FROM content_items
		WHERE collection_id = $1
		ORDER BY id
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list snapshot: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var row SnapshotRow
		var data []byte
		if err := rows.Scan(&row.ID, &row.Slug, &row.Status, &row.Title, &row.UpdatedAt, &data); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &row.Data); err != nil {
				return nil, fmt.Errorf("decode snapshot data: %w", err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func dataOrEmpty(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return data
}

func nullableString(fields map[string]any, key string) *string {
	value, ok := fields[key]
	if !ok {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return nil
	}
	return &s
}
