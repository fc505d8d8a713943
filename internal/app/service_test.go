package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"inkwell/api/internal/bus"
	"inkwell/api/internal/config"
	"inkwell/api/internal/content"
	"inkwell/api/internal/store"
	"inkwell/api/internal/watch"
)

type fakeStore struct {
	mu          sync.Mutex
	sites       map[string]store.Site
	collections map[string]store.Collection
	items       map[string]store.ContentItem
	drafts      map[string]store.ContentDraft

	publishCount int
	updateCalls  []string
	draftCalls   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sites:       make(map[string]store.Site),
		collections: make(map[string]store.Collection),
		items:       make(map[string]store.ContentItem),
		drafts:      make(map[string]store.ContentDraft),
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) InsertSite(ctx context.Context, site store.Site) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sites[site.ID] = site
	return nil
}

func (f *fakeStore) GetSite(ctx context.Context, siteID string) (store.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	site, ok := f.sites[siteID]
	if !ok {
		return store.Site{}, store.ErrNotFound
	}
	return site, nil
}

func (f *fakeStore) InsertCollection(ctx context.Context, collection store.Collection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[collection.ID] = collection
	return nil
}

func (f *fakeStore) GetCollectionBySlug(ctx context.Context, siteID, slug string) (store.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, collection := range f.collections {
		if collection.SiteID == siteID && collection.Slug == slug {
			return collection, nil
		}
	}
	return store.Collection{}, store.ErrNotFound
}

func (f *fakeStore) InsertItem(ctx context.Context, item store.ContentItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.ID] = item
	return nil
}

func (f *fakeStore) GetItem(ctx context.Context, itemID string) (store.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return store.ContentItem{}, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeStore) ListItems(ctx context.Context, collectionID string) ([]store.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.ContentItem
	for _, item := range f.items {
		if item.CollectionID == collectionID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeStore) DeleteItem(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[itemID]; !ok {
		return store.ErrNotFound
	}
	delete(f.items, itemID)
	delete(f.drafts, itemID)
	return nil
}

func (f *fakeStore) UpdateItem(ctx context.Context, itemID string, changes content.ChangeSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return store.ErrNotFound
	}
	applyChanges(&item, changes)
	item.UpdatedAt = time.Now().UTC()
	f.items[itemID] = item
	f.updateCalls = append(f.updateCalls, itemID)
	return nil
}

func (f *fakeStore) GetDraft(ctx context.Context, itemID string) (store.ContentDraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	draft, ok := f.drafts[itemID]
	if !ok {
		return store.ContentDraft{}, store.ErrNotFound
	}
	return draft, nil
}

func (f *fakeStore) SaveDraft(ctx context.Context, itemID string, changes content.ChangeSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return store.ErrNotFound
	}
	if item.Status != "published" {
		return store.ErrNotFound
	}
	draft := f.drafts[itemID]
	draft.ItemID = itemID
	for field, value := range changes.Fields {
		s, _ := value.(string)
		switch field {
		case content.FieldSlug:
			draft.Slug = &s
		case content.FieldTitle:
			draft.Title = &s
		}
	}
	if len(changes.Data) > 0 {
		if draft.Data == nil {
			draft.Data = map[string]any{}
		}
		for k, v := range changes.Data {
			draft.Data[k] = v
		}
	}
	draft.UpdatedAt = time.Now().UTC()
	f.drafts[itemID] = draft
	f.draftCalls = append(f.draftCalls, itemID)
	return nil
}

func (f *fakeStore) DiscardDraft(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.drafts, itemID)
	return nil
}

func (f *fakeStore) Publish(ctx context.Context, itemID string, pending content.ChangeSet) (store.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return store.ContentItem{}, store.ErrNotFound
	}
	if draft, ok := f.drafts[itemID]; ok {
		if draft.Slug != nil {
			item.Slug = *draft.Slug
		}
		if draft.Title != nil {
			item.Title = *draft.Title
		}
		for k, v := range draft.Data {
			if item.Data == nil {
				item.Data = map[string]any{}
			}
			item.Data[k] = v
		}
	}
	applyChanges(&item, pending)
	now := time.Now().UTC()
	item.Status = "published"
	item.PublishedAt = &now
	item.UpdatedAt = now
	f.items[itemID] = item
	delete(f.drafts, itemID)
	f.publishCount++
	return item, nil
}

func (f *fakeStore) Unpublish(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return store.ErrNotFound
	}
	item.Status = "draft"
	item.PublishedAt = nil
	f.items[itemID] = item
	delete(f.drafts, itemID)
	return nil
}

func (f *fakeStore) ListSnapshot(ctx context.Context, collectionID string) ([]store.SnapshotRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []store.SnapshotRow
	for _, item := range f.items {
		if item.CollectionID != collectionID || item.Status != "published" {
			continue
		}
		rows = append(rows, store.SnapshotRow{
			ID:        item.ID,
			Slug:      item.Slug,
			Status:    item.Status,
			Title:     item.Title,
			UpdatedAt: item.UpdatedAt,
			Data:      item.Data,
		})
	}
	return rows, nil
}

func applyChanges(item *store.ContentItem, changes content.ChangeSet) {
	for field, value := range changes.Fields {
		s, _ := value.(string)
		switch field {
		case content.FieldSlug:
			item.Slug = s
		case content.FieldTitle:
			item.Title = s
		case content.FieldStatus:
			item.Status = s
		}
	}
	if len(changes.Data) > 0 {
		if item.Data == nil {
			item.Data = map[string]any{}
		}
		for k, v := range changes.Data {
			item.Data[k] = v
		}
	}
}

func testConfig() config.Config {
	return config.Config{
		SiteID:        "site_1",
		WebhookSecret: "hook-secret",
		TokenSecret:   "token-secret",
		DebounceDelay: time.Hour,
	}
}

func newTestService(fs *fakeStore) *Service {
	eventBus := bus.New()
	return New(testConfig(), fs, nil, nil, watch.NewDispatcher(eventBus), nil, eventBus)
}

func seedPublishedItem(fs *fakeStore, itemID string) store.ContentItem {
	now := time.Now().UTC().Add(-time.Minute)
	published := now.Add(-time.Hour)
	item := store.ContentItem{
		ID:           itemID,
		CollectionID: "col_1",
		SiteID:       "site_1",
		Slug:         "hello-world",
		Title:        "Hello World",
		Status:       "published",
		Data:         map[string]any{"body": "First post"},
		PublishedAt:  &published,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	fs.items[itemID] = item
	return item
}

func TestEditorSessionPublishedWriteFlow(t *testing.T) {
	fs := newFakeStore()
	seedPublishedItem(fs, "item_1")
	svc := newTestService(fs)
	ctx := context.Background()

	sessionID, err := svc.CreateEditorSession(ctx, []string{"item_1"})
	if err != nil {
		t.Fatalf("CreateEditorSession() error = %v", err)
	}

	merged, err := svc.WriteField(ctx, sessionID, "item_1", "title", "Hello Again")
	if err != nil {
		t.Fatalf("WriteField() error = %v", err)
	}
	if merged.Title != "Hello Again" {
		t.Fatalf("expected merged title, got %q", merged.Title)
	}

	summary, err := svc.PendingSummary(sessionID)
	if err != nil {
		t.Fatalf("PendingSummary() error = %v", err)
	}
	if summary["changedFields"] != 1 {
		t.Fatalf("expected 1 pending field, got %v", summary["changedFields"])
	}
	// Debounce window is long; nothing has been persisted yet.
	if len(fs.draftCalls) != 0 {
		t.Fatalf("expected no draft writes before flush, got %v", fs.draftCalls)
	}

	canonical, err := svc.RepublishItem(ctx, sessionID, "item_1", "Avery")
	if err != nil {
		t.Fatalf("RepublishItem() error = %v", err)
	}
	if canonical.Title != "Hello Again" {
		t.Fatalf("expected republished title, got %q", canonical.Title)
	}
	if fs.publishCount != 1 {
		t.Fatalf("expected one publish call, got %d", fs.publishCount)
	}

	summary, err = svc.PendingSummary(sessionID)
	if err != nil {
		t.Fatalf("PendingSummary() after publish error = %v", err)
	}
	if summary["changedFields"] != 0 {
		t.Fatalf("expected pending cleared after publish, got %v", summary["changedFields"])
	}
}

func TestEditorSessionLoadsStoredDraft(t *testing.T) {
	fs := newFakeStore()
	seedPublishedItem(fs, "item_1")
	draftTitle := "Draft Title"
	fs.drafts["item_1"] = store.ContentDraft{
		ItemID:    "item_1",
		Title:     &draftTitle,
		Data:      map[string]any{"body": "Draft body"},
		UpdatedAt: time.Now().UTC(),
	}
	svc := newTestService(fs)
	ctx := context.Background()

	sessionID, err := svc.CreateEditorSession(ctx, []string{"item_1"})
	if err != nil {
		t.Fatalf("CreateEditorSession() error = %v", err)
	}
	merged, err := svc.ReadMerged(sessionID, "item_1")
	if err != nil {
		t.Fatalf("ReadMerged() error = %v", err)
	}
	if merged.Title != "Draft Title" {
		t.Fatalf("expected overlay title to win, got %q", merged.Title)
	}
	if merged.Data["body"] != "Draft body" {
		t.Fatalf("expected overlay data to win, got %v", merged.Data["body"])
	}
}

func TestCreateEditorSessionUnknownItem(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)

	if _, err := svc.CreateEditorSession(context.Background(), []string{"missing"}); err == nil {
		t.Fatal("expected error for unknown item")
	}
}

func TestIssueSnapshotTokenRejectsBadKey(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	site, apiKey, err := svc.CreateSite(ctx, "Demo", "demo")
	if err != nil {
		t.Fatalf("CreateSite() error = %v", err)
	}

	token, _, err := svc.IssueSnapshotToken(ctx, site.ID, apiKey)
	if err != nil {
		t.Fatalf("IssueSnapshotToken() error = %v", err)
	}
	if err := svc.AuthorizeSnapshot(token, site.ID); err != nil {
		t.Fatalf("AuthorizeSnapshot() error = %v", err)
	}
	if err := svc.AuthorizeSnapshot(token, "site_other"); err == nil {
		t.Fatal("expected token to be rejected for another site")
	}

	if _, _, err := svc.IssueSnapshotToken(ctx, site.ID, "ik_wrong"); err == nil {
		t.Fatal("expected bad api key to be rejected")
	}
}

func TestReceiveWebhookValidation(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	evt := watch.Event{
		Event:      watch.EventUpdated,
		SiteID:     "site_1",
		Collection: "posts",
		Slug:       "hello-world",
		ItemID:     "item_1",
		Timestamp:  time.Now().UTC(),
	}
	body, _ := json.Marshal(evt)

	if _, err := svc.ReceiveWebhook(ctx, body, "sha256=deadbeef"); err == nil {
		t.Fatal("expected signature rejection")
	}

	sig := watch.SignPayload([]byte("hook-secret"), body)
	parsed, err := svc.ReceiveWebhook(ctx, body, sig)
	if err != nil {
		t.Fatalf("ReceiveWebhook() error = %v", err)
	}
	if parsed.ItemID != "item_1" {
		t.Fatalf("unexpected event %+v", parsed)
	}

	bad := []byte(`{"event":"content.exploded","site_id":"site_1","collection":"posts","item_id":"x","timestamp":"2026-01-02T03:04:05Z"}`)
	if _, err := svc.ReceiveWebhook(ctx, bad, watch.SignPayload([]byte("hook-secret"), bad)); err == nil {
		t.Fatal("expected schema rejection")
	}
}

func TestStoreSourceServesPublishedOnly(t *testing.T) {
	fs := newFakeStore()
	fs.collections["col_1"] = store.Collection{ID: "col_1", SiteID: "site_1", Slug: "posts"}
	seedPublishedItem(fs, "item_1")
	draft := seedPublishedItem(fs, "item_2")
	draft.Status = "draft"
	draft.PublishedAt = nil
	fs.items["item_2"] = draft

	source := NewStoreSource(fs, "site_1", "posts")
	snapshot, err := source.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot() error = %v", err)
	}
	if snapshot.Collection != "posts" {
		t.Fatalf("unexpected collection %q", snapshot.Collection)
	}
	if len(snapshot.Items) != 1 || snapshot.Items[0].ID != "item_1" {
		t.Fatalf("expected only the published item, got %+v", snapshot.Items)
	}
}
