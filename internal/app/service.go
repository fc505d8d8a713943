package app

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/bus"
	"inkwell/api/internal/config"
	"inkwell/api/internal/content"
	"inkwell/api/internal/editor"
	"inkwell/api/internal/revisions"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
	"inkwell/api/internal/watch"
)

const snapshotTokenTTL = time.Hour

type dataStore interface {
	Ping(ctx context.Context) error
	InsertSite(context.Context, store.Site) error
	GetSite(context.Context, string) (store.Site, error)
	InsertCollection(context.Context, store.Collection) error
	GetCollectionBySlug(context.Context, string, string) (store.Collection, error)
	InsertItem(context.Context, store.ContentItem) error
	GetItem(context.Context, string) (store.ContentItem, error)
	ListItems(context.Context, string) ([]store.ContentItem, error)
	DeleteItem(context.Context, string) error
	UpdateItem(context.Context, string, content.ChangeSet) error
	GetDraft(context.Context, string) (store.ContentDraft, error)
	SaveDraft(context.Context, string, content.ChangeSet) error
	DiscardDraft(context.Context, string) error
	Publish(context.Context, string, content.ChangeSet) (store.ContentItem, error)
	Unpublish(context.Context, string) error
	ListSnapshot(context.Context, string) ([]store.SnapshotRow, error)
}

type revisionService interface {
	RecordPublish(siteID, itemID string, payload map[string]any, author, message string) (revisions.Revision, error)
	RecordDelete(siteID, itemID, author string) (revisions.Revision, error)
	History(siteID, itemID string, limit int) ([]revisions.Revision, error)
	GetByHash(siteID, itemID, hash string) (map[string]any, error)
}

type editSession struct {
	session   *editor.Session
	sched     *editor.Scheduler
	createdAt time.Time
}

// Service ties the content store, editing sessions, publish history,
// search and the change-notification loop together behind one facade.
type Service struct {
	cfg        config.Config
	store      dataStore
	revisions  revisionService
	searcher   search.Searcher
	dispatcher *watch.Dispatcher
	detector   *watch.Detector
	bus        *bus.Bus

	editMu       sync.Mutex
	editSessions map[string]*editSession
}

func New(cfg config.Config, dataStore dataStore, revs revisionService, searcher search.Searcher, dispatcher *watch.Dispatcher, detector *watch.Detector, eventBus *bus.Bus) *Service {
	return &Service{
		cfg:          cfg,
		store:        dataStore,
		revisions:    revs,
		searcher:     searcher,
		dispatcher:   dispatcher,
		detector:     detector,
		bus:          eventBus,
		editSessions: make(map[string]*editSession),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Searcher() search.Searcher {
	return s.searcher
}

// CreateSite registers a site and returns it with the raw API key; the
// key is bcrypt-hashed at rest and cannot be recovered later.
func (s *Service) CreateSite(ctx context.Context, name, slug string) (store.Site, string, error) {
	if name == "" || slug == "" {
		return store.Site{}, "", domainError(http.StatusBadRequest, "INVALID_SITE", "Site name and slug are required", nil)
	}
	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		return store.Site{}, "", fmt.Errorf("generate api key: %w", err)
	}
	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		return store.Site{}, "", fmt.Errorf("hash api key: %w", err)
	}
	now := time.Now().UTC()
	site := store.Site{
		ID:         util.NewID("site"),
		Name:       name,
		Slug:       slug,
		APIKeyHash: hash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.InsertSite(ctx, site); err != nil {
		return store.Site{}, "", err
	}
	return site, apiKey, nil
}

func (s *Service) CreateCollection(ctx context.Context, siteID, slug, name string) (store.Collection, error) {
	if slug == "" {
		return store.Collection{}, domainError(http.StatusBadRequest, "INVALID_COLLECTION", "Collection slug is required", nil)
	}
	if _, err := s.store.GetSite(ctx, siteID); err != nil {
		return store.Collection{}, err
	}
	now := time.Now().UTC()
	collection := store.Collection{
		ID:        util.NewID("col"),
		SiteID:    siteID,
		Slug:      slug,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertCollection(ctx, collection); err != nil {
		return store.Collection{}, err
	}
	return collection, nil
}

type CreateItemInput struct {
	Slug  string         `json:"slug"`
	Title string         `json:"title"`
	Data  map[string]any `json:"data"`
}

func (s *Service) CreateItem(ctx context.Context, siteID, collectionSlug string, input CreateItemInput) (store.ContentItem, error) {
	if input.Slug == "" {
		return store.ContentItem{}, domainError(http.StatusBadRequest, "INVALID_ITEM", "Item slug is required", nil)
	}
	collection, err := s.store.GetCollectionBySlug(ctx, siteID, collectionSlug)
	if err != nil {
		return store.ContentItem{}, err
	}
	now := time.Now().UTC()
	item := store.ContentItem{
		ID:           util.NewID("item"),
		CollectionID: collection.ID,
		SiteID:       siteID,
		Slug:         input.Slug,
		Title:        input.Title,
		Status:       string(content.StatusDraft),
		Data:         input.Data,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.InsertItem(ctx, item); err != nil {
		return store.ContentItem{}, err
	}
	return item, nil
}

func (s *Service) GetItem(ctx context.Context, itemID string) (store.ContentItem, error) {
	return s.store.GetItem(ctx, itemID)
}

func (s *Service) ListItems(ctx context.Context, siteID, collectionSlug string) ([]store.ContentItem, error) {
	collection, err := s.store.GetCollectionBySlug(ctx, siteID, collectionSlug)
	if err != nil {
		return nil, err
	}
	return s.store.ListItems(ctx, collection.ID)
}

func (s *Service) UpdateItem(ctx context.Context, itemID string, changes content.ChangeSet) (store.ContentItem, error) {
	if changes.IsZero() {
		return store.ContentItem{}, domainError(http.StatusBadRequest, "EMPTY_UPDATE", "No fields to update", nil)
	}
	if err := s.store.UpdateItem(ctx, itemID, changes); err != nil {
		return store.ContentItem{}, err
	}
	return s.store.GetItem(ctx, itemID)
}

func (s *Service) DeleteItem(ctx context.Context, itemID string) error {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteItem(ctx, itemID); err != nil {
		return err
	}
	if s.revisions != nil {
		if _, err := s.revisions.RecordDelete(item.SiteID, itemID, "system"); err != nil {
			return fmt.Errorf("record delete revision: %w", err)
		}
	}
	return nil
}

func (s *Service) SaveDraft(ctx context.Context, itemID string, changes content.ChangeSet) error {
	if changes.IsZero() {
		return domainError(http.StatusBadRequest, "EMPTY_DRAFT", "No fields to save", nil)
	}
	return s.store.SaveDraft(ctx, itemID, changes)
}

func (s *Service) DiscardDraft(ctx context.Context, itemID string) error {
	return s.store.DiscardDraft(ctx, itemID)
}

// Publish folds any stored draft plus the supplied pending changes into
// the live record, stamps it published, and commits the canonical form
// to the site's revision history.
func (s *Service) Publish(ctx context.Context, itemID string, pending content.ChangeSet, author string) (store.ContentItem, error) {
	item, err := s.store.Publish(ctx, itemID, pending)
	if err != nil {
		return store.ContentItem{}, err
	}
	if s.revisions != nil {
		if author == "" {
			author = "system"
		}
		message := fmt.Sprintf("Publish %s", item.Slug)
		if _, err := s.revisions.RecordPublish(item.SiteID, item.ID, publishPayload(item), author, message); err != nil {
			return store.ContentItem{}, fmt.Errorf("record publish revision: %w", err)
		}
	}
	return item, nil
}

func (s *Service) Unpublish(ctx context.Context, itemID string) error {
	return s.store.Unpublish(ctx, itemID)
}

func (s *Service) ItemHistory(ctx context.Context, itemID string, limit int) ([]revisions.Revision, error) {
	if s.revisions == nil {
		return nil, domainError(http.StatusNotImplemented, "HISTORY_DISABLED", "Revision history is not configured", nil)
	}
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	return s.revisions.History(item.SiteID, itemID, limit)
}

func (s *Service) ItemRevision(ctx context.Context, itemID, hash string) (map[string]any, error) {
	if s.revisions == nil {
		return nil, domainError(http.StatusNotImplemented, "HISTORY_DISABLED", "Revision history is not configured", nil)
	}
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return s.revisions.GetByHash(item.SiteID, itemID, hash)
}

// IssueSnapshotToken exchanges a site API key for a short-lived bearer
// token scoped to the snapshot endpoint.
func (s *Service) IssueSnapshotToken(ctx context.Context, siteID, apiKey string) (string, time.Time, error) {
	site, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return "", time.Time{}, err
	}
	if !auth.VerifyAPIKey(site.APIKeyHash, apiKey) {
		return "", time.Time{}, domainError(http.StatusUnauthorized, "INVALID_API_KEY", "Unknown or revoked API key", nil)
	}
	expiresAt := time.Now().Add(snapshotTokenTTL)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		SiteID: site.ID,
		Scope:  auth.ScopeSnapshot,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue snapshot token: %w", err)
	}
	return token, expiresAt, nil
}

// AuthorizeSnapshot validates a snapshot bearer token for a site.
func (s *Service) AuthorizeSnapshot(token, siteID string) error {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return err
	}
	if claims.Scope != auth.ScopeSnapshot || claims.SiteID != siteID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Token not valid for this site", nil)
	}
	return nil
}

// Snapshot serves the poll contract: the published base of every item
// in a collection, drafts excluded.
func (s *Service) Snapshot(ctx context.Context, siteID, collectionSlug string) (map[string]any, error) {
	collection, err := s.store.GetCollectionBySlug(ctx, siteID, collectionSlug)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListSnapshot(ctx, collection.ID)
	if err != nil {
		return nil, err
	}
	items := make([]watch.SnapshotItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, snapshotItemFromRow(row))
	}
	return map[string]any{
		"items":      items,
		"collection": map[string]any{"slug": collection.Slug},
	}, nil
}

// CreateEditorSession opens an editing surface over the given items,
// loading each item's base and any stored draft overlay.
func (s *Service) CreateEditorSession(ctx context.Context, itemIDs []string) (string, error) {
	if len(itemIDs) == 0 {
		return "", domainError(http.StatusBadRequest, "EMPTY_SESSION", "At least one item is required", nil)
	}

	repo := &storeRepository{store: s.store}
	sched := editor.NewScheduler(repo, s.cfg.DebounceDelay)
	session := editor.NewSession(repo, sched, editor.NewPendingChanges())

	for _, itemID := range itemIDs {
		item, err := s.loadEditableItem(ctx, itemID)
		if err != nil {
			return "", err
		}
		session.Load(item)
	}

	sessionID := util.NewID("edit")
	s.editMu.Lock()
	s.editSessions[sessionID] = &editSession{session: session, sched: sched, createdAt: time.Now()}
	s.editMu.Unlock()
	return sessionID, nil
}

func (s *Service) editorSession(sessionID string) (*editSession, error) {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	es, ok := s.editSessions[sessionID]
	if !ok {
		return nil, domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "Unknown editor session", nil)
	}
	return es, nil
}

func (s *Service) WriteField(ctx context.Context, sessionID, itemID, field string, value any) (content.Item, error) {
	es, err := s.editorSession(sessionID)
	if err != nil {
		return content.Item{}, err
	}
	if err := es.session.Write(ctx, itemID, field, value); err != nil {
		return content.Item{}, err
	}
	merged, ok := es.session.Read(itemID)
	if !ok {
		return content.Item{}, domainError(http.StatusNotFound, "ITEM_NOT_LOADED", "Item is not part of this session", nil)
	}
	return merged, nil
}

func (s *Service) ReadMerged(sessionID, itemID string) (content.Item, error) {
	es, err := s.editorSession(sessionID)
	if err != nil {
		return content.Item{}, err
	}
	merged, ok := es.session.Read(itemID)
	if !ok {
		return content.Item{}, domainError(http.StatusNotFound, "ITEM_NOT_LOADED", "Item is not part of this session", nil)
	}
	return merged, nil
}

// PendingSummary reports the per-item pending changes of one session.
func (s *Service) PendingSummary(sessionID string) (map[string]any, error) {
	es, err := s.editorSession(sessionID)
	if err != nil {
		return nil, err
	}
	pending := es.session.Pending()
	itemIDs := pending.ItemIDs()
	sort.Strings(itemIDs)

	items := make([]map[string]any, 0, len(itemIDs))
	for _, itemID := range itemIDs {
		changes, ok := pending.Get(itemID)
		if !ok {
			continue
		}
		items = append(items, map[string]any{
			"itemId":  itemID,
			"fields":  changes.Fields,
			"data":    changes.Data,
			"changed": changes.Len(),
		})
	}
	return map[string]any{
		"items":         items,
		"changedFields": pending.CountChangedFields(),
	}, nil
}

func (s *Service) RepublishItem(ctx context.Context, sessionID, itemID, author string) (content.Item, error) {
	es, err := s.editorSession(sessionID)
	if err != nil {
		return content.Item{}, err
	}
	canonical, err := es.session.Republish(ctx, itemID)
	if err != nil {
		return content.Item{}, err
	}
	if s.revisions != nil {
		if author == "" {
			author = "system"
		}
		stored, err := s.store.GetItem(ctx, itemID)
		if err != nil {
			return content.Item{}, err
		}
		message := fmt.Sprintf("Publish %s", canonical.Slug)
		if _, err := s.revisions.RecordPublish(stored.SiteID, itemID, publishPayload(stored), author, message); err != nil {
			return content.Item{}, fmt.Errorf("record publish revision: %w", err)
		}
	}
	return canonical, nil
}

func (s *Service) DiscardSessionDraft(ctx context.Context, sessionID, itemID string) error {
	es, err := s.editorSession(sessionID)
	if err != nil {
		return err
	}
	return es.session.DiscardDraft(ctx, itemID)
}

func (s *Service) CloseEditorSession(sessionID string) error {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	if _, ok := s.editSessions[sessionID]; !ok {
		return domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "Unknown editor session", nil)
	}
	delete(s.editSessions, sessionID)
	return nil
}

// AddWebhookEndpoint registers an outbound delivery target and starts
// the change detector on the first registration.
func (s *Service) AddWebhookEndpoint(url, secret string) error {
	if url == "" {
		return domainError(http.StatusBadRequest, "INVALID_ENDPOINT", "Endpoint URL is required", nil)
	}
	if secret == "" {
		secret = s.cfg.WebhookSecret
	}
	s.dispatcher.Register(WebhookSink(url, []byte(secret), nil))
	if s.detector != nil {
		s.detector.Start()
	}
	return nil
}

func (s *Service) StartWatch() {
	if s.detector != nil {
		s.detector.Start()
	}
}

func (s *Service) StopWatch() {
	if s.detector != nil {
		s.detector.Stop()
	}
}

func (s *Service) WatchStatus() map[string]any {
	status := map[string]any{
		"handlers": s.dispatcher.HandlerCount(),
	}
	if s.detector != nil {
		status["state"] = string(s.detector.State())
		status["detail"] = s.detector.Describe()
	} else {
		status["state"] = "disabled"
	}
	return status
}

// ReceiveWebhook validates an inbound change notification: signature
// first, then schema. Valid events are re-broadcast on the local bus.
func (s *Service) ReceiveWebhook(ctx context.Context, body []byte, signatureHeader string) (watch.Event, error) {
	if s.cfg.WebhookSecret == "" {
		return watch.Event{}, domainError(http.StatusServiceUnavailable, "WEBHOOKS_DISABLED", "Webhook secret is not configured", nil)
	}
	if !watch.VerifySignature([]byte(s.cfg.WebhookSecret), body, signatureHeader) {
		return watch.Event{}, domainError(http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature verification failed", nil)
	}
	evt, err := watch.ParseEvent(body)
	if err != nil {
		return watch.Event{}, domainError(http.StatusUnprocessableEntity, "INVALID_EVENT", err.Error(), nil)
	}
	if s.bus != nil {
		s.bus.Publish(ctx, body)
	}
	return evt, nil
}

func (s *Service) loadEditableItem(ctx context.Context, itemID string) (content.Item, error) {
	stored, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return content.Item{}, err
	}
	item := itemFromStore(stored)
	if stored.Status == string(content.StatusPublished) {
		draft, err := s.store.GetDraft(ctx, itemID)
		if err == nil {
			item.Draft = overlayFromDraft(draft)
		} else if err != store.ErrNotFound {
			return content.Item{}, err
		}
	}
	return item, nil
}

func publishPayload(item store.ContentItem) map[string]any {
	payload := map[string]any{
		"id":     item.ID,
		"slug":   item.Slug,
		"title":  item.Title,
		"status": item.Status,
		"data":   item.Data,
	}
	if item.PublishedAt != nil {
		payload["publishedAt"] = item.PublishedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func itemFromStore(stored store.ContentItem) content.Item {
	return content.Item{
		ID:          stored.ID,
		Slug:        stored.Slug,
		Title:       stored.Title,
		Status:      content.Status(stored.Status),
		PublishedAt: stored.PublishedAt,
		UpdatedAt:   stored.UpdatedAt,
		Data:        stored.Data,
	}
}

func overlayFromDraft(draft store.ContentDraft) *content.Overlay {
	overlay := &content.Overlay{
		Slug:      draft.Slug,
		Title:     draft.Title,
		Data:      draft.Data,
		UpdatedAt: draft.UpdatedAt,
	}
	return overlay
}

func snapshotItemFromRow(row store.SnapshotRow) watch.SnapshotItem {
	return watch.SnapshotItem{
		ID:        row.ID,
		Slug:      row.Slug,
		Status:    row.Status,
		Title:     row.Title,
		UpdatedAt: row.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Data:      row.Data,
	}
}

// storeRepository adapts the persistence store to the editing session's
// repository contract.
type storeRepository struct {
	store dataStore
}

func (r *storeRepository) UpdateItem(ctx context.Context, itemID string, changes content.ChangeSet) error {
	return r.store.UpdateItem(ctx, itemID, changes)
}

func (r *storeRepository) SaveDraft(ctx context.Context, itemID string, changes content.ChangeSet) error {
	return r.store.SaveDraft(ctx, itemID, changes)
}

func (r *storeRepository) DiscardDraft(ctx context.Context, itemID string) error {
	return r.store.DiscardDraft(ctx, itemID)
}

func (r *storeRepository) Publish(ctx context.Context, itemID string, pending content.ChangeSet) (content.Item, error) {
	stored, err := r.store.Publish(ctx, itemID, pending)
	if err != nil {
		return content.Item{}, err
	}
	return itemFromStore(stored), nil
}

func (r *storeRepository) Unpublish(ctx context.Context, itemID string) error {
	return r.store.Unpublish(ctx, itemID)
}
