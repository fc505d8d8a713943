package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/content"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		if searcher := s.service.Searcher(); searcher != nil {
			searchStatus := "ok"
			if !searcher.Healthy() {
				searchStatus = "degraded"
			}
			checks["search"] = map[string]any{"status": searchStatus}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/webhooks/inbound" {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Unreadable request body", nil)
			return
		}
		evt, err := s.service.ReceiveWebhook(r.Context(), body, r.Header.Get("X-Inkwell-Signature"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"received": true, "event": evt.Event})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "sites":
		s.handleSites(w, r, parts)
		return
	case "items":
		s.handleItems(w, r, parts)
		return
	case "editor":
		s.handleEditor(w, r, parts)
		return
	case "watch":
		s.handleWatch(w, r, parts)
		return
	case "search":
		s.handleSearch(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSites(w http.ResponseWriter, r *http.Request, parts []string) {
	// POST /api/sites
	if r.Method == http.MethodPost && len(parts) == 2 {
		var body struct {
			Name string `json:"name"`
			Slug string `json:"slug"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		site, apiKey, err := s.service.CreateSite(r.Context(), body.Name, body.Slug)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":     site.ID,
			"name":   site.Name,
			"slug":   site.Slug,
			"apiKey": apiKey,
		})
		return
	}

	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	siteID := parts[2]

	// POST /api/sites/{siteID}/token
	if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "token" {
		var body struct {
			APIKey string `json:"apiKey"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		token, expiresAt, err := s.service.IssueSnapshotToken(r.Context(), siteID, body.APIKey)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     token,
			"expiresAt": expiresAt.UTC().Format(time.RFC3339),
		})
		return
	}

	// POST /api/sites/{siteID}/collections
	if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "collections" {
		var body struct {
			Slug string `json:"slug"`
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		collection, err := s.service.CreateCollection(r.Context(), siteID, body.Slug, body.Name)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, collectionPayload(collection))
		return
	}

	if len(parts) >= 5 && parts[3] == "collections" {
		collectionSlug := parts[4]

		// GET /api/sites/{siteID}/collections/{slug}/snapshot
		if r.Method == http.MethodGet && len(parts) == 6 && parts[5] == "snapshot" {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			if err := s.service.AuthorizeSnapshot(token, siteID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			payload, err := s.service.Snapshot(r.Context(), siteID, collectionSlug)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}

		// GET /api/sites/{siteID}/collections/{slug}/items
		if r.Method == http.MethodGet && len(parts) == 6 && parts[5] == "items" {
			items, err := s.service.ListItems(r.Context(), siteID, collectionSlug)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			payload := make([]map[string]any, 0, len(items))
			for _, item := range items {
				payload = append(payload, itemPayload(item))
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": payload})
			return
		}

		// POST /api/sites/{siteID}/collections/{slug}/items
		if r.Method == http.MethodPost && len(parts) == 6 && parts[5] == "items" {
			var body CreateItemInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.CreateItem(r.Context(), siteID, collectionSlug, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, itemPayload(item))
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleItems(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	itemID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			item, err := s.service.GetItem(r.Context(), itemID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, itemPayload(item))
			return
		case http.MethodPatch:
			changes, err := decodeChanges(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.UpdateItem(r.Context(), itemID, changes)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, itemPayload(item))
			return
		case http.MethodDelete:
			if err := s.service.DeleteItem(r.Context(), itemID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
			return
		}
	}

	if len(parts) == 4 {
		switch {
		case parts[3] == "draft" && (r.Method == http.MethodPost || r.Method == http.MethodPut):
			changes, err := decodeChanges(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.SaveDraft(r.Context(), itemID, changes); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"saved": true})
			return
		case parts[3] == "draft" && r.Method == http.MethodDelete:
			if err := s.service.DiscardDraft(r.Context(), itemID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"discarded": true})
			return
		case parts[3] == "publish" && r.Method == http.MethodPost:
			var body struct {
				Author  string         `json:"author"`
				Changes map[string]any `json:"changes"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			changes := changeSetFromMap(body.Changes)
			item, err := s.service.Publish(r.Context(), itemID, changes, body.Author)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, itemPayload(item))
			return
		case parts[3] == "unpublish" && r.Method == http.MethodPost:
			if err := s.service.Unpublish(r.Context(), itemID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"unpublished": true})
			return
		case parts[3] == "history" && r.Method == http.MethodGet:
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			history, err := s.service.ItemHistory(r.Context(), itemID, limit)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"revisions": history})
			return
		}
	}

	// GET /api/items/{id}/history/{hash}
	if r.Method == http.MethodGet && len(parts) == 5 && parts[3] == "history" {
		payload, err := s.service.ItemRevision(r.Context(), itemID, parts[4])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleEditor(w http.ResponseWriter, r *http.Request, parts []string) {
	// POST /api/editor/sessions
	if r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "sessions" {
		var body struct {
			ItemIDs []string `json:"itemIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sessionID, err := s.service.CreateEditorSession(r.Context(), body.ItemIDs)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"sessionId": sessionID})
		return
	}

	if len(parts) < 4 || parts[2] != "sessions" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	sessionID := parts[3]

	if r.Method == http.MethodDelete && len(parts) == 4 {
		if err := s.service.CloseEditorSession(sessionID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"closed": true})
		return
	}

	if len(parts) != 5 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case r.Method == http.MethodPost && parts[4] == "write":
		var body struct {
			ItemID string `json:"itemId"`
			Field  string `json:"field"`
			Value  any    `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		merged, err := s.service.WriteField(r.Context(), sessionID, body.ItemID, body.Field, body.Value)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": merged})
		return
	case r.Method == http.MethodGet && parts[4] == "pending":
		payload, err := s.service.PendingSummary(sessionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	case r.Method == http.MethodPost && parts[4] == "republish":
		var body struct {
			ItemID string `json:"itemId"`
			Author string `json:"author"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.RepublishItem(r.Context(), sessionID, body.ItemID, body.Author)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
		return
	case r.Method == http.MethodPost && parts[4] == "discard":
		var body struct {
			ItemID string `json:"itemId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.DiscardSessionDraft(r.Context(), sessionID, body.ItemID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"discarded": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleWatch(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case r.Method == http.MethodPost && parts[2] == "start":
		s.service.StartWatch()
		writeJSON(w, http.StatusOK, s.service.WatchStatus())
		return
	case r.Method == http.MethodPost && parts[2] == "stop":
		s.service.StopWatch()
		writeJSON(w, http.StatusOK, s.service.WatchStatus())
		return
	case r.Method == http.MethodGet && parts[2] == "status":
		writeJSON(w, http.StatusOK, s.service.WatchStatus())
		return
	case r.Method == http.MethodPost && parts[2] == "endpoints":
		var body struct {
			URL    string `json:"url"`
			Secret string `json:"secret"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.AddWebhookEndpoint(body.URL, body.Secret); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, s.service.WatchStatus())
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	searcher := s.service.Searcher()
	if searcher == nil {
		writeError(w, http.StatusNotImplemented, "SEARCH_DISABLED", "Search is not configured", nil)
		return
	}

	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	results, total, err := searcher.Search(search.Query{
		Text:             query.Get("q"),
		FilterSiteID:     query.Get("site"),
		FilterCollection: query.Get("collection"),
		Limit:            limit,
		Offset:           offset,
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search backend unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, search.Response{Results: results, Total: total, Query: query.Get("q")})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Inkwell-Signature")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeChanges(r *http.Request) (content.ChangeSet, error) {
	var body struct {
		Changes map[string]any `json:"changes"`
	}
	if err := decodeBody(r, &body); err != nil {
		return content.ChangeSet{}, err
	}
	return changeSetFromMap(body.Changes), nil
}

func changeSetFromMap(changes map[string]any) content.ChangeSet {
	var cs content.ChangeSet
	for field, value := range changes {
		cs.Set(field, value)
	}
	return cs
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func itemPayload(item store.ContentItem) map[string]any {
	payload := map[string]any{
		"id":           item.ID,
		"collectionId": item.CollectionID,
		"siteId":       item.SiteID,
		"slug":         item.Slug,
		"title":        item.Title,
		"status":       item.Status,
		"data":         item.Data,
		"updatedAt":    item.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if item.PublishedAt != nil {
		payload["publishedAt"] = item.PublishedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func collectionPayload(collection store.Collection) map[string]any {
	return map[string]any{
		"id":     collection.ID,
		"siteId": collection.SiteID,
		"slug":   collection.Slug,
		"name":   collection.Name,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
