package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"inkwell/api/internal/watch"
)

func TestHealthEndpoint(t *testing.T) {
	fs := newFakeStore()
	server := NewHTTPServer(newTestService(fs), "*")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestSnapshotEndpointRequiresToken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := httptest.NewRequest(http.MethodGet, "/api/sites/site_1/collections/posts/snapshot", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestSnapshotEndpointWithToken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	ctx := context.Background()

	site, apiKey, err := svc.CreateSite(ctx, "Demo", "demo")
	if err != nil {
		t.Fatalf("CreateSite() error = %v", err)
	}
	collection, err := svc.CreateCollection(ctx, site.ID, "posts", "Posts")
	if err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	item := seedPublishedItem(fs, "item_1")
	item.SiteID = site.ID
	item.CollectionID = collection.ID
	fs.items["item_1"] = item

	token, _, err := svc.IssueSnapshotToken(ctx, site.ID, apiKey)
	if err != nil {
		t.Fatalf("IssueSnapshotToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sites/"+site.ID+"/collections/posts/snapshot", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response struct {
		Items []watch.SnapshotItem `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response.Items) != 1 || response.Items[0].ID != "item_1" {
		t.Fatalf("unexpected snapshot items %+v", response.Items)
	}
}

func TestInboundWebhookEndpoint(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	evt := watch.Event{
		Event:      watch.EventPublished,
		SiteID:     "site_1",
		Collection: "posts",
		Slug:       "hello-world",
		ItemID:     "item_1",
		Timestamp:  time.Now().UTC(),
	}
	body, _ := json.Marshal(evt)

	// Missing signature
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/inbound", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing signature, got %d", rr.Code)
	}

	// Valid signature
	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/inbound", bytes.NewReader(body))
	req.Header.Set("X-Inkwell-Signature", watch.SignPayload([]byte("hook-secret"), body))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	// Valid signature, invalid schema
	bad := []byte(`{"event":"content.updated","collection":"posts"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/inbound", bytes.NewReader(bad))
	req.Header.Set("X-Inkwell-Signature", watch.SignPayload([]byte("hook-secret"), bad))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for invalid schema, got %d", rr.Code)
	}
}

func TestWatchStatusEndpoint(t *testing.T) {
	fs := newFakeStore()
	server := NewHTTPServer(newTestService(fs), "*")

	req := httptest.NewRequest(http.MethodGet, "/api/watch/status", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["state"] != "disabled" {
		t.Fatalf("expected disabled state without detector, got %v", response["state"])
	}
}

func TestWebhookSinkSignsDeliveries(t *testing.T) {
	secret := []byte("endpoint-secret")
	var gotSignature string
	var gotBody []byte
	consumer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Inkwell-Signature")
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		gotBody = buf.Bytes()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer consumer.Close()

	sink := WebhookSink(consumer.URL, secret, consumer.Client())
	evt := watch.Event{
		Event:      watch.EventCreated,
		SiteID:     "site_1",
		Collection: "posts",
		Slug:       "fresh",
		ItemID:     "item_9",
		Timestamp:  time.Now().UTC(),
	}
	if err := sink(context.Background(), evt); err != nil {
		t.Fatalf("sink() error = %v", err)
	}
	if !watch.VerifySignature(secret, gotBody, gotSignature) {
		t.Fatal("delivered signature did not verify against body")
	}
	parsed, err := watch.ParseEvent(gotBody)
	if err != nil {
		t.Fatalf("delivered body failed to parse: %v", err)
	}
	if parsed.ItemID != "item_9" {
		t.Fatalf("unexpected delivered event %+v", parsed)
	}
}

func TestWebhookSinkRejectsServerError(t *testing.T) {
	consumer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer consumer.Close()

	sink := WebhookSink(consumer.URL, []byte("s"), consumer.Client())
	evt := watch.Event{
		Event:      watch.EventDeleted,
		SiteID:     "site_1",
		Collection: "posts",
		ItemID:     "item_1",
		Timestamp:  time.Now().UTC(),
	}
	if err := sink(context.Background(), evt); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
