package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryhq/quarry/pkg/storage"
)

func seedDeliveryFixtures(storage *mockStorage) {
	storage.contentTypes["ct-blog"] = &ContentType{ID: "ct-blog", APIID: "blog_post", Name: "Blog", OwnerEmail: "owner@example.com"}
	storage.entries["e-pub"] = &Entry{ID: "e-pub", ContentTypeID: "ct-blog", Status: StatusPublished}
	storage.entries["e-draft"] = &Entry{ID: "e-draft", ContentTypeID: "ct-blog", Status: StatusDraft}
	storage.apiKeys[1] = &APIKey{
		ID:            1,
		Name:          "web",
		SpaceID:       "space1",
		DeliveryToken: "dlv-token",
		PreviewToken:  "pre-token",
	}
	storage.apiKeys[2] = &APIKey{
		ID:            2,
		Name:          "anywhere",
		DeliveryToken: "dlv-unscoped",
		PreviewToken:  "pre-unscoped",
	}
}

func decodeEntries(t *testing.T, w *httptest.ResponseRecorder) []*Entry {
	t.Helper()
	var entries []*Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	return entries
}

// TestDelivery_MissingToken rejects unauthenticated reads
func TestDelivery_MissingToken(t *testing.T) {
	storage := newMockStorage()
	seedDeliveryFixtures(storage)
	server := newTestServer(storage)

	req := httptest.NewRequest("GET", "/delivery/space1/entries", nil)
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestDelivery_InvalidToken rejects unknown credentials
func TestDelivery_InvalidToken(t *testing.T) {
	storage := newMockStorage()
	seedDeliveryFixtures(storage)
	server := newTestServer(storage)

	req := httptest.NewRequest("GET", "/delivery/space1/entries", nil)
	req.Header.Set("X-Delivery-Token", "wrong")
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestDelivery_PublishedOnly hides drafts from the delivery surface
func TestDelivery_PublishedOnly(t *testing.T) {
	storage := newMockStorage()
	seedDeliveryFixtures(storage)
	server := newTestServer(storage)

	req := httptest.NewRequest("GET", "/delivery/space1/entries", nil)
	req.Header.Set("X-Delivery-Token", "dlv-token")
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	entries := decodeEntries(t, w)
	require.Len(t, entries, 1)
	assert.Equal(t, "e-pub", entries[0].ID)
}

// TestPreview_SeesAllStatuses exposes drafts on the preview surface
func TestPreview_SeesAllStatuses(t *testing.T) {
	storage := newMockStorage()
	seedDeliveryFixtures(storage)
	server := newTestServer(storage)

	req := httptest.NewRequest("GET", "/preview/space1/entries", nil)
	req.Header.Set("X-Preview-Token", "pre-token")
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeEntries(t, w), 2)
}

// TestDelivery_PreviewTokenRejected keeps the two credentials distinct
func TestDelivery_PreviewTokenRejected(t *testing.T) {
	storage := newMockStorage()
	seedDeliveryFixtures(storage)
	server := newTestServer(storage)

	req := httptest.NewRequest("GET", "/delivery/space1/entries", nil)
	req.Header.Set("X-Delivery-Token", "pre-token")
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestDelivery_SpaceMismatch rejects a scoped key used in another space
func TestDelivery_SpaceMismatch(t *testing.T) {
	storage := newMockStorage()
	seedDeliveryFixtures(storage)
	server := newTestServer(storage)

	req := httptest.NewRequest("GET", "/delivery/other-space/entries", nil)
	req.Header.Set("X-Delivery-Token", "dlv-token")
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

// TestDelivery_UnscopedKeyAnySpace lets a space-less key read anywhere
func TestDelivery_UnscopedKeyAnySpace(t *testing.T) {
	storage := newMockStorage()
	seedDeliveryFixtures(storage)
	server := newTestServer(storage)

	req := httptest.NewRequest("GET", "/delivery/any-space-at-all/entries", nil)
	req.Header.Set("X-Delivery-Token", "dlv-unscoped")
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// TestDelivery_BearerFallback accepts the token in the Authorization header
func TestDelivery_BearerFallback(t *testing.T) {
	storage := newMockStorage()
	seedDeliveryFixtures(storage)
	server := newTestServer(storage)

	req := httptest.NewRequest("GET", "/delivery/space1/entries", nil)
	req.Header.Set("Authorization", "Bearer dlv-token")
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// TestDelivery_FilterByAPIID accepts an api_id where an id is expected
func TestDelivery_FilterByAPIID(t *testing.T) {
	storage := newMockStorage()
	seedDeliveryFixtures(storage)
	server := newTestServer(storage)

	req := httptest.NewRequest("GET", "/delivery/space1/entries?content_type_id=blog_post", nil)
	req.Header.Set("X-Delivery-Token", "dlv-token")
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	entries := decodeEntries(t, w)
	require.Len(t, entries, 1)
	assert.Equal(t, "e-pub", entries[0].ID)
}

// TestDelivery_UnknownFilterEmptyList returns an empty list, not a 404
func TestDelivery_UnknownFilterEmptyList(t *testing.T) {
	storage := newMockStorage()
	seedDeliveryFixtures(storage)
	server := newTestServer(storage)

	req := httptest.NewRequest("GET", "/delivery/space1/entries?content_type_id=no_such_type", nil)
	req.Header.Set("X-Delivery-Token", "dlv-token")
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeEntries(t, w), 0)
}

// TestDelivery_ContentTypes serves every type on both surfaces
func TestDelivery_ContentTypes(t *testing.T) {
	storage := newMockStorage()
	seedDeliveryFixtures(storage)
	server := newTestServer(storage)

	req := httptest.NewRequest("GET", "/delivery/space1/content_types", nil)
	req.Header.Set("X-Delivery-Token", "dlv-token")
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var types []*ContentType
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &types))
	require.Len(t, types, 1)
	assert.Equal(t, "blog_post", types[0].APIID)
}

// TestDelivery_CachedResponse serves a second read from the cache and drops
// it after a content write
func TestDelivery_CachedResponse(t *testing.T) {
	mock := newMockStorage()
	seedDeliveryFixtures(mock)

	cache, err := storage.NewTieredCache(16, time.Minute, nil)
	require.NoError(t, err)
	defer cache.Close()

	server := newTestServer(mock)
	server.cache = cache

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/delivery/space1/entries", nil)
		req.Header.Set("X-Delivery-Token", "dlv-token")
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		return w
	}

	w := get()
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeEntries(t, w), 1)

	// Mutate storage behind the cache; the stale payload is still served
	mock.entries["e-pub-2"] = &Entry{ID: "e-pub-2", ContentTypeID: "ct-blog", Status: StatusPublished}
	w = get()
	assert.Len(t, decodeEntries(t, w), 1)

	// A write through the management surface invalidates it
	body := jsonBody(t, map[string]interface{}{
		"id":              "e-new",
		"content_type_id": "ct-blog",
		"fields":          map[string]interface{}{},
	})
	createReq := authed(httptest.NewRequest("POST", "/entries", body), employeeIdentity)
	createW := httptest.NewRecorder()
	server.createEntry(createW, createReq)
	require.Equal(t, http.StatusCreated, createW.Code)

	w = get()
	assert.Len(t, decodeEntries(t, w), 3)
}
