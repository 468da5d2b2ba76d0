package blocklist

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(store, nil, 2*time.Second, logger)
	handler := NewHandler(engine, store)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)
	handler.RegisterAdminRoutes(v1.Group("/admin"))
	return r
}

func TestCheckAccess_Allowed(t *testing.T) {
	r := setupRouter(NewMemoryStore())

	req := httptest.NewRequest(http.MethodPost, "/v1/enforcement/check", nil)
	req.Header.Set("x-forwarded-for", "203.0.113.5")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var verdict Verdict
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verdict))
	assert.False(t, verdict.Blocked)
}

func TestCheckAccess_BlockedReturns200(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), &BlockRecord{
		SubjectKey:  "203.0.113.5",
		Reason:      "fraud",
		IsPermanent: true,
	}))
	r := setupRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/v1/enforcement/check", nil)
	req.Header.Set("x-forwarded-for", "203.0.113.5, 10.0.0.1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, "blocking is a decision, not an HTTP error")

	var verdict Verdict
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verdict))
	assert.True(t, verdict.Blocked)
	assert.Equal(t, ScopeIP, verdict.BlockType)
	assert.True(t, verdict.IsPermanent)
}

func TestCheckAccess_StoreErrorReturns500(t *testing.T) {
	r := setupRouter(&failingStore{err: assert.AnError})

	req := httptest.NewRequest(http.MethodPost, "/v1/enforcement/check", nil)
	req.Header.Set("x-real-ip", "203.0.113.5")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "storage_error", body["error"])
}

func TestClientAddr(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "forwarded chain prefers left-most",
			headers: map[string]string{"x-forwarded-for": "203.0.113.5, 10.0.0.1, 10.0.0.2"},
			want:    "203.0.113.5",
		},
		{
			name:    "falls back to real-ip",
			headers: map[string]string{"x-real-ip": "198.51.100.7"},
			want:    "198.51.100.7",
		},
		{
			name: "forwarded wins over real-ip",
			headers: map[string]string{
				"x-forwarded-for": "203.0.113.5",
				"x-real-ip":       "198.51.100.7",
			},
			want: "203.0.113.5",
		},
		{
			name:    "no headers yields unknown",
			headers: map[string]string{},
			want:    "unknown",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
			for k, v := range tc.headers {
				c.Request.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, ClientAddr(c))
		})
	}
}

func TestCreateBlock_Validation(t *testing.T) {
	r := setupRouter(NewMemoryStore())

	// Missing both ip and countryCode.
	body, _ := json.Marshal(map[string]any{"reason": "spam", "durationHours": 4})
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/blocks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Temporary block without a duration.
	body, _ = json.Marshal(map[string]any{"ip": "203.0.113.5", "reason": "spam"})
	req = httptest.NewRequest(http.MethodPost, "/v1/admin/blocks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBlockAdminLifecycle(t *testing.T) {
	store := NewMemoryStore()
	r := setupRouter(store)

	// Create a country block.
	body, _ := json.Marshal(map[string]any{
		"countryCode": "xx", "reason": "sanctions", "durationHours": 48,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/blocks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	// The stored key is the uppercased synthetic country key.
	record, err := store.Get(context.Background(), "COUNTRY_BLOCK_XX")
	require.NoError(t, err)
	assert.Equal(t, "sanctions", record.Reason)
	require.NotNil(t, record.ExpiresAt)

	// Fetch through the API.
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/blocks/COUNTRY_BLOCK_XX", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// List.
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/blocks", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// Delete, then a second delete is still a success (idempotent).
	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodDelete, "/v1/admin/blocks/COUNTRY_BLOCK_XX", nil)
		w = httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/admin/blocks/COUNTRY_BLOCK_XX", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
