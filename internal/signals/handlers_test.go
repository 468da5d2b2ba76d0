package signals

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/blocklist"
)

func setupRouter(store Store, blocks blocklist.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := NewService(store, blocks, nil, 2*time.Second, logger)
	handler := NewHandler(service)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)
	handler.RegisterAdminRoutes(v1.Group("/admin"))
	return r
}

func postSignals(r *gin.Engine, body any, ip string) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/v1/signals", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if ip != "" {
		req.Header.Set("x-forwarded-for", ip)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIngestEndpoint_Success(t *testing.T) {
	r := setupRouter(NewMemoryStore(), blocklist.NewMemoryStore())

	w := postSignals(r, map[string]any{
		"sessionId": "s1",
		"fingerprint": map[string]any{
			"hash":    "abc123",
			"signals": map[string]string{"timezone": "Europe/Berlin"},
		},
	}, "203.0.113.5")

	require.Equal(t, http.StatusOK, w.Code)

	var result IngestResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "s1", result.SessionID)
	assert.False(t, result.BanEvasionDetected)
}

func TestIngestEndpoint_ValidationError(t *testing.T) {
	r := setupRouter(NewMemoryStore(), blocklist.NewMemoryStore())

	w := postSignals(r, map[string]any{"sessionId": "s1"}, "203.0.113.5")

	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body["error"])
}

func TestIngestEndpoint_MalformedJSON(t *testing.T) {
	r := setupRouter(NewMemoryStore(), blocklist.NewMemoryStore())

	req := httptest.NewRequest(http.MethodPost, "/v1/signals", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestEndpoint_StorageError(t *testing.T) {
	r := setupRouter(&brokenWriteStore{}, blocklist.NewMemoryStore())

	w := postSignals(r, map[string]any{
		"sessionId":   "s1",
		"fingerprint": map[string]any{"hash": "abc123"},
	}, "203.0.113.5")

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "storage_error", body["error"])
}

func TestIngestEndpoint_BanEvasionFlag(t *testing.T) {
	store := NewMemoryStore()
	blocks := blocklist.NewMemoryStore()
	r := setupRouter(store, blocks)

	w := postSignals(r, map[string]any{
		"sessionId":   "s1",
		"fingerprint": map[string]any{"hash": "abc123"},
	}, "203.0.113.5")
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, blocks.Put(context.Background(), &blocklist.BlockRecord{
		SubjectKey:  "203.0.113.5",
		Reason:      "fraud",
		IsPermanent: true,
	}))

	w = postSignals(r, map[string]any{
		"sessionId":   "s2",
		"fingerprint": map[string]any{"hash": "abc123"},
	}, "198.51.100.7")
	require.Equal(t, http.StatusOK, w.Code, "detection must not fail the call")

	var result IngestResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.BanEvasionDetected)
}

func TestDeviceHistoryEndpoint(t *testing.T) {
	hash := strings.Repeat("ab", 32)
	store := NewMemoryStore()
	r := setupRouter(store, blocklist.NewMemoryStore())

	for _, session := range []string{"s1", "s2"} {
		w := postSignals(r, map[string]any{
			"sessionId":   session,
			"fingerprint": map[string]any{"hash": hash},
		}, "203.0.113.5")
		require.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/signals/devices/"+hash, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		DeviceHash string               `json:"device_hash"`
		Signals    []*FingerprintRecord `json:"signals"`
		Count      int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, hash, body.DeviceHash)
	assert.Equal(t, 2, body.Count)
}

func TestDeviceHistoryEndpoint_RejectsMalformedHash(t *testing.T) {
	r := setupRouter(NewMemoryStore(), blocklist.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/signals/devices/abc123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
