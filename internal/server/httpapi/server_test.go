package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikenoired/synapse-sub000/internal/common"
	"github.com/mikenoired/synapse-sub000/internal/logging"
	"github.com/mikenoired/synapse-sub000/internal/server/services"
	"github.com/mikenoired/synapse-sub000/internal/server/storage"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestServer() http.Handler {
	svc := services.NewSync(storage.NewMemoryStore(), testLogger())
	return NewServer(":0", svc, nil, testLogger()).Handler()
}

func doJSON(t *testing.T, h http.Handler, path, userID string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(common.UserIDHeaderName, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPush_MissingUserHeader(t *testing.T) {
	h := newTestServer()
	rec := doJSON(t, h, "/api/sync/push", "", &syncmodel.PushRequest{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPush_InvalidPayload(t *testing.T) {
	h := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/sync/push", bytes.NewReader([]byte("{not json")))
	req.Header.Set(common.UserIDHeaderName, "u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushPullBootstrap_RoundTrip(t *testing.T) {
	h := newTestServer()

	rec := doJSON(t, h, "/api/sync/push", "u1", &syncmodel.PushRequest{
		Operations: []*syncmodel.Operation{{
			EntityType: syncmodel.EntityTag, EntityID: "t1",
			Operation: syncmodel.OpCreate,
			Data:      []byte(`{"id":"t1","title":"golang","user_id":"u1"}`),
			Version:   1, Timestamp: 10, UserID: "u1",
		}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var pushResp syncmodel.PushResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pushResp))
	assert.True(t, pushResp.Success)
	assert.Equal(t, 1, pushResp.Synced)

	rec = doJSON(t, h, "/api/sync/pull", "u1", &syncmodel.PullRequest{UserID: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var pullResp syncmodel.PullResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pullResp))
	require.Len(t, pullResp.Changes, 1)
	assert.Equal(t, "t1", pullResp.Changes[0].EntityID)

	rec = doJSON(t, h, "/api/sync/initial", "u1", &syncmodel.BootstrapRequest{UserID: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var bootResp syncmodel.BootstrapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bootResp))
	require.Len(t, bootResp.Data.Tags, 1)
	assert.Equal(t, "golang", bootResp.Data.Tags[0].Title)
}

func TestPush_ConflictSurfacesInResponse(t *testing.T) {
	h := newTestServer()

	rec := doJSON(t, h, "/api/sync/push", "u1", &syncmodel.PushRequest{
		Operations: []*syncmodel.Operation{{
			EntityType: syncmodel.EntityContent, EntityID: "c1",
			Operation: syncmodel.OpCreate,
			Data:      []byte(`{"id":"c1","content":"first"}`), Version: 2, Timestamp: 10,
		}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// stale second writer
	rec = doJSON(t, h, "/api/sync/push", "u1", &syncmodel.PushRequest{
		Operations: []*syncmodel.Operation{{
			EntityType: syncmodel.EntityContent, EntityID: "c1",
			Operation: syncmodel.OpUpdate,
			Data:      []byte(`{"id":"c1","content":"stale"}`), Version: 1, Timestamp: 11,
		}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp syncmodel.PushResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, int64(2), resp.Conflicts[0].ServerVersion)
	assert.JSONEq(t, `{"id":"c1","content":"first"}`, string(resp.Conflicts[0].ServerData))
}

func TestUsersAreIsolated(t *testing.T) {
	h := newTestServer()

	rec := doJSON(t, h, "/api/sync/push", "u1", &syncmodel.PushRequest{
		Operations: []*syncmodel.Operation{{
			EntityType: syncmodel.EntityTag, EntityID: "t1",
			Operation: syncmodel.OpCreate, Data: []byte(`{"id":"t1"}`), Version: 1, Timestamp: 1,
		}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "/api/sync/pull", "u2", &syncmodel.PullRequest{UserID: "u2"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp syncmodel.PullResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Changes)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	h := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/sync/push", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
