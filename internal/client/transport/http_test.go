package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikenoired/synapse-sub000/internal/common"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

func TestPush_SendsUserHeaderAndDecodesResponse(t *testing.T) {
	var gotPath, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser = r.Header.Get(common.UserIDHeaderName)

		var req syncmodel.PushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Operations, 1)

		json.NewEncoder(w).Encode(&syncmodel.PushResponse{Success: true, Synced: 1})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "u1")
	resp, err := c.Push(context.Background(), &syncmodel.PushRequest{
		Operations: []*syncmodel.Operation{{
			ID: "op1", EntityType: syncmodel.EntityContent, EntityID: "c1",
			Operation: syncmodel.OpCreate, Version: 1, Timestamp: 1, UserID: "u1",
		}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Synced)
	assert.Equal(t, "/api/sync/push", gotPath)
	assert.Equal(t, "u1", gotUser)
}

func TestPull_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sync/pull", r.URL.Path)

		var req syncmodel.PullRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(3), req.Since["content:a"])

		json.NewEncoder(w).Encode(&syncmodel.PullResponse{
			Changes: []*syncmodel.Change{{
				EntityType: syncmodel.EntityContent, EntityID: "a",
				Operation: syncmodel.OpUpdate, Version: 4,
			}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "u1")
	resp, err := c.Pull(context.Background(), &syncmodel.PullRequest{
		UserID: "u1",
		Since:  map[string]int64{"content:a": 3},
	})
	require.NoError(t, err)
	require.Len(t, resp.Changes, 1)
	assert.Equal(t, int64(4), resp.Changes[0].Version)
}

func TestPost_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, common.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, common.ErrUnauthorized},
		{"server error", http.StatusInternalServerError, common.ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, common.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL, "u1")
			_, err := c.Push(context.Background(), &syncmodel.PushRequest{})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPost_BadRequestIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "u1")
	_, err := c.Push(context.Background(), &syncmodel.PushRequest{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrUnavailable)
	assert.NotErrorIs(t, err, common.ErrUnauthorized)
}

func TestPost_ConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewHTTPClient(srv.URL, "u1")
	_, err := c.Push(context.Background(), &syncmodel.PushRequest{})
	require.ErrorIs(t, err, common.ErrUnavailable)
}

func TestBootstrap_DecodesData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sync/initial", r.URL.Path)
		json.NewEncoder(w).Encode(&syncmodel.BootstrapResponse{
			Data: syncmodel.BootstrapData{
				Tags: []*syncmodel.Tag{{ID: "t1", Title: "golang", UserID: "u1"}},
			},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "u1")
	resp, err := c.Bootstrap(context.Background(), &syncmodel.BootstrapRequest{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, resp.Data.Tags, 1)
	assert.Equal(t, "golang", resp.Data.Tags[0].Title)
}
