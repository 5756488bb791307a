package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/config"
	"github.com/mattjoyce/herald/internal/engine"
	"github.com/mattjoyce/herald/internal/profile"
	"github.com/mattjoyce/herald/internal/queue"
	"github.com/mattjoyce/herald/internal/rule"
)

const testKey = "test-key"

func newTestServer(t *testing.T) (*Server, *engine.Engine, *queue.Memory) {
	t.Helper()

	store := queue.NewMemory()
	eng := engine.New(engine.Options{Store: store})
	srv := NewServer(config.APIConfig{
		Enabled: true,
		Listen:  "127.0.0.1:0",
		Auth:    config.APIAuthConfig{APIKey: testKey},
	}, eng)
	return srv, eng, store
}

func doRequest(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthzNoAuth(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/v1/queue/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/v1/queue/stats", "wrong-key", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQueueStatsEndpoint(t *testing.T) {
	t.Parallel()
	srv, _, store := newTestServer(t)

	now := time.Now().UTC()
	require.NoError(t, store.Enqueue(t.Context(), queue.Item{
		ID: "a", UserID: "u1", TemplateID: "t1", ReadyAt: now,
		Priority: queue.PriorityNormal, Status: queue.StatusPending, CreatedAt: now,
	}))

	rec := doRequest(t, srv, http.MethodGet, "/v1/queue/stats", testKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats queue.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, queue.Stats{Total: 1, Pending: 1}, stats)
}

func TestRulesEndpoints(t *testing.T) {
	t.Parallel()
	srv, eng, _ := newTestServer(t)

	require.NoError(t, eng.RegisterRule(rule.Rule{
		ID:      "r1",
		Trigger: rule.TriggerSignup,
		Active:  true,
		Actions: []rule.Action{
			{Kind: rule.ActionSendMessage, Params: map[string]any{"template": "t"}},
		},
	}))

	rec := doRequest(t, srv, http.MethodGet, "/v1/rules", testKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Rules []struct {
			ID          string `json:"id"`
			Active      bool   `json:"active"`
			Fingerprint string `json:"fingerprint"`
		} `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Rules, 1)
	assert.Equal(t, "r1", listing.Rules[0].ID)
	assert.NotEmpty(t, listing.Rules[0].Fingerprint)

	rec = doRequest(t, srv, http.MethodPut, "/v1/rules/r1/active", testKey, map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)

	rules := eng.Rules()
	require.Len(t, rules, 1)
	assert.False(t, rules[0].Active)

	rec = doRequest(t, srv, http.MethodPut, "/v1/rules/ghost/active", testKey, map[string]bool{"active": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitEventEndpoint(t *testing.T) {
	t.Parallel()
	srv, eng, store := newTestServer(t)

	require.NoError(t, eng.RegisterRule(rule.Rule{
		ID:      "r1",
		Trigger: rule.TriggerSignup,
		Active:  true,
		Actions: []rule.Action{
			{Kind: rule.ActionSendMessage, Params: map[string]any{"template": "t"}},
		},
	}))
	eng.UpsertProfile(profile.Profile{ID: "u1", Email: "u1@example.com"})

	rec := doRequest(t, srv, http.MethodPost, "/v1/events", testKey, map[string]any{
		"trigger": "signup",
		"user_id": "u1",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	items, err := store.Ready(t.Context(), time.Now().UTC().Add(time.Hour), 3, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	// Scheduled triggers are cadence-driven, not event-driven.
	rec = doRequest(t, srv, http.MethodPost, "/v1/events", testKey, map[string]any{
		"trigger": "scheduled",
		"user_id": "u1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelItemEndpoint(t *testing.T) {
	t.Parallel()
	srv, _, store := newTestServer(t)

	now := time.Now().UTC()
	require.NoError(t, store.Enqueue(t.Context(), queue.Item{
		ID: "a", UserID: "u1", TemplateID: "t1", ReadyAt: now.Add(time.Hour),
		Priority: queue.PriorityNormal, Status: queue.StatusPending, CreatedAt: now,
	}))

	rec := doRequest(t, srv, http.MethodDelete, "/v1/queue/items/a", testKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := store.Get(t.Context(), "a")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCancelled, got.Status)

	rec = doRequest(t, srv, http.MethodDelete, "/v1/queue/items/a", testKey, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpsertProfileEndpoint(t *testing.T) {
	t.Parallel()
	srv, eng, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/profiles", testKey, profile.Profile{
		ID:    "u7",
		Email: "u7@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	p, ok := eng.Profile("u7")
	require.True(t, ok)
	assert.Equal(t, "u7@example.com", p.Email)

	rec = doRequest(t, srv, http.MethodPost, "/v1/profiles", testKey, profile.Profile{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
