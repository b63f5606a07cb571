package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/newsgrid/internal/cluster"
	"github.com/dreamware/newsgrid/internal/news"
	"github.com/dreamware/newsgrid/internal/server"
	"github.com/dreamware/newsgrid/internal/storage"
)

// newTestGateway spins one live replica per group plus a content file server
// and returns the gateway handler with the backing stores for seeding.
func newTestGateway(t *testing.T) (http.Handler, map[string]*storage.MemoryStore, *httptest.Server) {
	t.Helper()
	topo := cluster.Default()
	stores := make(map[string]*storage.MemoryStore)
	for i := range topo.Groups {
		g := &topo.Groups[i]
		store := storage.NewMemoryStore()
		ts := httptest.NewServer(server.New(store, zaptest.NewLogger(t)).Handler())
		t.Cleanup(ts.Close)
		g.Replicas = []string{ts.URL}
		stores[g.Name] = store
	}
	content := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("article body"))
	}))
	t.Cleanup(content.Close)
	return newGateway(topo, zaptest.NewLogger(t)).routes(), stores, content
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "response must be JSON: %s", rec.Body.String())
	return rec.Code, body
}

func TestArticleEndpoint(t *testing.T) {
	h, stores, content := newTestGateway(t)
	require.NoError(t, stores["group-B"].Insert(news.CollectionArticle, storage.Document{
		"aid": "a1", "title": "Hello", "text": "text_a1",
	}))
	require.NoError(t, stores["group-B"].Insert(news.CollectionFileMap, storage.Document{
		"name": "text_a1", "path": content.URL + "/text_a1",
	}))

	code, body := get(t, h, "/api/article/a1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "a1", body["aid"])
	assert.Equal(t, "article body", body["text_content"])

	code, body = get(t, h, "/api/article/missing")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body["error"], "not found")

	code, _ = get(t, h, "/api/article/")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUserEndpoint(t *testing.T) {
	h, stores, _ := newTestGateway(t)
	require.NoError(t, stores["group-A"].Insert(news.CollectionUser, storage.Document{
		"uid": "u1", "name": "user1", "region": "Beijing",
	}))

	code, body := get(t, h, "/api/user/u1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "u1", body["uid"])
	history, ok := body["readingHistory"].([]any)
	require.True(t, ok, "history must serialize as a list even when empty")
	assert.Empty(t, history)

	code, _ = get(t, h, "/api/user/ghost")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPopularRankEndpoints(t *testing.T) {
	h, stores, _ := newTestGateway(t)
	window := time.Date(2017, 9, 25, 0, 0, 0, 0, time.UTC).UnixMilli()
	require.NoError(t, stores["group-A"].Insert(news.CollectionRank, storage.Document{
		"id": 0, "temporalGranularity": "daily", "timestamp": window,
		"articleList": []any{map[string]any{"aid": "a1", "accessCount": 3}},
	}))

	code, body := get(t, h, "/api/popular_rank/daily")
	assert.Equal(t, http.StatusOK, code)
	windows, ok := body["windows"].([]any)
	require.True(t, ok)
	require.Len(t, windows, 1)
	assert.Equal(t, "2017-09-25", windows[0].(map[string]any)["date"])

	code, body = get(t, h, "/api/popular_rank/daily/0")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2017-09-25", body["begin_date"])
	articles := body["articleList"].([]any)
	require.Len(t, articles, 1)
	assert.Equal(t, "a1", articles[0].(map[string]any)["aid"])

	code, _ = get(t, h, "/api/popular_rank/daily/7")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = get(t, h, "/api/popular_rank/hourly")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "granularity")

	code, _ = get(t, h, "/api/popular_rank/daily/first")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestClusterHealthEndpoint(t *testing.T) {
	topo := cluster.Default()
	live := httptest.NewServer(server.New(storage.NewMemoryStore(), zaptest.NewLogger(t)).Handler())
	defer live.Close()
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer dead.Close()
	topo.Groups[0].Replicas = []string{live.URL}
	topo.Groups[1].Replicas = []string{live.URL, dead.URL}

	h := newGateway(topo, zaptest.NewLogger(t)).routes()
	code, body := get(t, h, "/api/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])
	replicas := body["replicas"].([]any)
	require.Len(t, replicas, 3)

	unhealthy := 0
	for _, r := range replicas {
		if !r.(map[string]any)["healthy"].(bool) {
			unhealthy++
		}
	}
	assert.Equal(t, 1, unhealthy)
}

func TestLivenessEndpoint(t *testing.T) {
	h, _, _ := newTestGateway(t)
	code, body := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}
