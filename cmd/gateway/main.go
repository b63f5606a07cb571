// Package main implements the newsgrid gateway, the read-side HTTP API over
// the shard groups. The gateway holds no documents itself; every request is
// composed from node replicas through the shard router, falling back from a
// group's primary to its backups.
//
// Architecture:
//
//	┌─────────────────────────────────────────────────┐
//	│                  Gateway                         │
//	├─────────────────────────────────────────────────┤
//	│  HTTP API:                                      │
//	│    /api/article/{aid}          - full article   │
//	│    /api/user/{uid}             - profile+reads  │
//	│    /api/popular_rank/{gran}    - window listing │
//	│    /api/popular_rank/{gran}/{id} - one snapshot │
//	│    /api/health                 - replica probe  │
//	│    /health                     - liveness       │
//	├─────────────────────────────────────────────────┤
//	│  Components:                                    │
//	│    query.Service    - view composition         │
//	│    router.Router    - replica fallback         │
//	│    locator.Resolver - content addresses        │
//	└─────────────────────────────────────────────────┘
//
// Configuration:
//   - GATEWAY_LISTEN: listen address (default ":8080")
//   - TOPOLOGY_PATH: topology YAML file (default: built-in two-group layout)
//
// Example usage:
//
//	TOPOLOGY_PATH=topology.yaml ./gateway
//	curl localhost:8080/api/popular_rank/daily
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dreamware/newsgrid/internal/cluster"
	"github.com/dreamware/newsgrid/internal/locator"
	"github.com/dreamware/newsgrid/internal/news"
	"github.com/dreamware/newsgrid/internal/partition"
	"github.com/dreamware/newsgrid/internal/query"
	"github.com/dreamware/newsgrid/internal/router"
)

// logFatal is a variable so tests can intercept fatal exits.
var logFatal = func(log *zap.Logger, msg string, fields ...zap.Field) {
	log.Fatal(msg, fields...)
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	topo, err := loadTopology(os.Getenv("TOPOLOGY_PATH"))
	if err != nil {
		logFatal(log, "topology", zap.Error(err))
		return
	}

	srv := newGateway(topo, log)
	s := &http.Server{
		Addr:              getenv("GATEWAY_LISTEN", ":8080"),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("gateway listening", zap.String("addr", s.Addr))
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal(log, "listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	log.Info("gateway stopped")
}

// loadTopology reads the YAML topology at path, or returns the built-in
// layout when no path is configured.
func loadTopology(path string) (*cluster.Topology, error) {
	if path == "" {
		return cluster.Default(), nil
	}
	return cluster.Load(path)
}

type gateway struct {
	topo   *cluster.Topology
	shards *router.Router
	svc    *query.Service
	log    *zap.Logger
}

func newGateway(topo *cluster.Topology, log *zap.Logger) *gateway {
	shards := router.New(topo, router.NewClient(), log)
	policy := partition.NewPolicy(topo)
	svc := query.New(shards, locator.New(topo, shards), policy, log)
	return &gateway{topo: topo, shards: shards, svc: svc, log: log}
}

func (s *gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/article/", s.handleArticle)
	mux.HandleFunc("/api/user/", s.handleUser)
	mux.HandleFunc("/api/popular_rank/", s.handlePopularRank)
	mux.HandleFunc("/api/health", s.handleClusterHealth)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// handleArticle serves GET /api/article/{aid}.
func (s *gateway) handleArticle(w http.ResponseWriter, r *http.Request) {
	aid := strings.TrimPrefix(r.URL.Path, "/api/article/")
	if r.Method != http.MethodGet || aid == "" || strings.Contains(aid, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	view, err := s.svc.GetArticle(r.Context(), aid)
	if err != nil {
		s.writeLookupError(w, "article", aid, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleUser serves GET /api/user/{uid}.
func (s *gateway) handleUser(w http.ResponseWriter, r *http.Request) {
	uid := strings.TrimPrefix(r.URL.Path, "/api/user/")
	if r.Method != http.MethodGet || uid == "" || strings.Contains(uid, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	view, err := s.svc.GetUser(r.Context(), uid)
	if err != nil {
		s.writeLookupError(w, "user", uid, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handlePopularRank serves GET /api/popular_rank/{granularity} (window
// listing) and GET /api/popular_rank/{granularity}/{id} (one snapshot).
func (s *gateway) handlePopularRank(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/popular_rank/")
	granTag, idTag, hasID := strings.Cut(rest, "/")

	granularity, ok := news.ParseGranularity(granTag)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown granularity "+strconv.Quote(granTag))
		return
	}

	if !hasID {
		refs, err := s.svc.ListPopularityWindows(r.Context(), granularity)
		if err != nil {
			s.log.Error("window listing failed", zap.String("granularity", granTag), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"granularity": granularity, "windows": refs})
		return
	}

	id, err := strconv.Atoi(idTag)
	if err != nil {
		writeError(w, http.StatusBadRequest, "snapshot id must be an integer")
		return
	}
	view, err := s.svc.GetPopularity(r.Context(), granularity, id)
	if err != nil {
		s.writeLookupError(w, "snapshot", idTag, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// replicaHealth is one probed replica in the cluster health report.
type replicaHealth struct {
	Group    string `json:"group"`
	Endpoint string `json:"endpoint"`
	Healthy  bool   `json:"healthy"`
	Error    string `json:"error,omitempty"`
}

// handleClusterHealth probes every replica of every group and reports
// per-replica status. The gateway itself answering is the liveness signal;
// this endpoint is about the stores behind it.
func (s *gateway) handleClusterHealth(w http.ResponseWriter, r *http.Request) {
	var replicas []replicaHealth
	healthy := true
	for _, group := range s.topo.Groups {
		for _, endpoint := range group.Replicas {
			probe := replicaHealth{Group: group.Name, Endpoint: endpoint, Healthy: true}
			if err := s.shards.Client().Health(r.Context(), endpoint); err != nil {
				probe.Healthy = false
				probe.Error = err.Error()
				healthy = false
			}
			replicas = append(replicas, probe)
		}
	}

	status := "ok"
	if !healthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "replicas": replicas})
}

func (s *gateway) writeLookupError(w http.ResponseWriter, kind, key string, err error) {
	if errors.Is(err, query.ErrNotFound) {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	s.log.Error("lookup failed", zap.String("kind", kind), zap.String("key", key), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// getenv returns the environment variable k, or def when unset or empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
