// Package server implements the HTTP surface of one document-store replica
// node. A node is deliberately dumb: it knows nothing about shard groups,
// partition policy or its siblings. It stores documents in named collections
// and answers equality-filter queries; all placement and fallback intelligence
// lives with the callers.
//
// Endpoints:
//
//	GET  /health                       - liveness probe
//	GET  /stats                        - per-collection document counts
//	POST /collections/{name}/find      - all documents matching a filter
//	POST /collections/{name}/findone   - first match, 404 on miss
//	POST /collections/{name}/upsert    - keyed insert-or-replace
//	POST /collections/{name}/import    - bulk NDJSON load
package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dreamware/newsgrid/internal/storage"
)

// Server exposes one storage.Store over HTTP.
type Server struct {
	store storage.Store
	log   *zap.Logger
}

// New creates a node server around the given store.
func New(store storage.Store, log *zap.Logger) *Server {
	return &Server{store: store, log: log}
}

// Handler returns the node's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/collections/", s.handleCollection)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Stats())
}

// handleCollection routes /collections/{name}/{op} to the store.
func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/collections/")
	name, op, ok := strings.Cut(rest, "/")
	if !ok || name == "" {
		http.Error(w, "invalid path format", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch op {
	case "find":
		s.handleFind(name, w, r)
	case "findone":
		s.handleFindOne(name, w, r)
	case "upsert":
		s.handleUpsert(name, w, r)
	case "import":
		s.handleImport(name, w, r)
	default:
		http.Error(w, "unknown operation", http.StatusNotFound)
	}
}

type findRequest struct {
	Filter storage.Filter `json:"filter"`
}

func (s *Server) handleFind(collection string, w http.ResponseWriter, r *http.Request) {
	var req findRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	docs, err := s.store.Find(collection, req.Filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	raws := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			s.log.Warn("skipping unmarshalable document", zap.String("collection", collection), zap.Error(err))
			continue
		}
		raws = append(raws, raw)
	}
	writeJSON(w, http.StatusOK, map[string]any{"docs": raws})
}

func (s *Server) handleFindOne(collection string, w http.ResponseWriter, r *http.Request) {
	var req findRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	doc, err := s.store.FindOne(collection, req.Filter)
	if err != nil {
		if err == storage.ErrNotFound {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type upsertRequest struct {
	Keys []string        `json:"keys"`
	Doc  json.RawMessage `json:"doc"`
}

func (s *Server) handleUpsert(collection string, w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	var doc storage.Document
	if err := json.Unmarshal(req.Doc, &doc); err != nil {
		http.Error(w, "doc must be a JSON object", http.StatusBadRequest)
		return
	}
	if err := s.store.Upsert(collection, req.Keys, doc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImport(collection string, w http.ResponseWriter, r *http.Request) {
	imported, errs := storage.ImportNDJSON(s.store, collection, r.Body)
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	s.log.Info("bulk import",
		zap.String("collection", collection),
		zap.Int("imported", imported),
		zap.Int("rejected", len(msgs)))
	writeJSON(w, http.StatusOK, map[string]any{"imported": imported, "errors": msgs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
