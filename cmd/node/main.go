// Package main implements the newsgrid node service, one replica of one shard
// group's document store. A deployment runs several nodes per group (primary
// plus backups); each node is a standalone process holding the group's full
// document set.
//
// Architecture:
//
//	┌─────────────────────────────────────────────┐
//	│                  Node                        │
//	├─────────────────────────────────────────────┤
//	│  HTTP API:                                  │
//	│    /health                    - liveness    │
//	│    /stats                     - doc counts  │
//	│    /collections/{c}/find      - filter list │
//	│    /collections/{c}/findone   - single doc  │
//	│    /collections/{c}/upsert    - keyed write │
//	│    /collections/{c}/import    - NDJSON bulk │
//	├─────────────────────────────────────────────┤
//	│  Components:                                │
//	│    server.Server  - request handling        │
//	│    MemoryStore    - document collections    │
//	└─────────────────────────────────────────────┘
//
// Configuration:
//   - NODE_LISTEN: listen address (default ":8081")
//
// Example usage:
//
//	# Start the primary replica of a group
//	NODE_LISTEN=:8081 ./node
//
//	# Bulk-load a collection
//	curl -X POST localhost:8081/collections/user/import \
//	  --data-binary @group-A/user.jsonl
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/newsgrid/internal/server"
	"github.com/dreamware/newsgrid/internal/storage"
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

	run(log, getenv("NODE_LISTEN", ":8081"), waitForSignal)
}

// run wires the store and HTTP server and blocks until wait returns.
func run(log *zap.Logger, listen string, wait func()) {
	store := storage.NewMemoryStore()
	node := server.New(store, log)

	s := &http.Server{
		Addr:              listen,
		Handler:           node.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("node listening", zap.String("addr", listen))
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal(log, "listen failed", zap.Error(err))
		}
	}()

	wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	log.Info("node stopped")
}

func waitForSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

// getenv returns the environment variable k, or def when unset or empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
