package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dreamware/newsgrid/internal/cluster"
	"github.com/dreamware/newsgrid/internal/storage"
)

// FindRequest is the body of a find/findone call against a store node.
type FindRequest struct {
	Filter storage.Filter `json:"filter"`
}

// FindResponse carries the documents matched by a find call.
type FindResponse struct {
	Docs []json.RawMessage `json:"docs"`
}

// UpsertRequest is the body of an upsert call: the document plus the fields
// forming its idempotency key.
type UpsertRequest struct {
	Keys []string        `json:"keys"`
	Doc  json.RawMessage `json:"doc"`
}

// ImportResult reports the outcome of a bulk NDJSON import on a node.
type ImportResult struct {
	Imported int      `json:"imported"`
	Errors   []string `json:"errors,omitempty"`
}

// Client talks to individual store-node replicas. It is stateless and safe
// for concurrent use; fallback across replicas is the Router's job, not the
// Client's.
type Client struct{}

// NewClient creates a store-node client.
func NewClient() *Client { return &Client{} }

// FindOne queries a single replica for the first document matching filter and
// decodes it into out. A miss on that replica is an error (the node answers
// 404), which the caller treats as fall-through.
func (c *Client) FindOne(ctx context.Context, endpoint, collection string, filter storage.Filter, out any) error {
	url := fmt.Sprintf("%s/collections/%s/findone", endpoint, collection)
	return cluster.PostJSON(ctx, url, FindRequest{Filter: filter}, out)
}

// Find queries a single replica for every document matching filter.
func (c *Client) Find(ctx context.Context, endpoint, collection string, filter storage.Filter) ([]json.RawMessage, error) {
	url := fmt.Sprintf("%s/collections/%s/find", endpoint, collection)
	var resp FindResponse
	if err := cluster.PostJSON(ctx, url, FindRequest{Filter: filter}, &resp); err != nil {
		return nil, err
	}
	return resp.Docs, nil
}

// Upsert writes doc to a single replica, keyed by the given fields.
func (c *Client) Upsert(ctx context.Context, endpoint, collection string, keys []string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/collections/%s/upsert", endpoint, collection)
	return cluster.PostJSON(ctx, url, UpsertRequest{Keys: keys, Doc: raw}, nil)
}

// Import streams an NDJSON batch into a replica's collection.
func (c *Client) Import(ctx context.Context, endpoint, collection string, body io.Reader) (ImportResult, error) {
	url := fmt.Sprintf("%s/collections/%s/import", endpoint, collection)
	var res ImportResult
	err := cluster.PostStream(ctx, url, "application/x-ndjson", body, &res)
	return res, err
}

// Health probes a replica's health endpoint.
func (c *Client) Health(ctx context.Context, endpoint string) error {
	var out struct {
		Status string `json:"status"`
	}
	return cluster.GetJSON(ctx, endpoint+"/health", &out)
}

// Stats fetches a replica's per-collection document counts.
func (c *Client) Stats(ctx context.Context, endpoint string) (storage.Stats, error) {
	var stats storage.Stats
	err := cluster.GetJSON(ctx, endpoint+"/stats", &stats)
	return stats, err
}
