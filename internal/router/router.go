package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dreamware/newsgrid/internal/cluster"
	"github.com/dreamware/newsgrid/internal/storage"
)

// ErrNotFound is returned when every replica of every permitted group has been
// tried without producing a result. It is the read path's soft-miss: callers
// surface it as "not found", never as a fault.
var ErrNotFound = errors.New("not found in any permitted group")

// Router resolves reads against the shard groups that may hold an entity.
// The caller supplies the permitted groups in probe order, derived from the
// partition policy; the Router owns only the replica-fallback mechanics.
type Router struct {
	topo   *cluster.Topology
	client *Client
	log    *zap.Logger
}

// New creates a Router over the given topology.
func New(topo *cluster.Topology, client *Client, log *zap.Logger) *Router {
	return &Router{topo: topo, client: client, log: log}
}

// Client returns the underlying store-node client, for callers that address
// specific replicas directly (the analytics pipelines).
func (r *Router) Client() *Client { return r.client }

// Replicas returns a group's replica endpoints in priority order, primary
// first. Unknown groups yield an empty list, which reads treat as exhausted.
func (r *Router) Replicas(group string) []string {
	g := r.topo.Group(group)
	if g == nil {
		return nil
	}
	return g.Replicas
}

// FindOne fetches the first document matching filter from the first replica
// that answers, trying groups in the given order and replicas primary-first
// within each group. The result is decoded into out. Per-replica faults —
// connection errors, timeouts, malformed responses, misses — fall through to
// the next replica; only full exhaustion returns ErrNotFound.
func (r *Router) FindOne(ctx context.Context, collection string, filter storage.Filter, groups []string, out any) error {
	var ops []Op[json.RawMessage]
	for _, group := range groups {
		for _, endpoint := range r.Replicas(group) {
			group, endpoint := group, endpoint
			ops = append(ops, Op[json.RawMessage]{
				Label: fmt.Sprintf("%s@%s", group, endpoint),
				Do: func(ctx context.Context) (json.RawMessage, error) {
					var raw json.RawMessage
					if err := r.client.FindOne(ctx, endpoint, collection, filter, &raw); err != nil {
						r.log.Debug("replica findone failed",
							zap.String("collection", collection),
							zap.String("group", group),
							zap.String("replica", endpoint),
							zap.Error(err))
						return nil, err
					}
					return raw, nil
				},
			})
		}
	}
	raw, err := First(ctx, ops)
	if err != nil {
		if errors.Is(err, ErrExhausted) {
			return errors.Wrapf(ErrNotFound, "%s %v", collection, filter)
		}
		return err
	}
	return json.Unmarshal(raw, out)
}

// Find fetches every document matching filter from the first replica that
// answers with a non-empty result. An empty result on a healthy replica falls
// through like a fault: a record present in a group is not guaranteed present
// in all its replicas at once.
func (r *Router) Find(ctx context.Context, collection string, filter storage.Filter, groups []string) ([]json.RawMessage, error) {
	var ops []Op[[]json.RawMessage]
	for _, group := range groups {
		for _, endpoint := range r.Replicas(group) {
			group, endpoint := group, endpoint
			ops = append(ops, Op[[]json.RawMessage]{
				Label: fmt.Sprintf("%s@%s", group, endpoint),
				Do: func(ctx context.Context) ([]json.RawMessage, error) {
					docs, err := r.client.Find(ctx, endpoint, collection, filter)
					if err != nil {
						r.log.Debug("replica find failed",
							zap.String("collection", collection),
							zap.String("group", group),
							zap.String("replica", endpoint),
							zap.Error(err))
						return nil, err
					}
					if len(docs) == 0 {
						return nil, errors.New("empty result")
					}
					return docs, nil
				},
			})
		}
	}
	docs, err := First(ctx, ops)
	if err != nil {
		if errors.Is(err, ErrExhausted) {
			return nil, errors.Wrapf(ErrNotFound, "%s %v", collection, filter)
		}
		return nil, err
	}
	return docs, nil
}

// UpsertAll writes doc to every replica of a group, keyed by the given fields.
// Write fan-out is best effort: individual replica failures are logged and
// tolerated, and an error is returned only when no replica accepted the write.
func (r *Router) UpsertAll(ctx context.Context, group, collection string, keys []string, doc any) error {
	replicas := r.Replicas(group)
	if len(replicas) == 0 {
		return errors.Errorf("upsert: unknown group %q", group)
	}
	accepted := 0
	var lastErr error
	for _, endpoint := range replicas {
		if err := r.client.Upsert(ctx, endpoint, collection, keys, doc); err != nil {
			lastErr = err
			r.log.Warn("replica upsert failed",
				zap.String("collection", collection),
				zap.String("group", group),
				zap.String("replica", endpoint),
				zap.Error(err))
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return errors.Wrapf(lastErr, "upsert %s: no replica of %s accepted the write", collection, group)
	}
	return nil
}
