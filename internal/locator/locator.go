// Package locator resolves stable content names (article text, image and
// video payloads) to retrievable locations. The mapping table is reference
// data fanned out to every shard group at ingestion time, so resolution probes
// every group in the topology's fixed declaration order and takes the first
// hit.
package locator

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/dreamware/newsgrid/internal/cluster"
	"github.com/dreamware/newsgrid/internal/news"
	"github.com/dreamware/newsgrid/internal/router"
	"github.com/dreamware/newsgrid/internal/storage"
)

// ErrNotFound is returned when no shard group knows the content name.
// Callers treat it as a soft miss: a missing image is skipped, not fatal.
var ErrNotFound = errors.New("content name not mapped")

// Resolver turns content names into usable retrieval addresses.
type Resolver struct {
	shards     *router.Router
	groups     []string // fixed global probe order
	publicHost string
}

// New creates a Resolver probing the topology's groups in declaration order.
func New(topo *cluster.Topology, shards *router.Router) *Resolver {
	return &Resolver{
		shards:     shards,
		groups:     topo.GroupNames(),
		publicHost: topo.PublicHost,
	}
}

// Resolve returns the retrieval address for a content name, rewriting
// placeholder loopback hosts in the stored path to the deployment's public
// host. Returns ErrNotFound when no group has the mapping.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	var mapping news.ContentMapping
	err := r.shards.FindOne(ctx, news.CollectionFileMap, storage.Filter{"name": name}, r.groups, &mapping)
	if err != nil {
		if errors.Is(err, router.ErrNotFound) {
			return "", errors.Wrapf(ErrNotFound, "%q", name)
		}
		return "", err
	}
	return r.rewrite(mapping.Path), nil
}

// rewrite substitutes the placeholder bind address recorded at ingestion time
// with a host the caller can actually reach.
func (r *Resolver) rewrite(path string) string {
	path = strings.TrimSpace(path)
	return strings.Replace(path, "0.0.0.0", r.publicHost, 1)
}
