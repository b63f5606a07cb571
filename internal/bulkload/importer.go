package bulkload

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/newsgrid/internal/cluster"
	"github.com/dreamware/newsgrid/internal/news"
	"github.com/dreamware/newsgrid/internal/router"
)

// ContainerResult reports the import outcome for one backing container
// (one replica endpoint of one shard group).
type ContainerResult struct {
	Group    string   `json:"group"`
	Endpoint string   `json:"endpoint"`
	Imported int      `json:"imported"`
	Rejected []string `json:"rejected,omitempty"` // per-line errors from the node
	Error    string   `json:"error,omitempty"`    // container-level failure
}

// ImportReport summarizes an ingestion run across all containers.
type ImportReport struct {
	Containers []ContainerResult `json:"containers"`
}

// Failed returns the results of containers whose import failed outright.
func (r *ImportReport) Failed() []ContainerResult {
	var failed []ContainerResult
	for _, c := range r.Containers {
		if c.Error != "" {
			failed = append(failed, c)
		}
	}
	return failed
}

// Importer loads partitioned output files into the shard groups' backing
// containers. Every replica of a group receives the group's complete record
// set, so a fresh ingestion leaves primaries and backups identical.
type Importer struct {
	topo   *cluster.Topology
	client *router.Client
	log    *zap.Logger
}

// NewImporter creates an Importer over the topology's containers.
func NewImporter(topo *cluster.Topology, client *router.Client, log *zap.Logger) *Importer {
	return &Importer{topo: topo, client: client, log: log}
}

// Run imports the per-group files under dir into every container, one worker
// per container. A failing container is reported in the result and does not
// block or fail its siblings; Run only returns an error when the context is
// canceled.
func (im *Importer) Run(ctx context.Context, dir string) (*ImportReport, error) {
	report := &ImportReport{}
	var mu sync.Mutex

	// errgroup cancels the derived context once Wait returns; only the
	// workers see it, and Run reports the caller's context alone.
	g, gctx := errgroup.WithContext(ctx)
	for _, group := range im.topo.Groups {
		for _, endpoint := range group.Replicas {
			group, endpoint := group, endpoint
			g.Go(func() error {
				res := im.loadContainer(gctx, dir, group.Name, endpoint)
				mu.Lock()
				report.Containers = append(report.Containers, res)
				mu.Unlock()
				// Container faults are isolated: never propagate as a
				// whole-batch abort.
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, ctx.Err()
}

// loadContainer streams the group's four entity files into one container.
func (im *Importer) loadContainer(ctx context.Context, dir, group, endpoint string) ContainerResult {
	res := ContainerResult{Group: group, Endpoint: endpoint}
	im.log.Info("loading container", zap.String("group", group), zap.String("endpoint", endpoint))

	for _, collection := range []string{news.CollectionUser, news.CollectionArticle, news.CollectionRead, news.CollectionFileMap} {
		path := OutputFile(dir, group, collection)
		f, err := os.Open(path)
		if err != nil {
			res.Error = err.Error()
			im.log.Error("container import failed",
				zap.String("group", group),
				zap.String("endpoint", endpoint),
				zap.Error(err))
			return res
		}
		imported, err := im.client.Import(ctx, endpoint, collection, f)
		f.Close()
		if err != nil {
			res.Error = err.Error()
			im.log.Error("container import failed",
				zap.String("group", group),
				zap.String("endpoint", endpoint),
				zap.String("collection", collection),
				zap.Error(err))
			return res
		}
		res.Imported += imported.Imported
		res.Rejected = append(res.Rejected, imported.Errors...)
	}
	return res
}
