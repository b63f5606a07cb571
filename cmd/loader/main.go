// Package main implements the newsgrid loader, the batch CLI that takes a
// raw corpus dump to a fully populated, ranked cluster. It chains four
// stages, each rerunnable on its own:
//
//	partition  - split raw dumps into per-group ingestion files
//	import     - bulk-load the files into every replica of every group
//	engagement - recompute per-article engagement summaries
//	rank       - recompute windowed top-5 popularity snapshots
//
// Configuration (flags):
//   - -topology: topology YAML file (default: built-in two-group layout)
//   - -input: directory holding user.dat, article.dat, read.dat, mapping.txt
//   - -out: directory for per-group ingestion files
//   - -stages: comma-separated stage list, run in the order given
//
// Dropped records (unknown regions, orphan reads, malformed lines) are
// reported and do not fail the run; only setup faults exit non-zero.
//
// Example usage:
//
//	./loader -input ./dump -out ./staging
//	./loader -stages engagement,rank
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dreamware/newsgrid/internal/bulkload"
	"github.com/dreamware/newsgrid/internal/cluster"
	"github.com/dreamware/newsgrid/internal/engagement"
	"github.com/dreamware/newsgrid/internal/partition"
	"github.com/dreamware/newsgrid/internal/rank"
	"github.com/dreamware/newsgrid/internal/router"
)

// logFatal is a variable so tests can intercept fatal exits.
var logFatal = func(log *zap.Logger, msg string, fields ...zap.Field) {
	log.Fatal(msg, fields...)
}

type config struct {
	topology string
	input    string
	out      string
	stages   []string
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		logFatal(log, "flags", zap.Error(err))
		return
	}
	if err := run(context.Background(), log, cfg); err != nil {
		logFatal(log, "load failed", zap.Error(err))
	}
}

func parseFlags(args []string) (*config, error) {
	fs := flag.NewFlagSet("loader", flag.ContinueOnError)
	topology := fs.String("topology", "", "topology YAML file (empty for the built-in layout)")
	input := fs.String("input", "data", "directory with the raw corpus dumps")
	out := fs.String("out", "staging", "directory for per-group ingestion files")
	stages := fs.String("stages", "partition,import,engagement,rank", "stages to run, in order")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &config{topology: *topology, input: *input, out: *out}
	for _, stage := range strings.Split(*stages, ",") {
		stage = strings.TrimSpace(stage)
		if stage == "" {
			continue
		}
		switch stage {
		case "partition", "import", "engagement", "rank":
			cfg.stages = append(cfg.stages, stage)
		default:
			return nil, errors.Errorf("unknown stage %q", stage)
		}
	}
	if len(cfg.stages) == 0 {
		return nil, errors.New("no stages selected")
	}
	return cfg, nil
}

func run(ctx context.Context, log *zap.Logger, cfg *config) error {
	topo, err := loadTopology(cfg.topology)
	if err != nil {
		return errors.Wrap(err, "topology")
	}

	policy := partition.NewPolicy(topo)
	shards := router.New(topo, router.NewClient(), log)

	for _, stage := range cfg.stages {
		log.Info("stage starting", zap.String("stage", stage))
		switch stage {
		case "partition":
			err = runPartition(ctx, log, policy, cfg)
		case "import":
			err = runImport(ctx, log, topo, cfg)
		case "engagement":
			err = runEngagement(ctx, log, topo, policy, shards)
		case "rank":
			err = runRank(ctx, log, policy, shards)
		}
		if err != nil {
			return errors.Wrap(err, stage)
		}
	}
	return nil
}

func runPartition(ctx context.Context, log *zap.Logger, policy *partition.Policy, cfg *config) error {
	p := bulkload.NewPartitioner(policy, cfg.out, log)
	report, _, err := p.Run(ctx, bulkload.Inputs{
		Users:    filepath.Join(cfg.input, "user.dat"),
		Articles: filepath.Join(cfg.input, "article.dat"),
		Reads:    filepath.Join(cfg.input, "read.dat"),
		Mapping:  filepath.Join(cfg.input, "mapping.txt"),
	})
	if err != nil {
		return err
	}
	log.Info("partition finished",
		zap.String("runId", report.RunID.String()),
		zap.Int("users", report.Users.Total),
		zap.Int("articles", report.Articles.Total),
		zap.Int("reads", report.Reads.Total),
		zap.Int("mappings", report.Mappings),
		zap.Int("dropped", len(report.Dropped)))
	for _, drop := range report.Dropped {
		log.Warn("record dropped",
			zap.String("stream", drop.Stream),
			zap.Int("line", drop.Line),
			zap.String("key", drop.Key),
			zap.String("reason", drop.Reason))
	}
	return nil
}

func runImport(ctx context.Context, log *zap.Logger, topo *cluster.Topology, cfg *config) error {
	report, err := bulkload.NewImporter(topo, router.NewClient(), log).Run(ctx, cfg.out)
	if err != nil {
		return err
	}
	for _, c := range report.Containers {
		log.Info("container loaded",
			zap.String("group", c.Group),
			zap.String("endpoint", c.Endpoint),
			zap.Int("imported", c.Imported),
			zap.Int("rejected", len(c.Rejected)))
	}
	// Failed containers are degraded replicas, not batch failures; siblings
	// carry the group's data.
	for _, c := range report.Failed() {
		log.Warn("container import failed",
			zap.String("group", c.Group),
			zap.String("endpoint", c.Endpoint),
			zap.String("error", c.Error))
	}
	return nil
}

func runEngagement(ctx context.Context, log *zap.Logger, topo *cluster.Topology, policy *partition.Policy, shards *router.Router) error {
	n, err := engagement.New(topo, policy, shards, log).Run(ctx)
	if err != nil {
		return err
	}
	log.Info("engagement finished", zap.Int("summaries", n))
	return nil
}

func runRank(ctx context.Context, log *zap.Logger, policy *partition.Policy, shards *router.Router) error {
	n, err := rank.New(policy, shards, log).Run(ctx)
	if err != nil {
		return err
	}
	log.Info("rank finished", zap.Int("windows", n))
	return nil
}

// loadTopology reads the YAML topology at path, or returns the built-in
// layout when no path is configured.
func loadTopology(path string) (*cluster.Topology, error) {
	if path == "" {
		return cluster.Default(), nil
	}
	return cluster.Load(path)
}
