// Package rank computes windowed top-5 popularity snapshots from engagement
// summaries. Grouping, sorting and truncation are explicit in-memory steps, so
// the ranking policy is testable without any query-pipeline engine underneath.
package rank

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/newsgrid/internal/news"
	"github.com/dreamware/newsgrid/internal/partition"
	"github.com/dreamware/newsgrid/internal/router"
	"github.com/dreamware/newsgrid/internal/storage"
)

// topN is how many articles a snapshot keeps per window.
const topN = 5

// Ranker turns engagement summaries into popularity snapshots.
//
// A run recomputes every window for every granularity and upserts each
// snapshot keyed by (granularity, window-start timestamp), so reruns never
// duplicate windows. Snapshot ids are sequential within the run and are
// reassigned on rerun; they are lookup handles, not stable external keys.
type Ranker struct {
	policy *partition.Policy
	shards *router.Router
	log    *zap.Logger
}

// New creates a Ranker.
func New(policy *partition.Policy, shards *router.Router, log *zap.Logger) *Ranker {
	return &Ranker{policy: policy, shards: shards, log: log}
}

// Run builds and stores snapshots for every granularity, returning how many
// windows were written. Daily snapshots go to one shard group, weekly and
// monthly to the other, mirroring the engagement placement policy.
func (r *Ranker) Run(ctx context.Context) (int, error) {
	summaries, err := r.loadSummaries(ctx)
	if err != nil {
		return 0, err
	}
	if len(summaries) == 0 {
		r.log.Warn("no engagement summaries, nothing to rank")
		return 0, nil
	}

	written := 0
	nextID := 0
	for _, granularity := range news.Granularities {
		for _, snapshot := range r.rankWindows(summaries, granularity) {
			snapshot.ID = nextID
			nextID++

			group := r.policy.SnapshotGroup(granularity)
			err := r.shards.UpsertAll(ctx, group, news.CollectionRank,
				[]string{"temporalGranularity", "timestamp"}, snapshot)
			if err != nil {
				r.log.Error("snapshot upsert failed",
					zap.String("granularity", string(granularity)),
					zap.Int64("window", snapshot.Timestamp),
					zap.Error(err))
				continue
			}
			written++
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}
	}

	r.log.Info("popularity ranking finished", zap.Int("windows", written))
	return written, nil
}

func (r *Ranker) loadSummaries(ctx context.Context) ([]news.EngagementSummary, error) {
	raws, err := r.shards.Find(ctx, news.CollectionBeRead, storage.Filter{}, []string{r.policy.ArticlesHome()})
	if err != nil {
		if errors.Is(err, router.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "load engagement summaries")
	}
	summaries := make([]news.EngagementSummary, 0, len(raws))
	for _, raw := range raws {
		var s news.EngagementSummary
		if err := news.Decode(raw, &s); err != nil {
			r.log.Error("skipping undecodable summary", zap.Error(err))
			continue
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// rankWindows buckets every read timestamp into windows of one granularity
// and ranks the articles within each window. Returned snapshots are ordered
// by window start.
func (r *Ranker) rankWindows(summaries []news.EngagementSummary, granularity news.Granularity) []*news.PopularSnapshot {
	// window start ms -> aid -> access count
	counts := make(map[int64]map[string]int)
	for _, s := range summaries {
		for _, stamp := range s.Timestamps {
			t, err := time.Parse(time.RFC3339, stamp)
			if err != nil {
				r.log.Error("skipping unparsable read timestamp",
					zap.String("aid", s.AID),
					zap.String("timestamp", stamp),
					zap.Error(err))
				continue
			}
			window := windowStart(t.UTC(), granularity).UnixMilli()
			if counts[window] == nil {
				counts[window] = make(map[string]int)
			}
			counts[window][s.AID]++
		}
	}

	windows := make([]int64, 0, len(counts))
	for w := range counts {
		windows = append(windows, w)
	}
	slices.Sort(windows)

	snapshots := make([]*news.PopularSnapshot, 0, len(windows))
	for _, window := range windows {
		ranked := make([]news.RankedArticle, 0, len(counts[window]))
		for aid, n := range counts[window] {
			ranked = append(ranked, news.RankedArticle{AID: aid, AccessCount: n})
		}
		// Access count descending; ties broken by article id ascending so
		// repeated runs rank identically.
		slices.SortStableFunc(ranked, func(a, b news.RankedArticle) int {
			if a.AccessCount != b.AccessCount {
				return b.AccessCount - a.AccessCount
			}
			return compareAIDs(a.AID, b.AID)
		})
		if len(ranked) > topN {
			ranked = ranked[:topN]
		}
		snapshots = append(snapshots, &news.PopularSnapshot{
			Timestamp:   window,
			Granularity: granularity,
			Articles:    ranked,
		})
	}
	return snapshots
}

func compareAIDs(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// windowStart returns the UTC start of the window containing t: midnight for
// daily, the most recent Sunday's midnight for weekly, the first of the month
// for monthly.
func windowStart(t time.Time, granularity news.Granularity) time.Time {
	switch granularity {
	case news.Daily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case news.Weekly:
		sunday := t.AddDate(0, 0, -int(t.Weekday()))
		return time.Date(sunday.Year(), sunday.Month(), sunday.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}
