// Package query composes the read surface over the shard groups: full
// articles with fetched content, user profiles with reading history, and
// popularity snapshots enriched with article text. It owns the miss policy
// for each view, so the gateway stays a thin HTTP shell.
package query

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/newsgrid/internal/cluster"
	"github.com/dreamware/newsgrid/internal/locator"
	"github.com/dreamware/newsgrid/internal/news"
	"github.com/dreamware/newsgrid/internal/partition"
	"github.com/dreamware/newsgrid/internal/router"
	"github.com/dreamware/newsgrid/internal/storage"
)

// ErrNotFound is returned when the requested entity does not exist in any
// permitted shard group, or when a view's required payload cannot be
// retrieved.
var ErrNotFound = errors.New("not found")

// Service answers composed read queries.
type Service struct {
	shards  *router.Router
	content *locator.Resolver
	policy  *partition.Policy
	log     *zap.Logger
}

// New creates a Service.
func New(shards *router.Router, content *locator.Resolver, policy *partition.Policy, log *zap.Logger) *Service {
	return &Service{shards: shards, content: content, policy: policy, log: log}
}

// ArticleView is a fully materialized article: metadata, fetched body text
// and resolved media addresses. Media that cannot be resolved is omitted;
// the body text is mandatory.
type ArticleView struct {
	news.Article
	Body   string   `json:"text_content"`
	Images []string `json:"image_urls"`
	Videos []string `json:"video_urls"`
}

// GetArticle returns one article with its body text fetched and its media
// pointers resolved. A missing article, or an article whose text cannot be
// retrieved, yields ErrNotFound. Unresolvable image or video pointers are
// dropped from the view.
func (s *Service) GetArticle(ctx context.Context, aid string) (*ArticleView, error) {
	article, err := s.findArticle(ctx, aid)
	if err != nil {
		return nil, err
	}

	body, err := s.fetchText(ctx, article)
	if err != nil {
		return nil, errors.Wrapf(ErrNotFound, "article %q text: %v", aid, err)
	}

	view := &ArticleView{Article: *article, Body: body}
	view.Images = s.resolveRefs(ctx, aid, article.ImageRefs())
	view.Videos = s.resolveRefs(ctx, aid, article.VideoRefs())
	return view, nil
}

// HistoryEntry is one read of one article, with the article's body text
// inlined.
type HistoryEntry struct {
	AID       string `json:"aid"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

// UserView is a user profile with reading history, ordered oldest read first.
type UserView struct {
	news.User
	History []HistoryEntry `json:"readingHistory"`
}

// GetUser returns a user's profile and reading history. History entries whose
// article or text cannot be retrieved are dropped individually; only a
// missing profile is ErrNotFound.
func (s *Service) GetUser(ctx context.Context, uid string) (*UserView, error) {
	var user news.User
	err := s.shards.FindOne(ctx, news.CollectionUser, storage.Filter{"uid": uid}, s.policy.AllGroups(), &user)
	if err != nil {
		if errors.Is(err, router.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "user %q", uid)
		}
		return nil, err
	}
	user.ID = ""

	view := &UserView{User: user, History: []HistoryEntry{}}
	for _, event := range s.readEvents(ctx, uid) {
		article, err := s.findArticle(ctx, event.AID)
		if err != nil {
			s.log.Debug("history entry dropped, article lookup failed",
				zap.String("uid", uid), zap.String("aid", event.AID), zap.Error(err))
			continue
		}
		text, err := s.fetchText(ctx, article)
		if err != nil {
			s.log.Debug("history entry dropped, text fetch failed",
				zap.String("uid", uid), zap.String("aid", event.AID), zap.Error(err))
			continue
		}
		view.History = append(view.History, HistoryEntry{
			AID:       event.AID,
			Timestamp: event.Timestamp.Time().Format(time.RFC3339),
			Text:      text,
		})
	}
	slices.SortStableFunc(view.History, func(a, b HistoryEntry) int {
		return compareStrings(a.Timestamp, b.Timestamp)
	})
	return view, nil
}

// PopularArticle is one ranked entry of a popularity view. Text is empty when
// the article's body could not be retrieved; the entry itself is kept.
type PopularArticle struct {
	AID         string `json:"aid"`
	AccessCount int    `json:"accessCount"`
	Text        string `json:"text,omitempty"`
}

// PopularityView is a popularity snapshot with a human-readable window date
// and per-article body text.
type PopularityView struct {
	ID          int              `json:"id"`
	Granularity news.Granularity `json:"temporalGranularity"`
	Timestamp   int64            `json:"timestamp"`
	BeginDate   string           `json:"begin_date"`
	Articles    []PopularArticle `json:"articleList"`
}

// GetPopularity returns one snapshot of the given granularity by its run id,
// enriched with article text where retrievable.
func (s *Service) GetPopularity(ctx context.Context, granularity news.Granularity, id int) (*PopularityView, error) {
	group := s.policy.SnapshotGroup(granularity)
	var snapshot news.PopularSnapshot
	err := s.shards.FindOne(ctx, news.CollectionRank,
		storage.Filter{"temporalGranularity": string(granularity), "id": id},
		[]string{group}, &snapshot)
	if err != nil {
		if errors.Is(err, router.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "%s snapshot %d", granularity, id)
		}
		return nil, err
	}

	view := &PopularityView{
		ID:          snapshot.ID,
		Granularity: snapshot.Granularity,
		Timestamp:   snapshot.Timestamp,
		BeginDate:   snapshot.WindowStart().Format("2006-01-02"),
		Articles:    make([]PopularArticle, 0, len(snapshot.Articles)),
	}
	for _, ranked := range snapshot.Articles {
		entry := PopularArticle{AID: ranked.AID, AccessCount: ranked.AccessCount}
		if article, err := s.findArticle(ctx, ranked.AID); err == nil {
			if text, err := s.fetchText(ctx, article); err == nil {
				entry.Text = text
			} else {
				s.log.Debug("snapshot entry kept without text",
					zap.String("aid", ranked.AID), zap.Error(err))
			}
		} else {
			s.log.Debug("snapshot entry kept without text",
				zap.String("aid", ranked.AID), zap.Error(err))
		}
		view.Articles = append(view.Articles, entry)
	}
	return view, nil
}

// WindowRef identifies one ranked window for listing.
type WindowRef struct {
	ID        int    `json:"id"`
	Date      string `json:"date"`
	Timestamp int64  `json:"timestamp"`
}

// ListPopularityWindows returns every snapshot window of one granularity,
// oldest first, with second-resolution timestamps and YYYY-MM-DD dates.
func (s *Service) ListPopularityWindows(ctx context.Context, granularity news.Granularity) ([]WindowRef, error) {
	group := s.policy.SnapshotGroup(granularity)
	raws, err := s.shards.Find(ctx, news.CollectionRank,
		storage.Filter{"temporalGranularity": string(granularity)}, []string{group})
	if err != nil {
		if errors.Is(err, router.ErrNotFound) {
			return []WindowRef{}, nil
		}
		return nil, err
	}

	refs := make([]WindowRef, 0, len(raws))
	for _, raw := range raws {
		var snapshot news.PopularSnapshot
		if err := news.Decode(raw, &snapshot); err != nil {
			s.log.Error("skipping undecodable snapshot", zap.Error(err))
			continue
		}
		refs = append(refs, WindowRef{
			ID:        snapshot.ID,
			Date:      snapshot.WindowStart().Format("2006-01-02"),
			Timestamp: snapshot.Timestamp / 1000,
		})
	}
	slices.SortFunc(refs, func(a, b WindowRef) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		default:
			return 0
		}
	})
	return refs, nil
}

func (s *Service) findArticle(ctx context.Context, aid string) (*news.Article, error) {
	var article news.Article
	err := s.shards.FindOne(ctx, news.CollectionArticle, storage.Filter{"aid": aid}, s.policy.ArticleGroups(), &article)
	if err != nil {
		if errors.Is(err, router.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "article %q", aid)
		}
		return nil, err
	}
	article.ID = ""
	return &article, nil
}

// fetchText resolves and downloads an article's body payload.
func (s *Service) fetchText(ctx context.Context, article *news.Article) (string, error) {
	addr, err := s.content.Resolve(ctx, article.Text)
	if err != nil {
		return "", err
	}
	payload, err := cluster.GetBody(ctx, addr)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// resolveRefs resolves media pointer names, dropping the ones no group can
// map.
func (s *Service) resolveRefs(ctx context.Context, aid string, refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		addr, err := s.content.Resolve(ctx, ref)
		if err != nil {
			s.log.Debug("media pointer dropped",
				zap.String("aid", aid), zap.String("ref", ref), zap.Error(err))
			continue
		}
		out = append(out, addr)
	}
	return out
}

func (s *Service) readEvents(ctx context.Context, uid string) []news.ReadEvent {
	raws, err := s.shards.Find(ctx, news.CollectionRead, storage.Filter{"uid": uid}, s.policy.AllGroups())
	if err != nil {
		if !errors.Is(err, router.ErrNotFound) {
			s.log.Error("reading history lookup failed", zap.String("uid", uid), zap.Error(err))
		}
		return nil
	}
	events := make([]news.ReadEvent, 0, len(raws))
	for _, raw := range raws {
		var event news.ReadEvent
		if err := news.Decode(raw, &event); err != nil {
			s.log.Error("skipping undecodable read event", zap.String("uid", uid), zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
