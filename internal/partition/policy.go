// Package partition interprets the topology's placement rules: which shard
// group owns a user's region, which groups hold an article's category, and
// where derived engagement and popularity data go. The bulk partitioner and
// the read path both consult it, so the rules live in exactly one place.
package partition

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/dreamware/newsgrid/internal/cluster"
	"github.com/dreamware/newsgrid/internal/news"
)

// ErrUnknownRegion marks a user record whose region is outside the recognized
// set. Such records are data-quality faults: dropped and reported, never fatal.
var ErrUnknownRegion = errors.New("unknown region")

// ErrUnknownCategory marks an article record with an unrecognized category.
var ErrUnknownCategory = errors.New("unknown category")

// Policy answers placement questions derived from a validated topology.
// It is immutable and safe for concurrent use.
type Policy struct {
	regionGroup map[string]string // region -> owning group
	shared      map[string]bool   // categories replicated everywhere
	exclusive   map[string]string // category -> single owning group
	allGroups   []string          // declaration order
	placement   cluster.Placement
}

// NewPolicy builds a Policy from a topology. The topology must already be
// validated.
func NewPolicy(topo *cluster.Topology) *Policy {
	p := &Policy{
		regionGroup: make(map[string]string),
		shared:      make(map[string]bool),
		exclusive:   make(map[string]string, len(topo.Categories.Exclusive)),
		allGroups:   topo.GroupNames(),
		placement:   topo.Placement,
	}
	for _, g := range topo.Groups {
		for _, region := range g.Regions {
			p.regionGroup[region] = g.Name
		}
	}
	for _, category := range topo.Categories.Shared {
		p.shared[category] = true
	}
	for category, group := range topo.Categories.Exclusive {
		p.exclusive[category] = group
	}
	return p
}

// GroupForRegion resolves the single group owning a user region.
func (p *Policy) GroupForRegion(region string) (string, error) {
	group, ok := p.regionGroup[region]
	if !ok {
		return "", errors.Wrapf(ErrUnknownRegion, "%q", region)
	}
	return group, nil
}

// GroupsForCategory resolves the groups an article of the given category is
// written to: every group for a shared category, exactly one for an exclusive
// category.
func (p *Policy) GroupsForCategory(category string) ([]string, error) {
	if p.shared[category] {
		out := make([]string, len(p.allGroups))
		copy(out, p.allGroups)
		return out, nil
	}
	if group, ok := p.exclusive[category]; ok {
		return []string{group}, nil
	}
	return nil, errors.Wrapf(ErrUnknownCategory, "%q", category)
}

// Shared reports whether a category is replicated into every group.
func (p *Policy) Shared(category string) bool { return p.shared[category] }

// ArticleGroups returns the groups to probe for article lookups: the group
// holding the complete article set first, then the remaining groups as
// fallbacks for shared articles.
func (p *Policy) ArticleGroups() []string {
	out := []string{p.placement.Articles}
	for _, g := range p.allGroups {
		if g != p.placement.Articles {
			out = append(out, g)
		}
	}
	return out
}

// AllGroups returns every group name in declaration order. User and read-event
// lookups probe all of them, since ownership depends on a region the caller
// does not know.
func (p *Policy) AllGroups() []string {
	out := make([]string, len(p.allGroups))
	copy(out, p.allGroups)
	return out
}

// ArticlesHome returns the group holding every article.
func (p *Policy) ArticlesHome() string { return p.placement.Articles }

// EngagementGroups returns the groups an article's engagement summary is
// upserted into: the complete-article-set group always, plus every other group
// when the category is shared there.
func (p *Policy) EngagementGroups(category string) []string {
	out := []string{p.placement.Articles}
	if p.shared[category] {
		for _, g := range p.allGroups {
			if g != p.placement.Articles {
				out = append(out, g)
			}
		}
	}
	return out
}

// SnapshotGroup returns the group storing popularity snapshots of the given
// granularity.
func (p *Policy) SnapshotGroup(g news.Granularity) string {
	switch g {
	case news.Daily:
		return p.placement.Daily
	case news.Weekly:
		return p.placement.Weekly
	default:
		return p.placement.Monthly
	}
}

// Membership tracks which group each partitioned user landed in. It is built
// during user partitioning and consulted when routing read events: an event
// whose user was never assigned anywhere is an orphan and gets dropped.
type Membership struct {
	mu      sync.RWMutex
	byUID   map[string]string
	byGroup map[string]int
}

// NewMembership creates an empty membership registry.
func NewMembership() *Membership {
	return &Membership{
		byUID:   make(map[string]string),
		byGroup: make(map[string]int),
	}
}

// Assign records that uid belongs to group. Later assignments overwrite
// earlier ones, matching last-record-wins ingestion.
func (m *Membership) Assign(uid, group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.byUID[uid]; ok {
		m.byGroup[prev]--
	}
	m.byUID[uid] = group
	m.byGroup[group]++
}

// GroupFor returns the group owning uid, or false for an unassigned user.
func (m *Membership) GroupFor(uid string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	group, ok := m.byUID[uid]
	return group, ok
}

// Count returns how many users are assigned to group.
func (m *Membership) Count(group string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byGroup[group]
}

// Size returns the total number of assigned users.
func (m *Membership) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUID)
}
