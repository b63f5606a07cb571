package cluster

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Group is one named shard group: a logical partition of the corpus served by
// an ordered list of replica endpoints.
type Group struct {
	// Name identifies the group in placement rules and reports.
	Name string `yaml:"name"`

	// Regions lists the user home regions this group owns. A region belongs
	// to exactly one group.
	Regions []string `yaml:"regions"`

	// Replicas holds the base URLs of the group's store nodes, primary first.
	// Reads try them in this order and stop at the first success.
	Replicas []string `yaml:"replicas"`
}

// CategoryPolicy declares how article categories map onto shard groups.
type CategoryPolicy struct {
	// Shared categories are replicated into every group.
	Shared []string `yaml:"shared"`

	// Exclusive maps a category to the single group that owns it.
	Exclusive map[string]string `yaml:"exclusive"`
}

// Placement names the groups that hold derived and corpus-wide data.
type Placement struct {
	// Articles is the group that holds every article regardless of category.
	// Engagement summaries always live here.
	Articles string `yaml:"articles"`

	// Daily, Weekly and Monthly name the groups storing popularity snapshots
	// of the respective granularity.
	Daily   string `yaml:"daily"`
	Weekly  string `yaml:"weekly"`
	Monthly string `yaml:"monthly"`
}

// Topology is the full deployment description: shard groups, category policy
// and derived-data placement. It is immutable after load; components receive
// it by pointer and never modify it.
type Topology struct {
	Groups     []Group        `yaml:"groups"`
	Categories CategoryPolicy `yaml:"categories"`
	Placement  Placement      `yaml:"placement"`

	// PublicHost replaces loopback placeholder hosts (0.0.0.0) found in stored
	// content paths so callers get a reachable address. Defaults to localhost.
	PublicHost string `yaml:"publicHost"`
}

// Default returns the stock two-group topology: group-A owns Beijing users and
// daily snapshots, group-B owns Hong Kong users, the complete article set and
// the weekly/monthly snapshots. Science articles are shared, technology
// articles live only in group-B.
func Default() *Topology {
	return &Topology{
		Groups: []Group{
			{
				Name:     "group-A",
				Regions:  []string{"Beijing"},
				Replicas: []string{"http://localhost:27001", "http://localhost:27002"},
			},
			{
				Name:     "group-B",
				Regions:  []string{"Hong Kong"},
				Replicas: []string{"http://localhost:27003", "http://localhost:27004"},
			},
		},
		Categories: CategoryPolicy{
			Shared:    []string{"science"},
			Exclusive: map[string]string{"technology": "group-B"},
		},
		Placement: Placement{
			Articles: "group-B",
			Daily:    "group-A",
			Weekly:   "group-B",
			Monthly:  "group-B",
		},
		PublicHost: "localhost",
	}
}

// Load reads a topology from a YAML file and validates it.
func Load(path string) (*Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read topology %s", path)
	}
	topo := &Topology{}
	if err := yaml.Unmarshal(raw, topo); err != nil {
		return nil, errors.Wrapf(err, "parse topology %s", path)
	}
	if topo.PublicHost == "" {
		topo.PublicHost = "localhost"
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return topo, nil
}

// Group returns the group with the given name, or nil if the topology does not
// define it.
func (t *Topology) Group(name string) *Group {
	for i := range t.Groups {
		if t.Groups[i].Name == name {
			return &t.Groups[i]
		}
	}
	return nil
}

// GroupNames returns the group names in declaration order. This order is the
// fixed global probe order used by content-pointer resolution.
func (t *Topology) GroupNames() []string {
	names := make([]string, 0, len(t.Groups))
	for _, g := range t.Groups {
		names = append(names, g.Name)
	}
	return names
}

// Validate checks structural invariants: at least one group, every group has a
// name and at least one replica, no region owned twice, and every placement
// and exclusive-category rule names a declared group.
func (t *Topology) Validate() error {
	if len(t.Groups) == 0 {
		return errors.New("topology: no shard groups defined")
	}
	seenGroup := make(map[string]bool)
	seenRegion := make(map[string]string)
	for _, g := range t.Groups {
		if g.Name == "" {
			return errors.New("topology: group with empty name")
		}
		if seenGroup[g.Name] {
			return errors.Errorf("topology: duplicate group %q", g.Name)
		}
		seenGroup[g.Name] = true
		if len(g.Replicas) == 0 {
			return errors.Errorf("topology: group %q has no replicas", g.Name)
		}
		for _, region := range g.Regions {
			if owner, ok := seenRegion[region]; ok {
				return errors.Errorf("topology: region %q owned by both %q and %q", region, owner, g.Name)
			}
			seenRegion[region] = g.Name
		}
	}
	for category, owner := range t.Categories.Exclusive {
		if !seenGroup[owner] {
			return errors.Errorf("topology: category %q assigned to unknown group %q", category, owner)
		}
	}
	for _, name := range []string{t.Placement.Articles, t.Placement.Daily, t.Placement.Weekly, t.Placement.Monthly} {
		if name == "" {
			return errors.New("topology: incomplete placement section")
		}
		if !seenGroup[name] {
			return errors.Errorf("topology: placement names unknown group %q", name)
		}
	}
	return nil
}
