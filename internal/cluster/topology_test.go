package cluster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultTopology verifies the stock two-group topology is valid and keeps
// the documented placement: daily snapshots in group-A, everything else in
// group-B.
func TestDefaultTopology(t *testing.T) {
	topo := Default()
	require.NoError(t, topo.Validate())

	assert.Equal(t, []string{"group-A", "group-B"}, topo.GroupNames())
	assert.Equal(t, "group-B", topo.Placement.Articles)
	assert.Equal(t, "group-A", topo.Placement.Daily)
	assert.Equal(t, "group-B", topo.Placement.Weekly)
	assert.Equal(t, "group-B", topo.Placement.Monthly)

	groupA := topo.Group("group-A")
	require.NotNil(t, groupA)
	assert.Equal(t, []string{"Beijing"}, groupA.Regions)
	require.Len(t, groupA.Replicas, 2)

	assert.Nil(t, topo.Group("group-C"))
}

// TestLoadTopology round-trips a topology through a YAML file.
func TestLoadTopology(t *testing.T) {
	const raw = `
groups:
  - name: east
    regions: ["Beijing"]
    replicas: ["http://10.0.0.1:9001", "http://10.0.0.2:9001"]
  - name: west
    regions: ["Hong Kong"]
    replicas: ["http://10.0.1.1:9001"]
categories:
  shared: ["science"]
  exclusive:
    technology: west
placement:
  articles: west
  daily: east
  weekly: west
  monthly: west
`
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	topo, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"east", "west"}, topo.GroupNames())
	assert.Equal(t, "localhost", topo.PublicHost, "public host should default")
	assert.Equal(t, "west", topo.Categories.Exclusive["technology"])
}

// TestTopologyValidate exercises the structural invariants one by one.
func TestTopologyValidate(t *testing.T) {
	valid := func() *Topology { return Default() }

	t.Run("no groups", func(t *testing.T) {
		topo := &Topology{}
		assert.Error(t, topo.Validate())
	})

	t.Run("duplicate group name", func(t *testing.T) {
		topo := valid()
		topo.Groups = append(topo.Groups, topo.Groups[0])
		assert.Error(t, topo.Validate())
	})

	t.Run("group without replicas", func(t *testing.T) {
		topo := valid()
		topo.Groups[0].Replicas = nil
		assert.Error(t, topo.Validate())
	})

	t.Run("region owned twice", func(t *testing.T) {
		topo := valid()
		topo.Groups[1].Regions = append(topo.Groups[1].Regions, "Beijing")
		assert.Error(t, topo.Validate())
	})

	t.Run("exclusive category names unknown group", func(t *testing.T) {
		topo := valid()
		topo.Categories.Exclusive["sports"] = "group-Z"
		assert.Error(t, topo.Validate())
	})

	t.Run("placement names unknown group", func(t *testing.T) {
		topo := valid()
		topo.Placement.Daily = "group-Z"
		assert.Error(t, topo.Validate())
	})

	t.Run("incomplete placement", func(t *testing.T) {
		topo := valid()
		topo.Placement.Monthly = ""
		assert.Error(t, topo.Validate())
	})
}
