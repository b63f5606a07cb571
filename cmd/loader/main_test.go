package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/newsgrid/internal/news"
	"github.com/dreamware/newsgrid/internal/server"
	"github.com/dreamware/newsgrid/internal/storage"
)

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"partition", "import", "engagement", "rank"}, cfg.stages)
	assert.Equal(t, "data", cfg.input)
	assert.Equal(t, "staging", cfg.out)

	cfg, err = parseFlags([]string{"-stages", "engagement, rank", "-out", "/tmp/batch"})
	require.NoError(t, err)
	assert.Equal(t, []string{"engagement", "rank"}, cfg.stages)
	assert.Equal(t, "/tmp/batch", cfg.out)

	_, err = parseFlags([]string{"-stages", "partition,reticulate"})
	assert.ErrorContains(t, err, "reticulate")

	_, err = parseFlags([]string{"-stages", ","})
	assert.ErrorContains(t, err, "no stages")
}

func TestRunPartitionStage(t *testing.T) {
	input := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(input, name), []byte(content), 0o600))
	}
	write("user.dat", `{"uid":"u1","region":"Beijing"}`+"\n")
	write("article.dat", `{"aid":"a1","category":"science","text":"text_a1.txt"}`+"\n")
	write("read.dat", `{"uid":"u1","aid":"a1","timestamp":"1506340000000"}`+"\n")
	write("mapping.txt", "text_a1.txt --> http://0.0.0.0:20000/text_a1.txt\n")

	cfg := &config{input: input, out: t.TempDir(), stages: []string{"partition"}}
	require.NoError(t, run(context.Background(), zaptest.NewLogger(t), cfg))

	// Shared-category articles fan out to both groups.
	for _, group := range []string{"group-A", "group-B"} {
		raw, err := os.ReadFile(filepath.Join(cfg.out, group, "article.jsonl"))
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"aid":"a1"`)
	}
}

func TestRunPartitionAndImportStages(t *testing.T) {
	// One live replica per group, wired in through a topology file.
	stores := make(map[string]*storage.MemoryStore)
	endpoints := make(map[string]string)
	for _, group := range []string{"east", "west"} {
		store := storage.NewMemoryStore()
		ts := httptest.NewServer(server.New(store, zaptest.NewLogger(t)).Handler())
		t.Cleanup(ts.Close)
		stores[group] = store
		endpoints[group] = ts.URL
	}
	topoYAML := fmt.Sprintf(`
groups:
  - name: east
    regions: ["Beijing"]
    replicas: ["%s"]
  - name: west
    regions: ["Hong Kong"]
    replicas: ["%s"]
categories:
  shared: ["science"]
  exclusive:
    technology: west
placement:
  articles: west
  daily: east
  weekly: west
  monthly: west
`, endpoints["east"], endpoints["west"])
	topoPath := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(topoPath, []byte(topoYAML), 0o600))

	input := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(input, name), []byte(content), 0o600))
	}
	write("user.dat", `{"uid":"u1","region":"Beijing"}`+"\n")
	write("article.dat", `{"aid":"a1","category":"science","text":"text_a1.txt"}`+"\n")
	write("read.dat", `{"uid":"u1","aid":"a1","timestamp":"1506340000000"}`+"\n")
	write("mapping.txt", "text_a1.txt --> http://0.0.0.0:20000/text_a1.txt\n")

	cfg := &config{
		topology: topoPath,
		input:    input,
		out:      t.TempDir(),
		stages:   []string{"partition", "import"},
	}
	require.NoError(t, run(context.Background(), zaptest.NewLogger(t), cfg))

	// The shared-category article landed in both groups' stores; the user
	// only in its region's group.
	for _, group := range []string{"east", "west"} {
		docs, err := stores[group].Find(news.CollectionArticle, storage.Filter{})
		require.NoError(t, err)
		assert.Len(t, docs, 1, "group %s", group)
	}
	users, err := stores["east"].Find(news.CollectionUser, storage.Filter{})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	users, err = stores["west"].Find(news.CollectionUser, storage.Filter{})
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestRunFailsOnMissingInput(t *testing.T) {
	cfg := &config{input: t.TempDir(), out: t.TempDir(), stages: []string{"partition"}}
	err := run(context.Background(), zaptest.NewLogger(t), cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "partition")
}

func TestRunFailsOnBadTopologyPath(t *testing.T) {
	cfg := &config{
		topology: filepath.Join(t.TempDir(), "missing.yaml"),
		stages:   []string{"rank"},
	}
	err := run(context.Background(), zaptest.NewLogger(t), cfg)
	assert.ErrorContains(t, err, "topology")
}
