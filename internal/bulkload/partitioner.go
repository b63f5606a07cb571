// Package bulkload implements the batch ingestion pipeline: splitting the raw
// entity streams into per-shard-group record sets, fanning out the content
// mapping table, and triggering parallel imports into the backing store
// containers.
package bulkload

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dreamware/newsgrid/internal/news"
	"github.com/dreamware/newsgrid/internal/partition"
)

// Inputs names the source-of-truth files a partitioning run consumes. All of
// them must exist before any output is written; a missing input is a fatal
// setup fault.
type Inputs struct {
	Users    string // line-delimited user records
	Articles string // line-delimited article records
	Reads    string // line-delimited read events
	Mapping  string // "name --> path" content mapping file
}

// Drop records one rejected input record: a data-quality fault that was
// reported and skipped without stopping the run.
type Drop struct {
	Stream string `json:"stream"`
	Line   int    `json:"line"`
	Key    string `json:"key,omitempty"`
	Reason string `json:"reason"`
}

// StreamStats counts how one input stream was routed.
type StreamStats struct {
	Total   int            `json:"total"`
	Routed  map[string]int `json:"routed"` // group -> records written
	Dropped int            `json:"dropped"`
}

// Report summarizes a partitioning run. Batch runs always finish and report
// what they skipped instead of stopping at the first bad record.
type Report struct {
	RunID    uuid.UUID   `json:"runId"`
	Users    StreamStats `json:"users"`
	Articles StreamStats `json:"articles"`
	Reads    StreamStats `json:"reads"`
	Mappings int         `json:"mappings"`
	Dropped  []Drop      `json:"dropped,omitempty"`
}

// Partitioner splits raw record streams into per-group output files according
// to the partition policy.
type Partitioner struct {
	policy *partition.Policy
	outDir string
	log    *zap.Logger
}

// NewPartitioner creates a Partitioner writing per-group files under outDir
// (one subdirectory per shard group).
func NewPartitioner(policy *partition.Policy, outDir string, log *zap.Logger) *Partitioner {
	return &Partitioner{policy: policy, outDir: outDir, log: log}
}

// Run partitions the inputs and returns the run report plus the user
// membership registry built along the way. Output files are deterministic for
// a fixed input: records keep their input order within each group.
func (p *Partitioner) Run(ctx context.Context, in Inputs) (*Report, *partition.Membership, error) {
	for _, path := range []string{in.Users, in.Articles, in.Reads, in.Mapping} {
		if _, err := os.Stat(path); err != nil {
			return nil, nil, errors.Wrap(err, "bulkload: missing input")
		}
	}

	out, err := newGroupWriters(p.outDir, p.policy.AllGroups())
	if err != nil {
		return nil, nil, err
	}
	defer out.close()

	report := &Report{
		RunID:    uuid.New(),
		Users:    newStreamStats(),
		Articles: newStreamStats(),
		Reads:    newStreamStats(),
	}
	membership := partition.NewMembership()

	if report.Mappings, err = p.refreshMapping(in.Mapping, out); err != nil {
		return nil, nil, err
	}
	if err := p.splitUsers(ctx, in.Users, out, membership, report); err != nil {
		return nil, nil, err
	}
	if err := p.splitArticles(ctx, in.Articles, out, report); err != nil {
		return nil, nil, err
	}
	if err := p.splitReads(ctx, in.Reads, out, membership, report); err != nil {
		return nil, nil, err
	}
	if err := out.flush(); err != nil {
		return nil, nil, err
	}

	p.log.Info("partitioning finished",
		zap.String("runId", report.RunID.String()),
		zap.Int("users", report.Users.Total),
		zap.Int("articles", report.Articles.Total),
		zap.Int("reads", report.Reads.Total),
		zap.Int("dropped", len(report.Dropped)))
	return report, membership, nil
}

// refreshMapping rebuilds the content-pointer table from the mapping file and
// fans the complete table out to every group, unpartitioned.
func (p *Partitioner) refreshMapping(path string, out *groupWriters) (int, error) {
	var mappings []news.ContentMapping
	err := eachLine(path, func(line []byte, lineNum int) {
		if m, ok := news.ParseContentMapping(string(line)); ok {
			mappings = append(mappings, m)
		}
	})
	if err != nil {
		return 0, err
	}
	for _, m := range mappings {
		raw, err := json.Marshal(m)
		if err != nil {
			return 0, err
		}
		for _, group := range p.policy.AllGroups() {
			if err := out.write(group, news.CollectionFileMap, raw); err != nil {
				return 0, err
			}
		}
	}
	return len(mappings), nil
}

func (p *Partitioner) splitUsers(ctx context.Context, path string, out *groupWriters, membership *partition.Membership, report *Report) error {
	return p.split(ctx, path, "users", &report.Users, report, func(line []byte, lineNum int) *Drop {
		var rec struct {
			UID    string `json:"uid"`
			Region string `json:"region"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			return &Drop{Stream: "users", Line: lineNum, Reason: "malformed record: " + err.Error()}
		}
		group, err := p.policy.GroupForRegion(rec.Region)
		if err != nil {
			// Invalid users never enter a membership set, so their read
			// events will be dropped as orphans later.
			return &Drop{Stream: "users", Line: lineNum, Key: rec.UID, Reason: err.Error()}
		}
		if err := out.write(group, news.CollectionUser, line); err != nil {
			return &Drop{Stream: "users", Line: lineNum, Key: rec.UID, Reason: err.Error()}
		}
		membership.Assign(rec.UID, group)
		report.Users.Routed[group]++
		return nil
	})
}

func (p *Partitioner) splitArticles(ctx context.Context, path string, out *groupWriters, report *Report) error {
	return p.split(ctx, path, "articles", &report.Articles, report, func(line []byte, lineNum int) *Drop {
		var rec struct {
			AID      string `json:"aid"`
			Category string `json:"category"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			return &Drop{Stream: "articles", Line: lineNum, Reason: "malformed record: " + err.Error()}
		}
		groups, err := p.policy.GroupsForCategory(rec.Category)
		if err != nil {
			return &Drop{Stream: "articles", Line: lineNum, Key: rec.AID, Reason: err.Error()}
		}
		for _, group := range groups {
			if err := out.write(group, news.CollectionArticle, line); err != nil {
				return &Drop{Stream: "articles", Line: lineNum, Key: rec.AID, Reason: err.Error()}
			}
			report.Articles.Routed[group]++
		}
		return nil
	})
}

func (p *Partitioner) splitReads(ctx context.Context, path string, out *groupWriters, membership *partition.Membership, report *Report) error {
	return p.split(ctx, path, "reads", &report.Reads, report, func(line []byte, lineNum int) *Drop {
		var rec struct {
			UID string `json:"uid"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			return &Drop{Stream: "reads", Line: lineNum, Reason: "malformed record: " + err.Error()}
		}
		group, ok := membership.GroupFor(rec.UID)
		if !ok {
			return &Drop{Stream: "reads", Line: lineNum, Key: rec.UID, Reason: "event references unassigned user"}
		}
		if err := out.write(group, news.CollectionRead, line); err != nil {
			return &Drop{Stream: "reads", Line: lineNum, Key: rec.UID, Reason: err.Error()}
		}
		report.Reads.Routed[group]++
		return nil
	})
}

// split streams one input file through route, accounting totals and drops.
func (p *Partitioner) split(ctx context.Context, path, stream string, stats *StreamStats, report *Report, route func(line []byte, lineNum int) *Drop) error {
	return eachLine(path, func(line []byte, lineNum int) {
		if ctx.Err() != nil {
			return
		}
		stats.Total++
		if drop := route(line, lineNum); drop != nil {
			stats.Dropped++
			report.Dropped = append(report.Dropped, *drop)
			p.log.Error("record dropped",
				zap.String("stream", drop.Stream),
				zap.Int("line", drop.Line),
				zap.String("key", drop.Key),
				zap.String("reason", drop.Reason))
		}
	})
}

func newStreamStats() StreamStats {
	return StreamStats{Routed: make(map[string]int)}
}

// eachLine streams a file line by line, skipping blanks. Lines are passed as
// raw bytes; callers must not retain them across calls.
func eachLine(path string, fn func(line []byte, lineNum int)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		fn(line, lineNum)
	}
	return errors.Wrapf(scanner.Err(), "read %s", path)
}

// groupWriters manages one output file per (group, collection) pair.
type groupWriters struct {
	files   map[string]*os.File
	writers map[string]*bufio.Writer
	outDir  string
}

func newGroupWriters(outDir string, groups []string) (*groupWriters, error) {
	gw := &groupWriters{
		files:   make(map[string]*os.File),
		writers: make(map[string]*bufio.Writer),
		outDir:  outDir,
	}
	for _, group := range groups {
		if err := os.MkdirAll(filepath.Join(outDir, group), 0o755); err != nil {
			gw.close()
			return nil, errors.Wrap(err, "create output dir")
		}
		for _, collection := range []string{news.CollectionUser, news.CollectionArticle, news.CollectionRead, news.CollectionFileMap} {
			path := OutputFile(outDir, group, collection)
			f, err := os.Create(path)
			if err != nil {
				gw.close()
				return nil, errors.Wrapf(err, "create %s", path)
			}
			key := group + "/" + collection
			gw.files[key] = f
			gw.writers[key] = bufio.NewWriter(f)
		}
	}
	return gw, nil
}

// OutputFile returns the path of one per-group output stream.
func OutputFile(outDir, group, collection string) string {
	return filepath.Join(outDir, group, collection+".jsonl")
}

func (gw *groupWriters) write(group, collection string, line []byte) error {
	w, ok := gw.writers[group+"/"+collection]
	if !ok {
		return fmt.Errorf("no output stream for %s/%s", group, collection)
	}
	if _, err := w.Write(line); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

func (gw *groupWriters) flush() error {
	for _, w := range gw.writers {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (gw *groupWriters) close() {
	for _, w := range gw.writers {
		_ = w.Flush()
	}
	for _, f := range gw.files {
		_ = f.Close()
	}
}
