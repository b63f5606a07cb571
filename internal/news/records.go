// Package news defines the entity records of the corpus — users, articles,
// read events — and the derived documents produced by the analytics pipelines.
// The JSON field names match the line-delimited bulk input format and the
// documents stored on the shard-group nodes.
package news

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Collection names used on the store nodes.
const (
	CollectionUser    = "user"
	CollectionArticle = "article"
	CollectionRead    = "read"
	CollectionBeRead  = "beread"
	CollectionRank    = "popular_rank"
	CollectionFileMap = "file_map"
)

// Granularity is the temporal bucketing unit for popularity ranking.
type Granularity string

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// Granularities lists all ranking granularities in pipeline order.
var Granularities = []Granularity{Daily, Weekly, Monthly}

// ParseGranularity validates a caller-supplied granularity tag.
func ParseGranularity(s string) (Granularity, bool) {
	switch Granularity(s) {
	case Daily, Weekly, Monthly:
		return Granularity(s), true
	}
	return "", false
}

// Millis is a millisecond-resolution epoch timestamp. The bulk input encodes
// timestamps as decimal strings; documents written by the pipelines use JSON
// numbers. Both forms decode.
type Millis int64

func (m *Millis) UnmarshalJSON(raw []byte) error {
	raw = bytes.Trim(raw, `"`)
	if len(raw) == 0 || string(raw) == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		// Imported documents round-trip through generic JSON and may come
		// back as floats.
		f, ferr := strconv.ParseFloat(string(raw), 64)
		if ferr != nil {
			return err
		}
		v = int64(f)
	}
	*m = Millis(v)
	return nil
}

// Time converts the timestamp to UTC calendar form.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// Flag is a boolean interaction marker encoded as "0"/"1" strings in the bulk
// input and as numbers or booleans in re-imported documents.
type Flag bool

func (f *Flag) UnmarshalJSON(raw []byte) error {
	s := string(bytes.Trim(raw, `"`))
	switch s {
	case "", "0", "false", "null":
		*f = false
	default:
		*f = true
	}
	return nil
}

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte(`"1"`), nil
	}
	return []byte(`"0"`), nil
}

// User is one reader profile. The home region decides the owning shard group.
type User struct {
	Timestamp Millis `json:"timestamp,omitempty"`
	ID        string `json:"id,omitempty"`
	UID       string `json:"uid"`
	Name      string `json:"name,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Dept      string `json:"dept,omitempty"`
	Grade     string `json:"grade,omitempty"`
	Language  string `json:"language,omitempty"`
	Region    string `json:"region"`
	Role      string `json:"role,omitempty"`
	Tags      string `json:"preferTags,omitempty"`
	Credits   string `json:"obtainedCredits,omitempty"`
}

// Article is one news article. Image and Video hold comma-separated content
// pointer names; Text holds the pointer to the body payload.
type Article struct {
	Timestamp Millis `json:"timestamp,omitempty"`
	ID        string `json:"id,omitempty"`
	AID       string `json:"aid"`
	Title     string `json:"title,omitempty"`
	Category  string `json:"category"`
	Abstract  string `json:"abstract,omitempty"`
	Tags      string `json:"articleTags,omitempty"`
	Authors   string `json:"authors,omitempty"`
	Language  string `json:"language,omitempty"`
	Text      string `json:"text"`
	Image     string `json:"image,omitempty"`
	Video     string `json:"video,omitempty"`
}

// ImageRefs returns the article's image pointer names with empties removed.
func (a *Article) ImageRefs() []string { return SplitRefs(a.Image) }

// VideoRefs returns the article's video pointer names with empties removed.
func (a *Article) VideoRefs() []string { return SplitRefs(a.Video) }

// SplitRefs splits a comma-separated pointer-name list, trimming whitespace
// and dropping empty entries.
func SplitRefs(s string) []string {
	var refs []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			refs = append(refs, part)
		}
	}
	return refs
}

// ReadEvent records one user reading one article, with interaction flags.
// An event is stored in the shard group owning its user.
type ReadEvent struct {
	Timestamp     Millis `json:"timestamp"`
	ID            string `json:"id,omitempty"`
	UID           string `json:"uid"`
	AID           string `json:"aid"`
	ReadTime      string `json:"readTimeLength,omitempty"`
	ReadSequence  string `json:"readSequence,omitempty"`
	CommentOrNot  Flag   `json:"commentOrNot"`
	AgreeOrNot    Flag   `json:"agreeOrNot"`
	ShareOrNot    Flag   `json:"shareOrNot"`
	CommentDetail string `json:"commentDetail,omitempty"`
}

// EngagementSummary is the derived per-article roll-up of read activity:
// counters plus full actor-id lists, and the sequence of read timestamps in
// RFC 3339 form. Recomputed from scratch by every aggregation run and
// upserted keyed by article id.
type EngagementSummary struct {
	ID             string   `json:"id"`
	AID            string   `json:"aid"`
	Timestamps     []string `json:"timestamp"`
	ReadNum        int      `json:"readNum"`
	ReadUIDList    []string `json:"readUidList"`
	CommentNum     int      `json:"commentNum"`
	CommentUIDList []string `json:"commentUidList"`
	AgreeNum       int      `json:"agreeNum"`
	AgreeUIDList   []string `json:"agreeUidList"`
	ShareNum       int      `json:"shareNum"`
	ShareUIDList   []string `json:"shareUidList"`
}

// RankedArticle is one entry of a popularity snapshot.
type RankedArticle struct {
	AID         string `json:"aid"`
	AccessCount int    `json:"accessCount"`
}

// PopularSnapshot is the derived top-5 article ranking for one time window at
// one granularity. Snapshot ids are sequential within a ranking run and are
// reassigned on rerun; the (granularity, window timestamp) pair is the stable
// upsert key.
type PopularSnapshot struct {
	ID          int             `json:"id"`
	Timestamp   int64           `json:"timestamp"`
	Granularity Granularity     `json:"temporalGranularity"`
	Articles    []RankedArticle `json:"articleList"`
}

// WindowStart returns the snapshot's window start in UTC calendar form.
func (s *PopularSnapshot) WindowStart() time.Time {
	return time.UnixMilli(s.Timestamp).UTC()
}

// ContentMapping binds a stable content name to its retrieval path. The full
// mapping table is fanned out, unpartitioned, to every shard group.
type ContentMapping struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ParseContentMapping parses one "name --> path" line of the mapping
// source-of-truth file. Returns false for blank or malformed lines.
func ParseContentMapping(line string) (ContentMapping, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return ContentMapping{}, false
	}
	name, path, ok := strings.Cut(line, " --> ")
	if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(path) == "" {
		return ContentMapping{}, false
	}
	return ContentMapping{Name: strings.TrimSpace(name), Path: strings.TrimSpace(path)}, true
}

// Decode unmarshals one JSON document into out, for use on raw documents
// returned by the shard router.
func Decode(raw json.RawMessage, out any) error {
	return json.Unmarshal(raw, out)
}
