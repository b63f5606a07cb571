package news

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReadEventDecoding verifies the bulk input form: string timestamps and
// "0"/"1" interaction flags.
func TestReadEventDecoding(t *testing.T) {
	line := `{"timestamp":"1506344400000","id":"r1","uid":"u7","aid":"a3",` +
		`"readTimeLength":"42","commentOrNot":"1","agreeOrNot":"0","shareOrNot":"1"}`

	var ev ReadEvent
	require.NoError(t, json.Unmarshal([]byte(line), &ev))

	assert.Equal(t, "u7", ev.UID)
	assert.Equal(t, "a3", ev.AID)
	assert.True(t, bool(ev.CommentOrNot))
	assert.False(t, bool(ev.AgreeOrNot))
	assert.True(t, bool(ev.ShareOrNot))
	assert.Equal(t, time.Date(2017, 9, 25, 13, 0, 0, 0, time.UTC), ev.Timestamp.Time())
}

// TestMillisNumericForms covers timestamps that round-tripped through generic
// JSON documents and come back as numbers or floats.
func TestMillisNumericForms(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
	}{
		{`1506344400000`, 1506344400000},
		{`"1506344400000"`, 1506344400000},
		{`1.5063444e+12`, 1506344400000},
		{`null`, 0},
	}
	for _, tc := range cases {
		var m Millis
		require.NoError(t, json.Unmarshal([]byte(tc.raw), &m), "raw=%s", tc.raw)
		assert.Equal(t, tc.want, int64(m), "raw=%s", tc.raw)
	}
}

func TestFlagRoundTrip(t *testing.T) {
	raw, err := json.Marshal(Flag(true))
	require.NoError(t, err)
	assert.Equal(t, `"1"`, string(raw))

	var f Flag
	require.NoError(t, json.Unmarshal([]byte(`true`), &f))
	assert.True(t, bool(f))
	require.NoError(t, json.Unmarshal([]byte(`"0"`), &f))
	assert.False(t, bool(f))
}

func TestSplitRefs(t *testing.T) {
	assert.Equal(t, []string{"image_a1_0.jpg", "image_a1_1.jpg"}, SplitRefs("image_a1_0.jpg,image_a1_1.jpg,"))
	assert.Equal(t, []string{"v_a1.flv"}, SplitRefs(" v_a1.flv "))
	assert.Nil(t, SplitRefs(""))
	assert.Nil(t, SplitRefs(" , ,"))
}

func TestParseContentMapping(t *testing.T) {
	m, ok := ParseContentMapping("text_a1.txt --> http://0.0.0.0:20000/text_a1.txt\n")
	require.True(t, ok)
	assert.Equal(t, "text_a1.txt", m.Name)
	assert.Equal(t, "http://0.0.0.0:20000/text_a1.txt", m.Path)

	_, ok = ParseContentMapping("")
	assert.False(t, ok)
	_, ok = ParseContentMapping("no separator here")
	assert.False(t, ok)
	_, ok = ParseContentMapping(" --> http://x")
	assert.False(t, ok)
}

func TestParseGranularity(t *testing.T) {
	g, ok := ParseGranularity("weekly")
	require.True(t, ok)
	assert.Equal(t, Weekly, g)

	_, ok = ParseGranularity("hourly")
	assert.False(t, ok)
}

func TestPopularSnapshotWindowStart(t *testing.T) {
	s := PopularSnapshot{Timestamp: 1506297600000, Granularity: Daily}
	assert.Equal(t, time.Date(2017, 9, 25, 0, 0, 0, 0, time.UTC), s.WindowStart())
}
