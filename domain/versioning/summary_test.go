package versioning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	current := newOrder()
	updated := newOrder()
	updated.Items = []*Item{item(intPtr(0), "a"), item(intPtr(2), "c2"), item(nil, "d")}
	updated.Attributes["size"] = "XL"
	updated.Name = "renamed"

	version, err := newTestExtractor().Extract(NewDiffPair(current, updated))
	require.NoError(t, err)

	got := Summarize(version)

	assert.Equal(t, 1, got.Added)
	assert.Equal(t, 1, got.Removed)
	assert.Equal(t, 3, got.Updated)
	assert.Equal(t, []string{"attributes", "items", "name"}, got.Fields)
}

func TestSummarize_EmptyAndMalformed(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
	assert.Equal(t, Summary{}, Summarize(&Version{}))

	got := Summarize(&Version{ObjectModificationMap: map[string]ObjectModification{
		"items[": {},
		"-codes": Modification(Text("[1]"), Absent()),
	}})
	assert.Equal(t, Summary{Removed: 1, Fields: []string{"codes"}}, got)
}

func TestChecksum(t *testing.T) {
	mods := map[string]ObjectModification{
		"name":      Modification(Scalar("a"), Scalar("b")),
		"-items[1]": Modification(Text(`{"v":"b"}`), Absent()),
	}
	first := &Version{ID: "1", CreatedAt: time.Unix(0, 0), ObjectModificationMap: mods}
	second := &Version{ID: "2", CreatedAt: time.Unix(99, 0), ObjectModificationMap: map[string]ObjectModification{
		"-items[1]": Modification(Text(`{"v":"b"}`), Absent()),
		"name":      Modification(Scalar("a"), Scalar("b")),
	}}
	third := &Version{ObjectModificationMap: map[string]ObjectModification{
		"name": Modification(Scalar("a"), Scalar("c")),
	}}

	a, err := Checksum(first)
	require.NoError(t, err)
	b, err := Checksum(second)
	require.NoError(t, err)
	c, err := Checksum(third)
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = Checksum(nil)
	assert.Error(t, err)
}

func TestRetentionPolicy_Expired(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	old := &Version{CreatedAt: now.Add(-31 * 24 * time.Hour)}
	fresh := &Version{CreatedAt: now.Add(-time.Hour)}

	policy := DefaultRetentionPolicy()
	assert.True(t, policy.Expired(old, now))
	assert.False(t, policy.Expired(fresh, now))
	assert.False(t, RetentionPolicy{}.Expired(old, now))
}
