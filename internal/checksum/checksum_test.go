package checksum

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/promptsync/internal/model"
)

func TestSumIsDeterministicAcrossKeyOrder(t *testing.T) {
	t.Parallel()

	var a, b map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"title":"x","body":{"z":1,"a":[1,2,{"q":true,"p":null}]}}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"body":{"a":[1,2,{"p":null,"q":true}],"z":1},"title":"x"}`), &b))

	sumA, err := Sum(a)
	require.NoError(t, err)
	sumB, err := Sum(b)
	require.NoError(t, err)

	assert.Equal(t, sumA, sumB)
	assert.Len(t, sumA, 64)
}

func TestSumIgnoresVolatileFields(t *testing.T) {
	t.Parallel()

	base := map[string]any{"text": "hello", "nested": map[string]any{"k": "v"}}
	noisy := map[string]any{
		"text":      "hello",
		"createdAt": "2024-01-01T00:00:00Z",
		"updatedAt": "2024-06-01T00:00:00Z",
		"syncTime":  12345,
		"version":   7,
		"checksum":  "abc",
		"nested":    map[string]any{"k": "v", "updatedAt": "2025-01-01T00:00:00Z"},
	}

	sumBase, err := Sum(base)
	require.NoError(t, err)
	sumNoisy, err := Sum(noisy)
	require.NoError(t, err)
	assert.Equal(t, sumBase, sumNoisy)
}

func TestSumDetectsContentChanges(t *testing.T) {
	t.Parallel()

	a, err := Sum(map[string]any{"text": "hello"})
	require.NoError(t, err)
	b, err := Sum(map[string]any{"text": "hello!"})
	require.NoError(t, err)
	c, err := Sum(map[string]any{"list": []any{"a", "b"}})
	require.NoError(t, err)
	d, err := Sum(map[string]any{"list": []any{"b", "a"}})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, c, d, "list order is significant content")
}

func TestSumStructAndMapAgree(t *testing.T) {
	t.Parallel()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	fromStruct, err := Sum(payload{Name: "n", Count: 3})
	require.NoError(t, err)
	fromMap, err := Sum(map[string]any{"count": 3, "name": "n"})
	require.NoError(t, err)
	assert.Equal(t, fromStruct, fromMap)
}

func TestSumDoesNotEscapeHTML(t *testing.T) {
	t.Parallel()

	canonical, err := Canonicalize(map[string]any{"s": "<a&b>"})
	require.NoError(t, err)
	data, err := Encode(canonical)
	require.NoError(t, err)
	assert.Equal(t, `{"s":"<a&b>"}`, string(data))
}

func TestItemChecksum(t *testing.T) {
	t.Parallel()

	now := time.Now()
	item := model.DataItem{
		ID:      "p1",
		Type:    model.TypePrompt,
		Title:   "Greeting",
		Content: map[string]any{"content": "Say hi"},
		Metadata: model.ItemMetadata{
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
			Tags:      []string{"b", "a", "a"},
		},
	}

	base, err := Item(item)
	require.NoError(t, err)

	t.Run("timestamps and version do not matter", func(t *testing.T) {
		t.Parallel()
		other := item.Clone()
		other.Metadata.UpdatedAt = now.Add(time.Hour)
		other.Metadata.Version = 9
		other.Metadata.DeviceID = "elsewhere"
		sum, err := Item(other)
		require.NoError(t, err)
		assert.Equal(t, base, sum)
	})

	t.Run("tag order and duplicates do not matter", func(t *testing.T) {
		t.Parallel()
		other := item.Clone()
		other.Metadata.Tags = []string{"a", "b"}
		sum, err := Item(other)
		require.NoError(t, err)
		assert.Equal(t, base, sum)
	})

	t.Run("tombstone changes checksum", func(t *testing.T) {
		t.Parallel()
		other := item.Clone()
		other.Metadata.Deleted = true
		sum, err := Item(other)
		require.NoError(t, err)
		assert.NotEqual(t, base, sum)
	})

	t.Run("title changes checksum", func(t *testing.T) {
		t.Parallel()
		other := item.Clone()
		other.Title = "Farewell"
		sum, err := Item(other)
		require.NoError(t, err)
		assert.NotEqual(t, base, sum)
	})
}

func TestSnapshotChecksumIsOrderIndependent(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	items := make([]model.DataItem, 0, 20)
	for i := 0; i < 20; i++ {
		items = append(items, model.DataItem{
			ID: string(rune('a' + i)),
			Metadata: model.ItemMetadata{
				Checksum:  string(rune('A' + i)),
				UpdatedAt: base.Add(time.Duration(i) * time.Minute),
			},
		})
	}

	want := Snapshot(items)

	r := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := append([]model.DataItem(nil), items...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Snapshot(shuffled))
	}

	changed := append([]model.DataItem(nil), items...)
	changed[3].Metadata.UpdatedAt = changed[3].Metadata.UpdatedAt.Add(time.Second)
	assert.NotEqual(t, want, Snapshot(changed))
}

func TestSnapshotChecksumIgnoresTimeZone(t *testing.T) {
	t.Parallel()

	utc := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("X", 3*3600))

	a := Snapshot([]model.DataItem{{ID: "1", Metadata: model.ItemMetadata{Checksum: "c", UpdatedAt: utc}}})
	b := Snapshot([]model.DataItem{{ID: "1", Metadata: model.ItemMetadata{Checksum: "c", UpdatedAt: local}}})
	assert.Equal(t, a, b)
}

func TestNormalizeTags(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{}, NormalizeTags(nil))
	assert.Equal(t, []string{"a", "b", "c"}, NormalizeTags([]string{"c", "a", "b", "a"}))
}
