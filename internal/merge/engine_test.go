package merge

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/promptsync/internal/checksum"
	"github.com/stacklok/promptsync/internal/model"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return base.Add(time.Duration(seconds) * time.Second)
}

func item(t *testing.T, id string, updated int, content map[string]any, mutate ...func(*model.DataItem)) model.DataItem {
	t.Helper()
	it := model.DataItem{
		ID:      id,
		Type:    model.TypePrompt,
		Title:   "Prompt " + id,
		Content: content,
		Metadata: model.ItemMetadata{
			CreatedAt:      at(0),
			UpdatedAt:      at(updated),
			Version:        1,
			DeviceID:       "device-a",
			LastModifiedBy: "device-a",
		},
	}
	for _, m := range mutate {
		m(&it)
	}
	sum, err := checksum.Item(it)
	require.NoError(t, err)
	it.Metadata.Checksum = sum
	return it
}

func deleted(it *model.DataItem) { it.Metadata.Deleted = true }

func version(v int) func(*model.DataItem) {
	return func(it *model.DataItem) { it.Metadata.Version = v }
}

func by(device string) func(*model.DataItem) {
	return func(it *model.DataItem) {
		it.Metadata.DeviceID = device
		it.Metadata.LastModifiedBy = device
	}
}

func newEngine() *Engine {
	return NewEngine("device-local", WithClock(func() time.Time { return at(1000) }))
}

func TestMergeWithItselfIsNoop(t *testing.T) {
	t.Parallel()

	items := []model.DataItem{
		item(t, "a", 1, map[string]any{"content": "one"}),
		item(t, "b", 2, map[string]any{"content": "two"}),
		item(t, "c", 3, map[string]any{"content": "three"}, deleted),
	}
	res := newEngine().Merge(Input{Local: items, Remote: items})

	assert.Zero(t, res.Created)
	assert.Zero(t, res.Updated)
	assert.Zero(t, res.Deleted)
	assert.Empty(t, res.Conflicts)
	assert.Empty(t, res.LocalChanges)
	assert.Len(t, res.Items, 3)
	assert.Equal(t, 3, res.Processed())
}

func TestMergeDisjointSets(t *testing.T) {
	t.Parallel()

	local := []model.DataItem{
		item(t, "a", 1, map[string]any{"content": "a"}),
		item(t, "b", 1, map[string]any{"content": "b"}),
	}
	remote := []model.DataItem{
		item(t, "c", 1, map[string]any{"content": "c"}, by("device-b")),
		item(t, "d", 1, map[string]any{"content": "d"}, by("device-b")),
	}
	res := newEngine().Merge(Input{Local: local, Remote: remote})

	require.Len(t, res.Items, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(res.Items))
	assert.Equal(t, 2, res.Created)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, []string{"c", "d"}, ids(res.LocalChanges))
}

func TestNewerSideWins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		local        model.DataItem
		remote       model.DataItem
		wantContent  string
		wantStrategy model.Strategy
		wantUpdated  int
		wantVersion  int
	}{
		{
			name:         "remote newer",
			local:        item(t, "p1", 10, map[string]any{"content": "H1"}, version(4)),
			remote:       item(t, "p1", 20, map[string]any{"content": "H2"}, version(2), by("device-b")),
			wantContent:  "H2",
			wantStrategy: model.StrategyRemoteWins,
			wantUpdated:  1,
			wantVersion:  4,
		},
		{
			name:         "local newer",
			local:        item(t, "p1", 30, map[string]any{"content": "mine"}, version(1)),
			remote:       item(t, "p1", 20, map[string]any{"content": "theirs"}, version(3), by("device-b")),
			wantContent:  "mine",
			wantStrategy: model.StrategyLocalWins,
			wantVersion:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := newEngine().Merge(Input{
				Local:  []model.DataItem{tt.local},
				Remote: []model.DataItem{tt.remote},
			})
			require.Len(t, res.Items, 1)
			got := res.Items[0]
			assert.Equal(t, tt.wantContent, got.Content["content"])
			assert.Equal(t, tt.wantVersion, got.Metadata.Version)
			assert.GreaterOrEqual(t, got.Metadata.Version, tt.local.Metadata.Version, "version never decreases")
			assert.GreaterOrEqual(t, got.Metadata.Version, tt.remote.Metadata.Version, "version never decreases")
			assert.Equal(t, tt.wantUpdated, res.Updated)
			require.Len(t, res.Conflicts, 1)
			assert.Equal(t, tt.wantStrategy, res.Conflicts[0].Strategy)
			assert.Equal(t, "p1", res.Conflicts[0].ItemID)
			assert.Equal(t, at(1000), res.Conflicts[0].Timestamp)
		})
	}
}

func TestTombstoneAgainstLiveEdit(t *testing.T) {
	t.Parallel()

	t.Run("later deletion wins", func(t *testing.T) {
		t.Parallel()
		local := item(t, "p1", 10, map[string]any{"content": "x"}, deleted, version(2))
		remote := item(t, "p1", 5, map[string]any{"content": "x"}, version(2), by("device-b"))

		res := newEngine().Merge(Input{Local: []model.DataItem{local}, Remote: []model.DataItem{remote}})
		require.Len(t, res.Items, 1)
		assert.True(t, res.Items[0].Metadata.Deleted)
		assert.Zero(t, res.Restored)
	})

	t.Run("later live edit restores", func(t *testing.T) {
		t.Parallel()
		local := item(t, "p1", 10, map[string]any{"content": "edited"}, version(2))
		remote := item(t, "p1", 5, map[string]any{"content": "x"}, deleted, version(3), by("device-b"))

		res := newEngine().Merge(Input{Local: []model.DataItem{local}, Remote: []model.DataItem{remote}})
		require.Len(t, res.Items, 1)
		got := res.Items[0]
		assert.False(t, got.Metadata.Deleted)
		assert.Equal(t, 4, got.Metadata.Version)
		assert.Equal(t, "device-a", got.Metadata.LastModifiedBy)
		assert.Equal(t, 1, res.Restored)
		assert.Equal(t, []string{"p1"}, ids(res.LocalChanges), "version bump is written back")
	})

	t.Run("remote live edit restores a local tombstone", func(t *testing.T) {
		t.Parallel()
		local := item(t, "p1", 5, map[string]any{"content": "x"}, deleted)
		remote := item(t, "p1", 10, map[string]any{"content": "revived"}, by("device-b"))

		res := newEngine().Merge(Input{Local: []model.DataItem{local}, Remote: []model.DataItem{remote}})
		got := res.Items[0]
		assert.False(t, got.Metadata.Deleted)
		assert.Equal(t, "revived", got.Content["content"])
		assert.Equal(t, 2, got.Metadata.Version)
		assert.Equal(t, "device-b", got.Metadata.LastModifiedBy)
		assert.Equal(t, model.StrategyRemoteWins, res.Conflicts[0].Strategy)
	})

	t.Run("tie keeps the deletion", func(t *testing.T) {
		t.Parallel()
		local := item(t, "p1", 10, map[string]any{"content": "x"})
		remote := item(t, "p1", 10, map[string]any{"content": "x"}, deleted, by("device-b"))

		res := newEngine().Merge(Input{Local: []model.DataItem{local}, Remote: []model.DataItem{remote}})
		assert.True(t, res.Items[0].Metadata.Deleted)
		assert.Equal(t, 1, res.Deleted)
		assert.Equal(t, []string{"p1"}, ids(res.LocalChanges))
	})
}

func TestRemoteOnlyItems(t *testing.T) {
	t.Parallel()

	remote := []model.DataItem{
		item(t, "new", 1, map[string]any{"content": "n"}, by("device-b")),
		item(t, "purged", 1, map[string]any{"content": "p"}, by("device-b")),
		item(t, "gone", 1, map[string]any{"content": "g"}, deleted, by("device-b")),
	}
	res := newEngine().Merge(Input{
		Remote:          remote,
		KnownTombstones: map[string]struct{}{"purged": {}},
	})

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{"gone", "new"}, ids(res.Items))
	assert.Equal(t, []string{"gone", "new"}, ids(res.LocalChanges))
}

func TestEqualTimestampMerge(t *testing.T) {
	t.Parallel()

	local := item(t, "p1", 10, map[string]any{
		"content":    "Summarize the text",
		"variables":  []any{"text"},
		"tags":       []any{"writing"},
		"categoryId": "c1",
		"extra":      map[string]any{"a": "short", "list": []any{1, 2}},
	}, version(3), func(it *model.DataItem) {
		it.Metadata.Tags = []string{"work"}
		it.Title = "Sum"
	})
	remote := item(t, "p1", 10, map[string]any{
		"content":     "Summarize",
		"variables":   []any{"text", "language"},
		"tags":        []any{"writing", "english"},
		"categoryId":  nil,
		"description": "added remotely",
		"extra":       map[string]any{"a": "much longer", "list": []any{2, 3}},
	}, version(5), by("device-b"), func(it *model.DataItem) {
		it.Metadata.Tags = []string{"personal", "work"}
		it.Title = "Summary"
	})

	res := newEngine().Merge(Input{Local: []model.DataItem{local}, Remote: []model.DataItem{remote}})
	require.Empty(t, res.Errors)
	require.Len(t, res.Items, 1)
	got := res.Items[0]

	assert.Equal(t, "Summarize the text", got.Content["content"], "longer text wins")
	assert.Len(t, got.Content["variables"], 2, "longer list wins")
	assert.Len(t, got.Content["tags"], 2, "tag sets are unioned")
	assert.Equal(t, "c1", got.Content["categoryId"], "defined scalar wins")
	assert.Equal(t, "added remotely", got.Content["description"])
	extra := got.Content["extra"].(map[string]any)
	assert.Equal(t, "much longer", extra["a"])
	assert.Len(t, extra["list"], 3, "generic arrays are unioned")
	assert.Equal(t, "Summary", got.Title)
	assert.Equal(t, []string{"personal", "work"}, got.Metadata.Tags)

	assert.Equal(t, 6, got.Metadata.Version)
	assert.Equal(t, "device-local", got.Metadata.LastModifiedBy)
	sum, err := checksum.Item(got)
	require.NoError(t, err)
	assert.Equal(t, sum, got.Metadata.Checksum)
	assert.Equal(t, 1, res.Merged)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, model.StrategyMerge, res.Conflicts[0].Strategy)
}

func TestScalarMergePrefersLocalWhenBothDefined(t *testing.T) {
	t.Parallel()

	local := item(t, "s1", 10, map[string]any{"key": "theme", "value": "dark"}, func(it *model.DataItem) {
		it.Type = model.TypeSetting
	})
	remote := item(t, "s1", 10, map[string]any{"key": "theme", "value": "light"}, func(it *model.DataItem) {
		it.Type = model.TypeSetting
	})

	res := newEngine().Merge(Input{Local: []model.DataItem{local}, Remote: []model.DataItem{remote}})
	assert.Equal(t, "dark", res.Items[0].Content["value"])
}

func TestMergeErrorIsIsolated(t *testing.T) {
	t.Parallel()

	bad := item(t, "bad", 10, map[string]any{"content": "x"})
	bad.Content["broken"] = math.Inf(1)
	bad.Metadata.Checksum = "local"
	other := item(t, "bad", 10, map[string]any{"content": "y"}, by("device-b"))
	fine := item(t, "ok", 1, map[string]any{"content": "fine"}, by("device-b"))

	res := newEngine().Merge(Input{
		Local:  []model.DataItem{bad},
		Remote: []model.DataItem{other, fine},
	})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "bad", res.Errors[0].ID)
	assert.Error(t, errors.Unwrap(res.Errors[0].Err))
	assert.Equal(t, 1, res.Created, "other items still merge")
	assert.Equal(t, []string{"bad", "ok"}, ids(res.Items))
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	local := item(t, "p1", 10, map[string]any{"content": "a", "variables": []any{"x"}})
	remote := item(t, "p1", 10, map[string]any{"content": "bb", "variables": []any{"x", "y"}})
	localCopy, remoteCopy := local.Clone(), remote.Clone()

	newEngine().Merge(Input{Local: []model.DataItem{local}, Remote: []model.DataItem{remote}})
	assert.Equal(t, localCopy, local)
	assert.Equal(t, remoteCopy, remote)
}

func ids(items []model.DataItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}
