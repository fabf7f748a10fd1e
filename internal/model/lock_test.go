package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSyncLockValid(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_000_000)
	ttl := (5 * time.Minute).Milliseconds()

	tests := []struct {
		name string
		lock *SyncLock
		want bool
	}{
		{name: "nil lock", lock: nil, want: false},
		{name: "fresh", lock: &SyncLock{Timestamp: now.UnixMilli(), TTL: ttl}, want: true},
		{name: "just before expiry", lock: &SyncLock{Timestamp: now.UnixMilli() - ttl + 1, TTL: ttl}, want: true},
		{name: "at expiry", lock: &SyncLock{Timestamp: now.UnixMilli() - ttl, TTL: ttl}, want: false},
		{name: "long expired", lock: &SyncLock{Timestamp: now.Add(-time.Hour).UnixMilli(), TTL: ttl}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.lock.Valid(now))
		})
	}
}

func TestSyncLockExpiresAt(t *testing.T) {
	t.Parallel()

	l := &SyncLock{Timestamp: 1000, TTL: 500}
	assert.Equal(t, time.UnixMilli(1500), l.ExpiresAt())
}

func TestDataItemCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := DataItem{
		ID:       "a",
		Content:  map[string]any{"nested": map[string]any{"k": "v"}, "list": []any{"x"}},
		Metadata: ItemMetadata{Tags: []string{"t1"}},
	}
	clone := orig.Clone()
	clone.Content["nested"].(map[string]any)["k"] = "changed"
	clone.Content["list"].([]any)[0] = "y"
	clone.Metadata.Tags[0] = "t2"

	assert.Equal(t, "v", orig.Content["nested"].(map[string]any)["k"])
	assert.Equal(t, "x", orig.Content["list"].([]any)[0])
	assert.Equal(t, "t1", orig.Metadata.Tags[0])
}
