// Package model contains the data types exchanged between the local store, the
// sync engine and the remote store.
package model

import "time"

// ItemType identifies the kind of entity carried by a DataItem.
type ItemType string

const (
	// TypeCategory is a prompt category.
	TypeCategory ItemType = "category"
	// TypePrompt is a prompt.
	TypePrompt ItemType = "prompt"
	// TypeAIConfig is an AI provider configuration.
	TypeAIConfig ItemType = "aiConfig"
	// TypeSetting is an application setting.
	TypeSetting ItemType = "setting"
	// TypeUser is a user profile.
	TypeUser ItemType = "user"
	// TypePost is a post.
	TypePost ItemType = "post"
	// TypeHistory is a prompt history entry.
	TypeHistory ItemType = "history"
)

// SyncableTypes lists every item type the sync engine reads from the local store,
// in the order they are collected.
var SyncableTypes = []ItemType{
	TypeCategory,
	TypePrompt,
	TypeAIConfig,
	TypeSetting,
	TypeUser,
	TypePost,
	TypeHistory,
}

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	for _, known := range SyncableTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ItemSyncState is the per-item sync bookkeeping state.
type ItemSyncState string

const (
	// ItemSynced means the item matches the last synced snapshot.
	ItemSynced ItemSyncState = "synced"
	// ItemPending means the item changed locally since the last sync.
	ItemPending ItemSyncState = "pending"
	// ItemConflict means the item was produced by a conflict resolution.
	ItemConflict ItemSyncState = "conflict"
)

// DataItem is the sync envelope around a single local entity.
type DataItem struct {
	ID       string         `json:"id"`
	Type     ItemType       `json:"type"`
	Title    string         `json:"title,omitempty"`
	Content  map[string]any `json:"content"`
	Metadata ItemMetadata   `json:"metadata"`
}

// ItemMetadata carries the ordering, authorship and integrity fields of a DataItem.
type ItemMetadata struct {
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	Version        int           `json:"version"`
	DeviceID       string        `json:"deviceId"`
	LastModifiedBy string        `json:"lastModifiedBy"`
	Checksum       string        `json:"checksum"`
	Deleted        bool          `json:"deleted,omitempty"`
	Tags           []string      `json:"tags,omitempty"`
	SyncStatus     ItemSyncState `json:"syncStatus,omitempty"`
}

// Clone returns a deep copy of the item so callers can mutate it freely.
func (i DataItem) Clone() DataItem {
	out := i
	out.Content = cloneMap(i.Content)
	if i.Metadata.Tags != nil {
		out.Metadata.Tags = append([]string(nil), i.Metadata.Tags...)
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
