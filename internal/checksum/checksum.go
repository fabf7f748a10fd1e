// Package checksum computes deterministic content hashes for sync items and
// snapshots. Content is canonicalized before hashing: object keys are sorted in
// byte order and volatile bookkeeping fields are removed at every depth, so two
// devices that hold the same logical content always agree on its checksum.
package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/stacklok/promptsync/internal/model"
)

// volatileFields never contribute to a checksum.
var volatileFields = map[string]struct{}{
	"createdAt": {},
	"updatedAt": {},
	"syncTime":  {},
	"version":   {},
	"checksum":  {},
}

// Canonicalize converts v into its generic JSON form with volatile fields removed.
func Canonicalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return strip(generic), nil
}

func strip(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, volatile := volatileFields[k]; volatile {
				continue
			}
			out[k] = strip(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = strip(val)
		}
		return out
	default:
		return v
	}
}

// Encode serializes a canonical value. encoding/json writes map keys in sorted
// byte order, which is the ordering the checksum relies on.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sum returns the hex SHA-256 of the canonical form of v.
func Sum(v any) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	data, err := Encode(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to encode canonical value: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Item returns the checksum of the syncable part of an item: its type, title,
// content, tag set and tombstone flag. Tags are hashed as a sorted set.
func Item(item model.DataItem) (string, error) {
	return Sum(map[string]any{
		"type":    item.Type,
		"title":   item.Title,
		"content": item.Content,
		"tags":    NormalizeTags(item.Metadata.Tags),
		"deleted": item.Metadata.Deleted,
	})
}

// NormalizeTags returns the tags sorted and deduplicated. Nil and empty inputs both
// yield an empty, non-nil slice.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	out = append(out, tags...)
	slices.Sort(out)
	return slices.Compact(out)
}

type snapshotEntry struct {
	ID        string `json:"id"`
	Checksum  string `json:"checksum"`
	UpdatedAt string `json:"updatedAt"`
}

// Snapshot returns the checksum of a set of items. Items are sorted by id in byte
// order and reduced to (id, checksum, updatedAt), so the input order is irrelevant.
func Snapshot(items []model.DataItem) string {
	entries := make([]snapshotEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, snapshotEntry{
			ID:        item.ID,
			Checksum:  item.Metadata.Checksum,
			UpdatedAt: FormatTime(item.Metadata.UpdatedAt),
		})
	}
	slices.SortFunc(entries, func(a, b snapshotEntry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	//nolint:errchkjson // a slice of string-only structs always marshals
	data, _ := json.Marshal(entries)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FormatTime renders a timestamp the way snapshots store it: UTC with milliseconds.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
