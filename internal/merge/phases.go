package merge

import (
	"slices"
	"strings"

	"github.com/stacklok/promptsync/internal/model"
)

// UploadCandidates returns the ids of local items that are missing from the
// remote or newer than their remote counterpart.
func UploadCandidates(local, remote []model.DataItem) []string {
	r := index(remote)
	var ids []string
	for _, l := range local {
		other, ok := r[l.ID]
		switch {
		case !ok:
			if !l.Metadata.Deleted {
				ids = append(ids, l.ID)
			}
		case other.Metadata.Checksum != l.Metadata.Checksum &&
			l.Metadata.UpdatedAt.UnixMilli() > other.Metadata.UpdatedAt.UnixMilli():
			ids = append(ids, l.ID)
		}
	}
	slices.SortFunc(ids, strings.Compare)
	return ids
}

// DeleteCandidates returns the ids of live remote items this device has deleted:
// the local counterpart is a tombstone at least as new, or the id was purged.
func DeleteCandidates(local, remote []model.DataItem, knownTombstones map[string]struct{}) []string {
	l := index(local)
	var ids []string
	for _, r := range remote {
		if r.Metadata.Deleted {
			continue
		}
		mine, ok := l[r.ID]
		if !ok {
			if _, purged := knownTombstones[r.ID]; purged {
				ids = append(ids, r.ID)
			}
			continue
		}
		if mine.Metadata.Deleted && mine.Metadata.UpdatedAt.UnixMilli() >= r.Metadata.UpdatedAt.UnixMilli() {
			ids = append(ids, r.ID)
		}
	}
	slices.SortFunc(ids, strings.Compare)
	return ids
}
