// Package remote defines the passive storage medium the sync engine shares with
// other devices. The medium has no server-side logic: it only stores files, so the
// interface is limited to whole-file reads and writes. Bindings live in
// subpackages and report failures as syncerr errors classified as NOT_FOUND,
// PERMISSION_DENIED, NETWORK_ERROR (unreachable), CONFLICT or UNKNOWN.
package remote

import (
	"context"
	"fmt"
	"path"

	"github.com/stacklok/promptsync/internal/syncerr"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/stacklok/promptsync/internal/remote Store

// Store is the capability set every remote binding provides. Paths are
// slash-separated and relative to the binding's root.
type Store interface {
	// Exists reports whether path exists.
	Exists(ctx context.Context, path string) (bool, error)
	// Read returns the full content of path.
	Read(ctx context.Context, path string) ([]byte, error)
	// Write replaces the content of path, creating parent directories as needed.
	Write(ctx context.Context, path string, data []byte) error
	// MkdirAll creates path and any missing parents.
	MkdirAll(ctx context.Context, path string) error
	// Delete removes path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error
	// Location describes where the store points, for logs and the UI.
	Location() string
}

const (
	// SnapshotFile holds the current snapshot.
	SnapshotFile = "snapshot.json"
	// LockDir holds lock files.
	LockDir = "locks"
	// LockFile is the cross-device sync lock.
	LockFile = "locks/sync.lock"
	// DefaultRoot is the sync root used when none is configured.
	DefaultRoot = "PromptSync"
)

// Layout resolves the fixed file layout under a sync root.
type Layout struct {
	Root string
}

// NewLayout returns the layout rooted at root, or at DefaultRoot when root is empty.
func NewLayout(root string) Layout {
	if root == "" {
		root = DefaultRoot
	}
	return Layout{Root: path.Clean(root)}
}

// Snapshot returns the snapshot path.
func (l Layout) Snapshot() string {
	return path.Join(l.Root, SnapshotFile)
}

// Lock returns the lock file path.
func (l Layout) Lock() string {
	return path.Join(l.Root, LockFile)
}

// LockDir returns the lock directory path.
func (l Layout) LockDir() string {
	return path.Join(l.Root, LockDir)
}

// Backup returns the path of a full backup taken at unixMillis.
func (l Layout) Backup(unixMillis int64) string {
	return path.Join(l.Root, fmt.Sprintf("backup-%d.json", unixMillis))
}

// Corrupt returns the path a corrupt snapshot is preserved under before it is
// replaced.
func (l Layout) Corrupt(unixMillis int64) string {
	return path.Join(l.Root, fmt.Sprintf("corrupt-snapshot-%d.json", unixMillis))
}

// IsNotFound reports whether err means the path does not exist.
func IsNotFound(err error) bool {
	return syncerr.Is(err, syncerr.CodeNotFound)
}

// ReadIfExists reads path, returning nil data and no error when it is missing.
func ReadIfExists(ctx context.Context, s Store, p string) ([]byte, error) {
	data, err := s.Read(ctx, p)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// CheckAvailable verifies the store can be reached and written by creating the
// sync root and lock directory.
func CheckAvailable(ctx context.Context, s Store, l Layout) error {
	if err := s.MkdirAll(ctx, l.LockDir()); err != nil {
		return fmt.Errorf("remote %s is not available: %w", s.Location(), err)
	}
	if _, err := s.Exists(ctx, l.Snapshot()); err != nil {
		return fmt.Errorf("remote %s is not available: %w", s.Location(), err)
	}
	return nil
}
