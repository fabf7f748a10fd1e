// Package folder binds the remote store to a directory kept in sync by the
// operating system, such as iCloud Drive, or any other shared folder.
package folder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"

	"github.com/stacklok/promptsync/internal/remote"
	"github.com/stacklok/promptsync/internal/syncerr"
)

// Store is a remote.Store over a billy filesystem rooted at the shared folder.
type Store struct {
	fs       billy.Filesystem
	location string
	// base is the host directory that must exist for the folder to be usable.
	// Empty for non-OS filesystems.
	base string
}

var _ remote.Store = (*Store)(nil)

// New creates a Store rooted at dir. dir must already exist; a missing folder
// usually means the sync client is not installed or not signed in.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, syncerr.New(syncerr.CodeConfiguration, "folder: path is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.CodeConfiguration, err, "folder: invalid path")
	}
	return &Store{fs: osfs.New(abs), location: abs, base: abs}, nil
}

// NewWithFilesystem creates a Store over an existing filesystem.
func NewWithFilesystem(fsys billy.Filesystem, location string) *Store {
	return &Store{fs: fsys, location: location}
}

// DefaultICloudPath returns the iCloud Drive folder of the current user, or ""
// on platforms without iCloud Drive.
func DefaultICloudPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Mobile Documents", "com~apple~CloudDocs")
	case "windows":
		return filepath.Join(home, "iCloudDrive")
	default:
		return ""
	}
}

// Exists implements remote.Store
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	if err := s.check(ctx, "stat", p); err != nil {
		return false, err
	}
	_, err := s.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, classify("stat", p, err)
	}
	return true, nil
}

// Read implements remote.Store
func (s *Store) Read(ctx context.Context, p string) ([]byte, error) {
	if err := s.check(ctx, "read", p); err != nil {
		return nil, err
	}
	data, err := util.ReadFile(s.fs, p)
	if err != nil {
		return nil, classify("read", p, err)
	}
	return data, nil
}

// Write implements remote.Store. Content is written to a temporary file and
// renamed into place so other devices never observe a partial file.
func (s *Store) Write(ctx context.Context, p string, data []byte) error {
	if err := s.check(ctx, "write", p); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(p), 0750); err != nil {
		return classify("write", p, err)
	}

	tmp := path.Join(path.Dir(p), fmt.Sprintf(".%s.%s.tmp", path.Base(p), uuid.NewString()))
	if err := util.WriteFile(s.fs, tmp, data, 0600); err != nil {
		_ = s.fs.Remove(tmp)
		return classify("write", p, err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return classify("write", p, err)
	}
	return nil
}

// MkdirAll implements remote.Store
func (s *Store) MkdirAll(ctx context.Context, p string) error {
	if err := s.check(ctx, "mkdir", p); err != nil {
		return err
	}
	return classify("mkdir", p, s.fs.MkdirAll(p, 0750))
}

// Delete implements remote.Store
func (s *Store) Delete(ctx context.Context, p string) error {
	if err := s.check(ctx, "delete", p); err != nil {
		return err
	}
	err := s.fs.Remove(p)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return classify("delete", p, err)
	}
	return nil
}

// Location implements remote.Store
func (s *Store) Location() string {
	return s.location
}

// Dir returns the host directory of the store, or "" when it is not backed by the
// host filesystem.
func (s *Store) Dir() string {
	return s.base
}

func (s *Store) check(ctx context.Context, op, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.base == "" {
		return nil
	}
	info, err := os.Stat(s.base)
	if err != nil || !info.IsDir() {
		return syncerr.Op(op, p, syncerr.CodeConfiguration,
			fmt.Errorf("sync folder %s does not exist or is not a directory", s.base))
	}
	return nil
}

func classify(op, p string, err error) error {
	if err == nil {
		return nil
	}
	code := syncerr.CodeUnknown
	switch {
	case errors.Is(err, fs.ErrNotExist):
		code = syncerr.CodeNotFound
	case errors.Is(err, fs.ErrPermission):
		code = syncerr.CodePermission
	case errors.Is(err, fs.ErrExist):
		code = syncerr.CodeConflict
	}
	return syncerr.Op(op, p, code, fmt.Errorf("folder: %w", err))
}
