package remote

import (
	"context"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/stacklok/promptsync/internal/syncerr"
)

// MemoryStore is an in-process Store. Several devices in one process can share a
// single MemoryStore to exercise cross-device behaviour.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]struct{}
	err   error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string][]byte),
		dirs:  make(map[string]struct{}),
	}
}

// Exists implements Store
func (m *MemoryStore) Exists(_ context.Context, p string) (bool, error) {
	if err := m.fail("stat", p); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p = path.Clean(p)
	_, file := m.files[p]
	_, dir := m.dirs[p]
	return file || dir, nil
}

// Read implements Store
func (m *MemoryStore) Read(_ context.Context, p string) ([]byte, error) {
	if err := m.fail("read", p); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[path.Clean(p)]
	if !ok {
		return nil, syncerr.Op("read", p, syncerr.CodeNotFound, os.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

// Write implements Store
func (m *MemoryStore) Write(_ context.Context, p string, data []byte) error {
	if err := m.fail("write", p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	m.mkdirLocked(path.Dir(p))
	m.files[p] = append([]byte(nil), data...)
	return nil
}

// MkdirAll implements Store
func (m *MemoryStore) MkdirAll(_ context.Context, p string) error {
	if err := m.fail("mkdir", p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirLocked(path.Clean(p))
	return nil
}

// Delete implements Store
func (m *MemoryStore) Delete(_ context.Context, p string) error {
	if err := m.fail("delete", p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path.Clean(p))
	return nil
}

// Location implements Store
func (*MemoryStore) Location() string {
	return "memory://"
}

// Files lists stored file paths in sorted order.
func (m *MemoryStore) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryStore) mkdirLocked(p string) {
	for p != "." && p != "/" && p != "" {
		m.dirs[p] = struct{}{}
		p = path.Dir(p)
	}
}

func (m *MemoryStore) fail(op, p string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err == nil {
		return nil
	}
	return syncerr.Op(op, p, syncerr.CodeOf(m.err), m.err)
}

// SetFailure makes every subsequent operation fail with err. Nil clears it.
func (m *MemoryStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// HasPrefix reports whether any stored file starts with prefix.
func (m *MemoryStore) HasPrefix(prefix string) bool {
	for _, f := range m.Files() {
		if strings.HasPrefix(f, prefix) {
			return true
		}
	}
	return false
}
