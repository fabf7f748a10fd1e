package localstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/stacklok/promptsync/internal/model"
)

// MemoryStore is an in-memory LocalStore.
type MemoryStore struct {
	broadcaster

	mu       sync.RWMutex
	items    map[string]model.DataItem
	deviceID string
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store owned by deviceID.
func NewMemoryStore(deviceID string) *MemoryStore {
	return &MemoryStore{
		items:    make(map[string]model.DataItem),
		deviceID: deviceID,
		now:      time.Now,
	}
}

// ListAll implements Store
func (m *MemoryStore) ListAll(_ context.Context, itemType model.ItemType) ([]model.DataItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.DataItem, 0)
	for _, item := range m.items {
		if item.Type == itemType {
			out = append(out, item.Clone())
		}
	}
	slices.SortFunc(out, func(a, b model.DataItem) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// UpsertMany implements Store
func (m *MemoryStore) UpsertMany(ctx context.Context, itemType model.ItemType, items []model.DataItem) error {
	prepared := make([]model.DataItem, 0, len(items))
	for _, item := range items {
		p, err := prepareSynced(item, itemType)
		if err != nil {
			return err
		}
		prepared = append(prepared, p)
	}

	m.mu.Lock()
	events := make([]ChangeEvent, 0, len(prepared))
	for _, item := range prepared {
		op := OperationUpdate
		if _, ok := m.items[item.ID]; !ok {
			op = OperationCreate
		}
		m.items[item.ID] = item
		events = append(events, ChangeEvent{Operation: op, EntityType: itemType, ID: item.ID})
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.emit(ctx, ev)
	}
	return nil
}

// Get returns the item with id, or nil when absent.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.DataItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	c := item.Clone()
	return &c, nil
}

// Save records a user edit.
func (m *MemoryStore) Save(ctx context.Context, item model.DataItem) (*model.DataItem, error) {
	m.mu.Lock()
	var existing *model.DataItem
	if cur, ok := m.items[item.ID]; ok && item.ID != "" {
		existing = &cur
	}
	prepared, op, err := prepareEdit(item, existing, m.deviceID, m.now())
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.items[prepared.ID] = prepared
	m.mu.Unlock()

	m.emit(ctx, ChangeEvent{Operation: op, EntityType: prepared.Type, ID: prepared.ID})
	out := prepared.Clone()
	return &out, nil
}

// Delete soft-deletes the item with id.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.RLock()
	item, ok := m.items[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	item.Metadata.Deleted = true
	_, err := m.Save(ctx, item)
	return err
}

// PurgeTombstones implements Purger
func (m *MemoryStore) PurgeTombstones(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if item, ok := m.items[id]; ok && item.Metadata.Deleted {
			delete(m.items, id)
		}
	}
	return nil
}

// Close implements LocalStore
func (*MemoryStore) Close() error {
	return nil
}
