// Package localstore defines the local data store the sync engine reads from and
// writes to, together with a SQLite implementation for the desktop application and
// an in-memory implementation.
//
// All writes, whether they come from a user edit or from a sync run, go through
// the same path so checksums and timestamps are maintained consistently. Writes
// made with a context marked by WithSyncOrigin do not emit change events, which
// keeps sync runs from scheduling themselves.
package localstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/promptsync/internal/checksum"
	"github.com/stacklok/promptsync/internal/model"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/stacklok/promptsync/internal/localstore Store

// Store is the collaborator interface the sync engine consumes.
type Store interface {
	// ListAll returns every item of the given type, tombstones included.
	ListAll(ctx context.Context, itemType model.ItemType) ([]model.DataItem, error)
	// UpsertMany inserts or replaces items by id, keeping the given ids verbatim.
	UpsertMany(ctx context.Context, itemType model.ItemType, items []model.DataItem) error
}

// Purger is implemented by stores that can physically remove expired tombstones.
type Purger interface {
	PurgeTombstones(ctx context.Context, ids []string) error
}

// Operation is the kind of local mutation reported in a ChangeEvent.
type Operation string

const (
	// OperationCreate is a new item.
	OperationCreate Operation = "create"
	// OperationUpdate is an edit of an existing item.
	OperationUpdate Operation = "update"
	// OperationDelete is a soft delete.
	OperationDelete Operation = "delete"
)

// ChangeEvent describes a local mutation.
type ChangeEvent struct {
	Operation  Operation
	EntityType model.ItemType
	ID         string
}

// Notifier delivers change events to subscribers.
type Notifier interface {
	// Subscribe registers fn and returns a function that removes it.
	Subscribe(fn func(ChangeEvent)) (unsubscribe func())
}

// LocalStore is the full store used by the application: the sync collaborator
// interface, change notifications and the user edit path.
type LocalStore interface {
	Store
	Notifier
	Purger
	Get(ctx context.Context, id string) (*model.DataItem, error)
	Save(ctx context.Context, item model.DataItem) (*model.DataItem, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

type syncOriginKey struct{}

// WithSyncOrigin marks writes made with ctx as originating from a sync run.
func WithSyncOrigin(ctx context.Context) context.Context {
	return context.WithValue(ctx, syncOriginKey{}, true)
}

// IsSyncOrigin reports whether ctx was marked by WithSyncOrigin.
func IsSyncOrigin(ctx context.Context) bool {
	v, _ := ctx.Value(syncOriginKey{}).(bool)
	return v
}

// broadcaster fans change events out to subscribers.
type broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(ChangeEvent)
}

func (b *broadcaster) Subscribe(fn func(ChangeEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]func(ChangeEvent))
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *broadcaster) emit(ctx context.Context, ev ChangeEvent) {
	if IsSyncOrigin(ctx) {
		return
	}
	b.mu.RLock()
	subs := make([]func(ChangeEvent), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// prepareEdit stamps a user edit. existing is the stored item, if any.
func prepareEdit(item model.DataItem, existing *model.DataItem, deviceID string, now time.Time) (model.DataItem, Operation, error) {
	out := item.Clone()
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if !out.Type.Valid() {
		return model.DataItem{}, "", fmt.Errorf("unknown item type %q", out.Type)
	}

	op := OperationCreate
	if existing != nil {
		op = OperationUpdate
		out.Metadata.CreatedAt = existing.Metadata.CreatedAt
		out.Metadata.DeviceID = existing.Metadata.DeviceID
		out.Metadata.Version = existing.Metadata.Version
	}
	if out.Metadata.Deleted && (existing == nil || !existing.Metadata.Deleted) {
		op = OperationDelete
	}
	if out.Metadata.CreatedAt.IsZero() {
		out.Metadata.CreatedAt = now
	}
	if out.Metadata.DeviceID == "" {
		out.Metadata.DeviceID = deviceID
	}
	if out.Metadata.Version == 0 {
		out.Metadata.Version = 1
	}
	out.Metadata.UpdatedAt = now
	out.Metadata.LastModifiedBy = deviceID
	out.Metadata.SyncStatus = model.ItemPending

	sum, err := checksum.Item(out)
	if err != nil {
		return model.DataItem{}, "", fmt.Errorf("failed to compute checksum for %s: %w", out.ID, err)
	}
	out.Metadata.Checksum = sum
	return out, op, nil
}

// prepareSynced normalizes an item written by a sync run. Metadata is kept as given
// apart from the checksum, which is always recomputed.
func prepareSynced(item model.DataItem, itemType model.ItemType) (model.DataItem, error) {
	out := item.Clone()
	if out.ID == "" {
		return model.DataItem{}, fmt.Errorf("synced %s item has no id", itemType)
	}
	if out.Type == "" {
		out.Type = itemType
	}
	if out.Type != itemType {
		return model.DataItem{}, fmt.Errorf("item %s has type %q, expected %q", out.ID, out.Type, itemType)
	}
	sum, err := checksum.Item(out)
	if err != nil {
		return model.DataItem{}, fmt.Errorf("failed to compute checksum for %s: %w", out.ID, err)
	}
	out.Metadata.Checksum = sum
	if out.Metadata.SyncStatus == "" || out.Metadata.SyncStatus == model.ItemPending {
		out.Metadata.SyncStatus = model.ItemSynced
	}
	return out, nil
}
