// Package snapshot assembles SyncSnapshots from the local store and converts
// snapshots to and from their remote JSON representation.
package snapshot

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/promptsync/internal/checksum"
	"github.com/stacklok/promptsync/internal/localstore"
	"github.com/stacklok/promptsync/internal/model"
)

// idNamespace seeds the name-based ids assigned to items stored without one.
var idNamespace = uuid.MustParse("6f1c1c4e-5b0e-4f5f-9a57-7d0c8c1c2a10")

// Local is the result of a local snapshot build.
type Local struct {
	Snapshot *model.Snapshot
	// ExpiredTombstones are ids of tombstones left out because they outlived the
	// retention window.
	ExpiredTombstones []string
}

// Builder reads every syncable collection from the local store and produces a
// checksummed snapshot. It never writes to the store.
type Builder struct {
	store     localstore.Store
	device    model.DeviceInfo
	types     []model.ItemType
	retention time.Duration
	now       func() time.Time
	newSyncID func() string
	logger    *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithTombstoneRetention drops tombstones older than d from built snapshots.
// Zero keeps tombstones forever.
func WithTombstoneRetention(d time.Duration) Option {
	return func(b *Builder) {
		b.retention = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// WithTypes limits the collections read by the builder.
func WithTypes(types ...model.ItemType) Option {
	return func(b *Builder) {
		b.types = types
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// NewBuilder creates a Builder reading from store on behalf of device.
func NewBuilder(store localstore.Store, device model.DeviceInfo, opts ...Option) *Builder {
	b := &Builder{
		store:     store,
		device:    device,
		types:     model.SyncableTypes,
		now:       time.Now,
		newSyncID: uuid.NewString,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build produces a snapshot of the local store. A collection that fails to load
// is treated as empty; Build only fails when ctx is done.
func (b *Builder) Build(ctx context.Context, previousSyncID string) (*Local, error) {
	now := b.now()
	items := make([]model.DataItem, 0)
	var expired []string

	for _, itemType := range b.types {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		collection, err := b.store.ListAll(ctx, itemType)
		if err != nil {
			b.logger.Warn("Failed to read local collection, treating it as empty",
				"type", itemType, "error", err)
			continue
		}

		for _, item := range collection {
			prepared, ok := b.prepare(item, itemType)
			if !ok {
				continue
			}
			if b.tombstoneExpired(prepared, now) {
				expired = append(expired, prepared.ID)
				continue
			}
			items = append(items, prepared)
		}
	}

	slices.SortFunc(items, func(a, c model.DataItem) int { return strings.Compare(a.ID, c.ID) })

	snap := &model.Snapshot{
		Timestamp:     now.UTC(),
		SchemaVersion: model.SchemaVersion,
		DeviceID:      b.device.DeviceID,
		Items:         items,
		Metadata: model.SnapshotMetadata{
			TotalItems:        len(items),
			Checksum:          checksum.Snapshot(items),
			SyncID:            b.newSyncID(),
			PreviousSyncID:    previousSyncID,
			ConflictsResolved: []model.ConflictResolution{},
			DeviceInfo:        b.device,
		},
	}

	b.logger.Debug("Built local snapshot",
		"items", len(items),
		"expired_tombstones", len(expired),
		"sync_id", snap.Metadata.SyncID)

	return &Local{Snapshot: snap, ExpiredTombstones: expired}, nil
}

func (b *Builder) prepare(item model.DataItem, itemType model.ItemType) (model.DataItem, bool) {
	out := item.Clone()
	if out.Type == "" {
		out.Type = itemType
	}

	sum, err := checksum.Item(out)
	if err != nil {
		b.logger.Warn("Skipping item with unhashable content", "id", out.ID, "type", itemType, "error", err)
		return model.DataItem{}, false
	}
	out.Metadata.Checksum = sum

	if out.ID == "" {
		out.ID = uuid.NewSHA1(idNamespace, []byte(string(out.Type)+":"+sum)).String()
		b.logger.Debug("Assigned id to local item", "id", out.ID, "type", itemType)
	}
	return out, true
}

func (b *Builder) tombstoneExpired(item model.DataItem, now time.Time) bool {
	return b.retention > 0 && item.Metadata.Deleted && now.Sub(item.Metadata.UpdatedAt) > b.retention
}
