// Package merge reconciles the local and remote item sets of a sync run. Each
// item id is decided independently: items present on one side only are kept or
// created, identical items are kept, differing items are resolved by timestamp,
// and items edited at the same instant are merged field by field.
//
// The equal-timestamp merge is deterministic for two replicas but is neither
// commutative nor associative across more than two, so convergence of three or
// more devices editing the same item at the same instant is best effort.
package merge

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/stacklok/promptsync/internal/checksum"
	"github.com/stacklok/promptsync/internal/model"
)

// Action is what a merge does to one item.
type Action string

const (
	// ActionKeep leaves the local item as it is.
	ActionKeep Action = "keep"
	// ActionCreate downloads a remote-only item.
	ActionCreate Action = "create"
	// ActionUpdate replaces the local item with the remote one.
	ActionUpdate Action = "update"
	// ActionDelete applies a remote deletion locally.
	ActionDelete Action = "delete"
	// ActionRestore brings a deleted item back because a later live edit exists.
	ActionRestore Action = "restore"
	// ActionMerge combines two versions edited at the same instant.
	ActionMerge Action = "merge"
	// ActionUpload keeps a local item that is newer than, or missing from, the remote.
	ActionUpload Action = "upload"
	// ActionSkip ignores a remote-only item that is a known tombstone.
	ActionSkip Action = "skip"
)

// Decision records the outcome for one item id.
type Decision struct {
	ID       string
	Type     model.ItemType
	Title    string
	Action   Action
	Strategy model.Strategy
	Reason   string
	Local    *model.DataItem
	Remote   *model.DataItem
	Result   *model.DataItem
}

// ItemError records an item that could not be merged. The item keeps its local
// state and the run continues.
type ItemError struct {
	ID  string
	Err error
}

// Input is the pair of item sets to reconcile.
type Input struct {
	Local  []model.DataItem
	Remote []model.DataItem
	// KnownTombstones lists ids this device deleted and purged. Remote-only
	// items with these ids are skipped instead of downloaded again.
	KnownTombstones map[string]struct{}
}

// Result is the outcome of a merge.
type Result struct {
	// Items is the merged item set, sorted by id.
	Items []model.DataItem
	// LocalChanges are the items that differ from the local store and must be
	// written back to it.
	LocalChanges []model.DataItem
	Conflicts    []model.ConflictResolution
	Decisions    []Decision
	Errors       []ItemError

	Created  int
	Updated  int
	Deleted  int
	Restored int
	Merged   int
	Skipped  int
}

// Processed returns the number of distinct item ids considered.
func (r *Result) Processed() int {
	return len(r.Decisions)
}

// Engine merges item sets on behalf of one device.
type Engine struct {
	deviceID string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the clock used for conflict records.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine returns an engine that attributes merged items to deviceID.
func NewEngine(deviceID string, opts ...Option) *Engine {
	e := &Engine{deviceID: deviceID, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Merge reconciles in.Local against in.Remote. It never mutates its inputs.
func (e *Engine) Merge(in Input) *Result {
	local := index(in.Local)
	remote := index(in.Remote)
	ids := unionIDs(local, remote)

	res := &Result{
		Items:        make([]model.DataItem, 0, len(ids)),
		LocalChanges: []model.DataItem{},
		Conflicts:    []model.ConflictResolution{},
		Decisions:    make([]Decision, 0, len(ids)),
	}

	for _, id := range ids {
		l, hasLocal := local[id]
		r, hasRemote := remote[id]

		var d Decision
		var err error
		switch {
		case !hasRemote:
			d = Decision{Action: ActionUpload, Reason: "only on this device", Result: ptr(l)}
		case !hasLocal:
			d = e.remoteOnly(r, in.KnownTombstones)
		default:
			d, err = e.resolve(l, r)
		}
		if err != nil {
			e.logger.Warn("Failed to merge item, keeping local version", "item_id", id, "error", err)
			res.Errors = append(res.Errors, ItemError{ID: id, Err: err})
			d = Decision{Action: ActionKeep, Reason: fmt.Sprintf("merge failed: %v", err), Result: ptr(l)}
		}

		d.ID = id
		if hasLocal {
			d.Local = ptr(l)
		}
		if hasRemote {
			d.Remote = ptr(r)
		}
		if d.Result != nil {
			d.Type = d.Result.Type
			d.Title = d.Result.Title
		} else if hasRemote {
			d.Type = r.Type
			d.Title = r.Title
		}
		e.record(res, d)
	}
	return res
}

func (e *Engine) record(res *Result, d Decision) {
	res.Decisions = append(res.Decisions, d)
	if d.Result != nil {
		res.Items = append(res.Items, *d.Result)
	}

	switch d.Action {
	case ActionCreate:
		res.Created++
	case ActionUpdate:
		res.Updated++
	case ActionDelete:
		res.Deleted++
	case ActionRestore:
		res.Restored++
	case ActionMerge:
		res.Merged++
	case ActionSkip:
		res.Skipped++
	}

	if d.Result != nil && changesLocal(d.Local, d.Result) {
		res.LocalChanges = append(res.LocalChanges, d.Result.Clone())
	}
	if d.Strategy != "" {
		res.Conflicts = append(res.Conflicts, model.ConflictResolution{
			ItemID:    d.ID,
			Strategy:  d.Strategy,
			Timestamp: e.now().UTC(),
			Reason:    d.Reason,
		})
	}
}

func (*Engine) remoteOnly(r model.DataItem, known map[string]struct{}) Decision {
	if _, ok := known[r.ID]; ok {
		return Decision{Action: ActionSkip, Reason: "deleted and purged on this device"}
	}
	if r.Metadata.Deleted {
		return Decision{Action: ActionDelete, Reason: "deleted on another device", Result: ptr(r)}
	}
	return Decision{Action: ActionCreate, Reason: "new on another device", Result: ptr(r)}
}

func (e *Engine) resolve(l, r model.DataItem) (Decision, error) {
	if l.Metadata.Checksum == r.Metadata.Checksum {
		return Decision{Action: ActionKeep, Reason: "identical", Result: ptr(l)}, nil
	}

	lt, rt := l.Metadata.UpdatedAt.UnixMilli(), r.Metadata.UpdatedAt.UnixMilli()
	version := max(l.Metadata.Version, r.Metadata.Version)

	if l.Metadata.Deleted != r.Metadata.Deleted {
		return e.resolveDeletion(l, r, lt, rt, version)
	}

	switch {
	case lt > rt:
		out := l.Clone()
		out.Metadata.Version = version
		return Decision{
			Action:   ActionUpload,
			Strategy: model.StrategyLocalWins,
			Reason:   "local version is newer",
			Result:   &out,
		}, nil
	case rt > lt:
		out := r.Clone()
		out.Metadata.Version = version
		out.Metadata.SyncStatus = model.ItemSynced
		return Decision{
			Action:   ActionUpdate,
			Strategy: model.StrategyRemoteWins,
			Reason:   "remote version is newer",
			Result:   &out,
		}, nil
	default:
		merged, err := e.mergeContent(l, r)
		if err != nil {
			return Decision{}, err
		}
		return Decision{
			Action:   ActionMerge,
			Strategy: model.StrategyMerge,
			Reason:   "edited at the same time on both devices",
			Result:   merged,
		}, nil
	}
}

// resolveDeletion settles a tombstone against a live edit. The later timestamp
// wins; on a tie the deletion wins.
func (*Engine) resolveDeletion(l, r model.DataItem, lt, rt int64, version int) (Decision, error) {
	deleted, live := l, r
	deletedT, liveT := lt, rt
	deletedStrategy, liveStrategy := model.StrategyLocalWins, model.StrategyRemoteWins
	if r.Metadata.Deleted {
		deleted, live = r, l
		deletedT, liveT = rt, lt
		deletedStrategy, liveStrategy = model.StrategyRemoteWins, model.StrategyLocalWins
	}

	if liveT > deletedT {
		out := live.Clone()
		out.Metadata.Version = version + 1
		// the resurrecting device is the one whose live edit won
		out.Metadata.LastModifiedBy = live.Metadata.LastModifiedBy
		if out.Metadata.LastModifiedBy == "" {
			out.Metadata.LastModifiedBy = live.Metadata.DeviceID
		}
		if err := stamp(&out); err != nil {
			return Decision{}, err
		}
		return Decision{
			Action:   ActionRestore,
			Strategy: liveStrategy,
			Reason:   "edited after it was deleted",
			Result:   &out,
		}, nil
	}

	out := deleted.Clone()
	out.Metadata.Version = version
	action := ActionUpload
	if r.Metadata.Deleted {
		action = ActionDelete
		out.Metadata.SyncStatus = model.ItemSynced
	}
	return Decision{
		Action:   action,
		Strategy: deletedStrategy,
		Reason:   "deleted after its last edit",
		Result:   &out,
	}, nil
}

func (e *Engine) mergeContent(l, r model.DataItem) (*model.DataItem, error) {
	lc, err := normalize(l.Content)
	if err != nil {
		return nil, fmt.Errorf("local content: %w", err)
	}
	rc, err := normalize(r.Content)
	if err != nil {
		return nil, fmt.Errorf("remote content: %w", err)
	}

	out := l.Clone()
	out.Content = mergerFor(l.Type).Merge(lc, rc)
	if s, ok := longerString(l.Title, r.Title).(string); ok {
		out.Title = s
	}
	out.Metadata.Tags = checksum.NormalizeTags(append(slices.Clone(l.Metadata.Tags), r.Metadata.Tags...))
	if len(out.Metadata.Tags) == 0 {
		out.Metadata.Tags = nil
	}
	if r.Metadata.CreatedAt.Before(out.Metadata.CreatedAt) {
		out.Metadata.CreatedAt = r.Metadata.CreatedAt
	}
	out.Metadata.Version = max(l.Metadata.Version, r.Metadata.Version) + 1
	out.Metadata.LastModifiedBy = e.deviceID
	out.Metadata.SyncStatus = model.ItemConflict
	if err := stamp(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func stamp(item *model.DataItem) error {
	sum, err := checksum.Item(*item)
	if err != nil {
		return fmt.Errorf("failed to compute checksum: %w", err)
	}
	item.Metadata.Checksum = sum
	return nil
}

// changesLocal reports whether writing result would change the local item.
func changesLocal(local, result *model.DataItem) bool {
	if local == nil {
		return true
	}
	return local.Metadata.Checksum != result.Metadata.Checksum ||
		local.Metadata.Version != result.Metadata.Version ||
		!local.Metadata.UpdatedAt.Equal(result.Metadata.UpdatedAt)
}

func index(items []model.DataItem) map[string]model.DataItem {
	out := make(map[string]model.DataItem, len(items))
	for _, item := range items {
		out[item.ID] = item
	}
	return out
}

func unionIDs(a, b map[string]model.DataItem) []string {
	ids := make([]string, 0, len(a)+len(b))
	for id := range a {
		ids = append(ids, id)
	}
	for id := range b {
		if _, ok := a[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, strings.Compare)
	return ids
}

func ptr(item model.DataItem) *model.DataItem {
	c := item.Clone()
	return &c
}
