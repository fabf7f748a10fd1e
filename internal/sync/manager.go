package sync

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/stacklok/promptsync/internal/localstore"
	"github.com/stacklok/promptsync/internal/lock"
	"github.com/stacklok/promptsync/internal/merge"
	"github.com/stacklok/promptsync/internal/model"
	"github.com/stacklok/promptsync/internal/remote"
	"github.com/stacklok/promptsync/internal/retry"
	"github.com/stacklok/promptsync/internal/snapshot"
	"github.com/stacklok/promptsync/internal/sync/state"
	"github.com/stacklok/promptsync/internal/syncerr"
	"github.com/stacklok/promptsync/internal/telemetry"
)

// Default tuning values
const (
	DefaultRequestTimeout     = 30 * time.Second
	DefaultTombstoneRetention = 30 * 24 * time.Hour
)

// Manager runs sync cycles between the local store and one remote store.
//
//go:generate mockgen -destination=mocks/mock_manager.go -package=mocks github.com/stacklok/promptsync/internal/sync Manager
type Manager interface {
	// Run executes one sync cycle. It never returns an error: failures are
	// reported in the Result and in the persisted sync status.
	Run(ctx context.Context, opts RunOptions) *Result

	// TestAvailability checks that the remote can be reached and written.
	TestAvailability(ctx context.Context) error

	// Compare previews what a sync would do without taking the lock or
	// writing anything.
	Compare(ctx context.Context) (*Preview, error)

	// InProgress reports whether a run is in flight in this process.
	InProgress() bool
}

// defaultSyncManager is the default implementation of Manager
type defaultSyncManager struct {
	store    remote.Store
	layout   remote.Layout
	local    localstore.Store
	stateSvc state.SyncStateService
	device   model.DeviceInfo

	locks   *lock.Manager
	builder *snapshot.Builder
	engine  *merge.Engine

	lockTTL        time.Duration
	retention      time.Duration
	requestTimeout time.Duration
	retryPolicy    retry.Policy
	configHash     string

	gate    *semaphore.Weighted
	running atomic.Bool

	now     func() time.Time
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.SyncMetrics
}

// Option configures the sync manager
type Option func(*defaultSyncManager)

// WithLockTTL sets the lifetime of the remote sync lock
func WithLockTTL(ttl time.Duration) Option {
	return func(m *defaultSyncManager) {
		m.lockTTL = ttl
	}
}

// WithTombstoneRetention sets how long tombstones stay in snapshots
func WithTombstoneRetention(d time.Duration) Option {
	return func(m *defaultSyncManager) {
		m.retention = d
	}
}

// WithRequestTimeout bounds every single remote call
func WithRequestTimeout(d time.Duration) Option {
	return func(m *defaultSyncManager) {
		m.requestTimeout = d
	}
}

// WithRetryPolicy sets the backoff policy for remote calls
func WithRetryPolicy(p retry.Policy) Option {
	return func(m *defaultSyncManager) {
		m.retryPolicy = p
	}
}

// WithConfigHash records the hash of the configuration the manager was built
// from, so configuration suspensions can be lifted when it changes
func WithConfigHash(hash string) Option {
	return func(m *defaultSyncManager) {
		m.configHash = hash
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *defaultSyncManager) {
		m.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *defaultSyncManager) {
		m.logger = logger
	}
}

// WithTracer sets the tracer used for run and state spans
func WithTracer(tracer trace.Tracer) Option {
	return func(m *defaultSyncManager) {
		m.tracer = tracer
	}
}

// WithSyncMetrics sets the sync metrics
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(m *defaultSyncManager) {
		m.metrics = metrics
	}
}

// NewDefaultSyncManager creates a Manager syncing local with the remote store
// on behalf of device.
func NewDefaultSyncManager(
	store remote.Store,
	layout remote.Layout,
	local localstore.Store,
	stateSvc state.SyncStateService,
	device model.DeviceInfo,
	opts ...Option,
) Manager {
	m := &defaultSyncManager{
		store:          store,
		layout:         layout,
		local:          local,
		stateSvc:       stateSvc,
		device:         device,
		lockTTL:        lock.DefaultTTL,
		retention:      DefaultTombstoneRetention,
		requestTimeout: DefaultRequestTimeout,
		retryPolicy:    retry.DefaultPolicy,
		gate:           semaphore.NewWeighted(1),
		now:            time.Now,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.retryPolicy = m.retryPolicy.WithDefaults()

	m.locks = lock.NewManager(store, layout, device.DeviceID,
		lock.WithClock(m.now), lock.WithLogger(m.logger))
	m.builder = snapshot.NewBuilder(local, device,
		snapshot.WithTombstoneRetention(m.retention),
		snapshot.WithClock(m.now),
		snapshot.WithLogger(m.logger))
	m.engine = merge.NewEngine(device.DeviceID,
		merge.WithClock(m.now), merge.WithLogger(m.logger))
	return m
}

// Run executes one sync cycle
func (m *defaultSyncManager) Run(ctx context.Context, opts RunOptions) *Result {
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
		if opts.Confirmed {
			opts.Trigger = TriggerConfirmed
		}
	}

	if !m.gate.TryAcquire(1) {
		res := FailedResult(opts.Trigger, syncerr.New(syncerr.CodeInProgress, "a sync is already in progress"), m.now())
		m.metrics.RecordRun(ctx, string(opts.Trigger), "rejected", 0)
		m.logger.Info("Sync rejected, another run is in progress", "trigger", opts.Trigger)
		return res
	}
	m.running.Store(true)
	defer func() {
		m.running.Store(false)
		m.gate.Release(1)
	}()

	r := m.newRun(opts)
	ctx, span := r.startSpan(ctx, "sync.Run")
	defer span.End()

	r.logger.Info("Starting sync", "remote", m.store.Location())
	m.markSyncing(ctx, r.res.StartedAt)

	err := r.execute(ctx)
	m.finish(ctx, r, err)
	recordSpanResult(span, r.res, err)
	return r.res
}

// TestAvailability checks that the remote can be reached and written
func (m *defaultSyncManager) TestAvailability(ctx context.Context) error {
	return m.call(ctx, "check remote availability", func(ctx context.Context) error {
		return remote.CheckAvailable(ctx, m.store, m.layout)
	})
}

// InProgress reports whether a run is in flight
func (m *defaultSyncManager) InProgress() bool {
	return m.running.Load()
}

// call runs a remote operation with the retry policy, bounding every attempt
// by the request timeout.
func (m *defaultSyncManager) call(ctx context.Context, name string, op func(context.Context) error) error {
	return retry.Run(ctx, name, m.retryPolicy, func(ctx context.Context) error {
		if m.requestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.requestTimeout)
			defer cancel()
		}
		return op(ctx)
	})
}
