package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/promptsync/internal/config"
	"github.com/stacklok/promptsync/internal/localstore"
	"github.com/stacklok/promptsync/internal/status"
	pkgsync "github.com/stacklok/promptsync/internal/sync"
	syncmocks "github.com/stacklok/promptsync/internal/sync/mocks"
	statemocks "github.com/stacklok/promptsync/internal/sync/state/mocks"
)

const testHash = "hash-1"

func TestSkipReason(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)
	old := now.Add(-2 * time.Hour)
	enabled := Settings{AutoSync: true, ConfigHash: testHash}

	tests := []struct {
		name     string
		settings Settings
		status   status.SyncStatus
		trigger  pkgsync.Trigger
		allowed  bool
	}{
		{
			name:     "disabled",
			settings: Settings{AutoSync: false},
			trigger:  pkgsync.TriggerInterval,
		},
		{
			name:     "healthy",
			settings: enabled,
			trigger:  pkgsync.TriggerInterval,
			allowed:  true,
		},
		{
			name:     "cooling down after three failures",
			settings: enabled,
			status:   status.SyncStatus{ConsecutiveFailures: 3, LastAttempt: &recent},
			trigger:  pkgsync.TriggerInterval,
		},
		{
			name:     "debounce also waits for the cooldown",
			settings: enabled,
			status:   status.SyncStatus{ConsecutiveFailures: 4, LastAttempt: &recent},
			trigger:  pkgsync.TriggerDebounce,
		},
		{
			name:     "cooldown expired",
			settings: enabled,
			status:   status.SyncStatus{ConsecutiveFailures: 3, LastAttempt: &old},
			trigger:  pkgsync.TriggerInterval,
			allowed:  true,
		},
		{
			name:     "online transition ignores the cooldown",
			settings: enabled,
			status:   status.SyncStatus{ConsecutiveFailures: 3, LastAttempt: &recent},
			trigger:  pkgsync.TriggerOnline,
			allowed:  true,
		},
		{
			name:     "two failures do not cool down",
			settings: enabled,
			status:   status.SyncStatus{ConsecutiveFailures: 2, LastAttempt: &recent},
			trigger:  pkgsync.TriggerInterval,
			allowed:  true,
		},
		{
			name:     "suspended after too many failures",
			settings: enabled,
			status: status.SyncStatus{
				ConsecutiveFailures: 5,
				AutoSyncSuspended:   true,
				SuspendedReason:     pkgsync.SuspendedTooManyFailures,
				LastAttempt:         &old,
			},
			trigger: pkgsync.TriggerOnline,
		},
		{
			name:     "five failures without the flag still block",
			settings: enabled,
			status:   status.SyncStatus{ConsecutiveFailures: 5, LastAttempt: &old},
			trigger:  pkgsync.TriggerInterval,
		},
		{
			name:     "configuration suspension with the same config",
			settings: enabled,
			status: status.SyncStatus{
				ConsecutiveFailures: 1,
				AutoSyncSuspended:   true,
				SuspendedReason:     pkgsync.SuspendedConfiguration,
				SuspendedConfigHash: testHash,
			},
			trigger: pkgsync.TriggerInterval,
		},
		{
			name:     "configuration suspension lifted by a new config",
			settings: Settings{AutoSync: true, ConfigHash: "hash-2"},
			status: status.SyncStatus{
				ConsecutiveFailures: 1,
				AutoSyncSuspended:   true,
				SuspendedReason:     pkgsync.SuspendedPermission,
				SuspendedConfigHash: testHash,
			},
			trigger: pkgsync.TriggerInterval,
			allowed: true,
		},
		{
			name:     "failure suspension is not lifted by a new config",
			settings: Settings{AutoSync: true, ConfigHash: "hash-2"},
			status: status.SyncStatus{
				ConsecutiveFailures: 5,
				AutoSyncSuspended:   true,
				SuspendedReason:     pkgsync.SuspendedTooManyFailures,
				SuspendedConfigHash: testHash,
			},
			trigger: pkgsync.TriggerInterval,
		},
		{
			name:     "awaiting confirmation",
			settings: enabled,
			status:   status.SyncStatus{Phase: status.SyncPhaseAwaitingConfirmation},
			trigger:  pkgsync.TriggerDebounce,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reason := skipReason(tt.settings, &tt.status, tt.trigger, now)
			if tt.allowed {
				assert.Empty(t, reason)
			} else {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestSettingsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Enabled = true
	cfg.SyncIntervalMinutes = 5
	settings := SettingsFromConfig(cfg)
	assert.True(t, settings.AutoSync)
	assert.Equal(t, 5*time.Minute, settings.Interval)
	assert.Equal(t, config.DefaultDebounce, settings.Debounce)
	assert.Equal(t, cfg.ComputeConfigHash(), settings.ConfigHash)

	cfg.Enabled = false
	assert.False(t, SettingsFromConfig(cfg).AutoSync, "auto sync needs sync enabled")

	cfg.Enabled = true
	cfg.SyncIntervalMinutes = -1
	assert.Equal(t, time.Duration(config.DefaultSyncIntervalMinutes)*time.Minute, SettingsFromConfig(cfg).Interval)
}

func TestCalculateInterval(t *testing.T) {
	t.Parallel()

	for range 100 {
		got := calculateInterval(15 * time.Minute)
		assert.GreaterOrEqual(t, got, 15*time.Minute-maxJitter)
		assert.Less(t, got, 15*time.Minute+maxJitter)

		small := calculateInterval(100 * time.Millisecond)
		assert.GreaterOrEqual(t, small, 90*time.Millisecond)
		assert.Less(t, small, 110*time.Millisecond)
	}
}

func TestCoordinator_Stop_BeforeStart(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	coord := New(syncmocks.NewMockManager(ctrl), statemocks.NewMockSyncStateService(ctrl), Settings{})

	// Stop should not panic if called before Start
	assert.NoError(t, coord.Stop())
}

func TestCoordinator_DebounceCoalescesChanges(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Settings{AutoSync: true, Debounce: 40 * time.Millisecond})
	h.manager.EXPECT().Run(gomock.Any(), pkgsync.RunOptions{Trigger: pkgsync.TriggerDebounce}).
		DoAndReturn(h.recordRun).Times(1)
	h.start()

	for range 5 {
		h.changes.emit()
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return h.runCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return h.runCount() > 1 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestCoordinator_ChangesIgnoredWithoutAutoSync(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Settings{AutoSync: false, Debounce: 10 * time.Millisecond, Interval: 10 * time.Millisecond})
	h.manager.EXPECT().Run(gomock.Any(), gomock.Any()).Times(0)
	h.start()

	h.changes.emit()
	h.network.set(false)
	h.network.set(true)
	time.Sleep(100 * time.Millisecond)
}

func TestCoordinator_OfflinePausesUntilOnline(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Settings{AutoSync: true, Debounce: 10 * time.Millisecond})
	h.network.set(false)
	h.manager.EXPECT().Run(gomock.Any(), pkgsync.RunOptions{Trigger: pkgsync.TriggerOnline}).
		DoAndReturn(h.recordRun).Times(1)
	h.start()

	h.changes.emit()
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, h.runCount(), "no run while offline")

	h.network.set(true)
	require.Eventually(t, func() bool { return h.runCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestCoordinator_IntervalRuns(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Settings{AutoSync: true, Interval: 20 * time.Millisecond, Debounce: time.Second})
	h.manager.EXPECT().Run(gomock.Any(), pkgsync.RunOptions{Trigger: pkgsync.TriggerInterval}).
		DoAndReturn(h.recordRun).MinTimes(2)
	h.start()

	require.Eventually(t, func() bool { return h.runCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestCoordinator_SyncOnStart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Settings{AutoSync: true, Interval: time.Hour, Debounce: time.Second, SyncOnStart: true})
	h.manager.EXPECT().Run(gomock.Any(), pkgsync.RunOptions{Trigger: pkgsync.TriggerInterval}).
		DoAndReturn(h.recordRun).Times(1)
	h.start()

	require.Eventually(t, func() bool { return h.runCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestCoordinator_AwaitingConfirmationPausesRuns(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Settings{AutoSync: true, Interval: 10 * time.Millisecond, Debounce: 10 * time.Millisecond})
	h.setStatus(status.SyncStatus{Phase: status.SyncPhaseAwaitingConfirmation})
	h.manager.EXPECT().Run(gomock.Any(), gomock.Any()).Times(0)
	h.start()

	h.changes.emit()
	time.Sleep(100 * time.Millisecond)
}

func TestCoordinator_SkipsTickWhileRunInFlight(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Settings{AutoSync: true, Interval: 10 * time.Millisecond, Debounce: time.Second})
	release := make(chan struct{})
	h.manager.EXPECT().Run(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, opts pkgsync.RunOptions) *pkgsync.Result {
			h.recordRun(ctx, opts)
			<-release
			return &pkgsync.Result{Success: true, Trigger: opts.Trigger}
		}).Times(1)
	h.start()

	require.Eventually(t, func() bool { return h.runCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, h.runCount(), "ticks during a run are skipped")
	close(release)
}

func TestCoordinator_StopLetsRunningSyncFinish(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Settings{AutoSync: true, Interval: time.Hour, Debounce: 10 * time.Millisecond})
	started := make(chan struct{})
	release := make(chan struct{})
	var cancelled atomic.Bool
	h.manager.EXPECT().Run(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, opts pkgsync.RunOptions) *pkgsync.Result {
			close(started)
			select {
			case <-ctx.Done():
				cancelled.Store(true)
			case <-release:
			case <-time.After(500 * time.Millisecond):
			}
			return &pkgsync.Result{Success: true, Trigger: opts.Trigger}
		}).Times(1)
	coord := h.start()

	h.changes.emit()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("automatic run did not start")
	}

	stopped := make(chan struct{})
	go func() {
		assert.NoError(t, coord.Stop())
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was still in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the run finished")
	}
	assert.False(t, cancelled.Load(), "the running sync must not be cancelled by Stop")
}

func TestCoordinator_EscalatesOnce(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	box := &statusBox{}
	stateSvc := statemocks.NewMockSyncStateService(ctrl)
	stateSvc.EXPECT().GetSyncStatus(gomock.Any()).DoAndReturn(box.get).AnyTimes()

	var notices []Notice
	c := New(syncmocks.NewMockManager(ctrl), stateSvc, Settings{AutoSync: true},
		WithNotifier(NotifierFunc(func(_ context.Context, n Notice) { notices = append(notices, n) })),
	).(*defaultCoordinator)

	suspended := status.SyncStatus{
		ConsecutiveFailures: 5,
		AutoSyncSuspended:   true,
		SuspendedReason:     pkgsync.SuspendedTooManyFailures,
		LastResult:          &status.ResultSummary{ErrorCodes: []string{"NETWORK_ERROR"}},
	}

	box.set(suspended)
	c.escalate(context.Background())
	c.escalate(context.Background())
	require.Len(t, notices, 1)
	assert.Equal(t, pkgsync.SuspendedTooManyFailures, notices[0].Reason)
	assert.Equal(t, 5, notices[0].ConsecutiveFailures)
	assert.NotEmpty(t, notices[0].Remediation)

	box.set(status.SyncStatus{})
	c.escalate(context.Background())
	box.set(suspended)
	c.escalate(context.Background())
	assert.Len(t, notices, 2, "a new suspension is escalated again")
}

func TestCoordinator_AutomaticFailureEscalates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Settings{AutoSync: true, Debounce: 10 * time.Millisecond})
	var notices atomic.Int32
	h.opts = append(h.opts, WithNotifier(NotifierFunc(func(context.Context, Notice) { notices.Add(1) })))
	h.setStatus(status.SyncStatus{ConsecutiveFailures: 2})
	h.manager.EXPECT().Run(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, opts pkgsync.RunOptions) *pkgsync.Result {
			h.setStatus(status.SyncStatus{
				ConsecutiveFailures: 1,
				AutoSyncSuspended:   true,
				SuspendedReason:     pkgsync.SuspendedPermission,
				SuspendedConfigHash: testHash,
			})
			return &pkgsync.Result{Trigger: opts.Trigger, Message: "403 Forbidden"}
		}).Times(1)
	h.settings.ConfigHash = testHash
	h.start()

	h.changes.emit()
	require.Eventually(t, func() bool { return notices.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.changes.emit()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), notices.Load())
}

type harness struct {
	t        *testing.T
	manager  *syncmocks.MockManager
	stateSvc *statemocks.MockSyncStateService
	changes  *fakeChanges
	network  *fakeNetwork
	box      *statusBox
	settings Settings
	opts     []Option

	mu   sync.Mutex
	runs []pkgsync.RunOptions
}

func newHarness(t *testing.T, settings Settings) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		t:        t,
		manager:  syncmocks.NewMockManager(ctrl),
		stateSvc: statemocks.NewMockSyncStateService(ctrl),
		changes:  &fakeChanges{},
		network:  &fakeNetwork{online: true},
		box:      &statusBox{},
		settings: settings,
	}
	h.manager.EXPECT().InProgress().Return(false).AnyTimes()
	h.stateSvc.EXPECT().GetSyncStatus(gomock.Any()).DoAndReturn(h.box.get).AnyTimes()
	return h
}

func (h *harness) start() Coordinator {
	opts := append([]Option{
		WithChangeNotifier(h.changes),
		WithNetworkMonitor(h.network),
	}, h.opts...)
	coord := New(h.manager, h.stateSvc, h.settings, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Start(ctx) }()
	require.Eventually(h.t, h.changes.subscribed, time.Second, time.Millisecond)

	h.t.Cleanup(func() {
		cancel()
		assert.NoError(h.t, coord.Stop())
		assert.NoError(h.t, <-done)
	})
	return coord
}

func (h *harness) setStatus(s status.SyncStatus) {
	h.box.set(s)
}

func (h *harness) recordRun(_ context.Context, opts pkgsync.RunOptions) *pkgsync.Result {
	h.mu.Lock()
	h.runs = append(h.runs, opts)
	h.mu.Unlock()
	return &pkgsync.Result{Success: true, Trigger: opts.Trigger}
}

func (h *harness) runCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runs)
}

type statusBox struct {
	mu sync.Mutex
	s  status.SyncStatus
}

func (b *statusBox) get(context.Context) (*status.SyncStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s.Clone(), nil
}

func (b *statusBox) set(s status.SyncStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s = s
}

type fakeChanges struct {
	mu  sync.Mutex
	fns []func(localstore.ChangeEvent)
}

func (f *fakeChanges) Subscribe(fn func(localstore.ChangeEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns = append(f.fns, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.fns = nil
	}
}

func (f *fakeChanges) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fns) > 0
}

func (f *fakeChanges) emit() {
	f.mu.Lock()
	fns := append([]func(localstore.ChangeEvent){}, f.fns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(localstore.ChangeEvent{Operation: localstore.OperationUpdate, ID: "p1"})
	}
}

type fakeNetwork struct {
	mu     sync.Mutex
	online bool
	fns    []func(bool)
}

func (f *fakeNetwork) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeNetwork) Subscribe(fn func(bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns = append(f.fns, fn)
	return func() {}
}

func (f *fakeNetwork) set(online bool) {
	f.mu.Lock()
	f.online = online
	fns := append([]func(bool){}, f.fns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}
