package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stacklok/promptsync/internal/localstore"
	"github.com/stacklok/promptsync/internal/netstatus"
	pkgsync "github.com/stacklok/promptsync/internal/sync"
	"github.com/stacklok/promptsync/internal/sync/state"
)

const (
	// CooldownThreshold is the number of consecutive failures after which
	// automatic runs pause for CooldownPeriod.
	CooldownThreshold = 3
	// CooldownPeriod is how long automatic runs pause after repeated failures.
	CooldownPeriod = time.Hour

	// maxJitter caps the random offset applied to the background interval
	maxJitter = 30 * time.Second
)

// Coordinator schedules automatic sync runs
type Coordinator interface {
	// Start begins automatic scheduling.
	// Blocks until the context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops the coordinator and waits for an in-flight run
	Stop() error
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	manager  pkgsync.Manager
	stateSvc state.SyncStateService
	settings Settings

	changes  localstore.Notifier
	network  netstatus.Monitor
	notifier Notifier

	now    func() time.Time
	logger *slog.Logger

	// Lifecycle management
	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
	runs       sync.WaitGroup

	inflight atomic.Bool
	notified atomic.Bool
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithChangeNotifier subscribes the debounce trigger to local changes
func WithChangeNotifier(n localstore.Notifier) Option {
	return func(c *defaultCoordinator) {
		c.changes = n
	}
}

// WithNetworkMonitor pauses automatic runs while offline and triggers a run
// when the network comes back
func WithNetworkMonitor(m netstatus.Monitor) Option {
	return func(c *defaultCoordinator) {
		c.network = m
	}
}

// WithNotifier sets where the suspension escalation goes
func WithNotifier(n Notifier) Option {
	return func(c *defaultCoordinator) {
		c.notifier = n
	}
}

// WithClock overrides the time source used for cooldown decisions
func WithClock(now func() time.Time) Option {
	return func(c *defaultCoordinator) {
		c.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *defaultCoordinator) {
		c.logger = logger
	}
}

// New creates a new coordinator with injected dependencies
func New(
	manager pkgsync.Manager,
	stateSvc state.SyncStateService,
	settings Settings,
	opts ...Option,
) Coordinator {
	c := &defaultCoordinator{
		manager:  manager,
		stateSvc: stateSvc,
		settings: settings,
		now:      time.Now,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Logger: c.logger}
	}

	return c
}

// calculateInterval returns the background interval with a random jitter of up
// to a tenth of the interval, capped at maxJitter.
func calculateInterval(base time.Duration) time.Duration {
	jitter := min(base/10, maxJitter)
	if jitter <= 0 {
		return base
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for scheduling jitter
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return base + offset
}

// Start begins automatic scheduling
func (c *defaultCoordinator) Start(ctx context.Context) error {
	coordCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cancelFunc != nil {
		c.mu.Unlock()
		cancel()
		return errors.New("coordinator already started")
	}
	c.cancelFunc = cancel
	c.mu.Unlock()

	c.logger.Info("Starting sync coordinator",
		"auto_sync", c.settings.AutoSync,
		"interval", c.settings.Interval,
		"debounce", c.settings.Debounce)
	defer func() {
		c.runs.Wait()
		close(c.done)
		c.logger.Info("Sync coordinator shut down")
	}()

	if st, err := c.stateSvc.GetSyncStatus(coordCtx); err == nil {
		// a suspension that survived a restart was already escalated
		c.notified.Store(st.AutoSyncSuspended)
	}

	changes := make(chan struct{}, 1)
	if c.changes != nil {
		unsubscribe := c.changes.Subscribe(func(localstore.ChangeEvent) {
			select {
			case changes <- struct{}{}:
			default:
			}
		})
		defer unsubscribe()
	}

	transitions := make(chan bool, 1)
	if c.network != nil {
		unsubscribe := c.network.Subscribe(func(online bool) {
			for {
				select {
				case transitions <- online:
					return
				default:
				}
				// keep only the latest transition
				select {
				case <-transitions:
				default:
				}
			}
		})
		defer unsubscribe()
	}

	var ticker *time.Ticker
	if c.settings.AutoSync && c.settings.Interval > 0 {
		ticker = time.NewTicker(calculateInterval(c.settings.Interval))
		defer ticker.Stop()
	}
	if c.settings.AutoSync && c.settings.SyncOnStart && c.online() {
		c.trigger(coordCtx, pkgsync.TriggerInterval)
	}
	return c.loop(coordCtx, ticker, changes, transitions)
}

// loop is the single scheduling goroutine. Every trigger decision happens
// here, so at most one debounce timer is ever pending.
func (c *defaultCoordinator) loop(
	ctx context.Context,
	ticker *time.Ticker,
	changes <-chan struct{},
	transitions <-chan bool,
) error {
	var tick <-chan time.Time
	if ticker != nil {
		tick = ticker.C
	}

	var debounce *time.Timer
	var debounceC <-chan time.Time
	// pending records a debounced change that could not run yet
	pending := false

	arm := func() {
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.NewTimer(c.settings.Debounce)
		debounceC = debounce.C
	}
	disarm := func() {
		if debounce != nil {
			debounce.Stop()
		}
		debounce, debounceC = nil, nil
	}
	defer disarm()

	for {
		select {
		case <-tick:
			ticker.Reset(calculateInterval(c.settings.Interval))
			if !c.online() {
				c.logger.Debug("Skipping interval sync while offline")
				continue
			}
			c.trigger(ctx, pkgsync.TriggerInterval)

		case <-changes:
			if !c.settings.AutoSync {
				continue
			}
			arm()

		case <-debounceC:
			debounce, debounceC = nil, nil
			switch {
			case !c.online():
				c.logger.Debug("Deferring debounced sync until online")
				pending = true
			case c.inflight.Load() || c.manager.InProgress():
				// a run is in flight; try again after another quiet period
				arm()
			default:
				pending = false
				c.trigger(ctx, pkgsync.TriggerDebounce)
			}

		case online := <-transitions:
			if !online {
				if debounce != nil {
					pending = true
				}
				disarm()
				continue
			}
			if !c.settings.AutoSync {
				continue
			}
			c.logger.Info("Network is back, syncing", "pending_changes", pending)
			disarm()
			pending = false
			c.trigger(ctx, pkgsync.TriggerOnline)

		case <-ctx.Done():
			c.logger.Info("Sync coordinator stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	c.mu.Lock()
	cancel := c.cancelFunc
	c.mu.Unlock()
	if cancel != nil {
		c.logger.Info("Stopping sync coordinator")
		cancel()
		// Wait for coordinator to finish
		<-c.done
	}
	return nil
}

func (c *defaultCoordinator) online() bool {
	return c.network == nil || c.network.Online()
}
