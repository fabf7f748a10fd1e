// Package netstatus tracks whether the configured remote is reachable and
// publishes online/offline transitions to subscribers.
package netstatus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/promptsync/internal/remote"
	"github.com/stacklok/promptsync/internal/syncerr"
)

// Default probe timings
const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 10 * time.Second
)

// Monitor reports network reachability.
type Monitor interface {
	// Online reports the last observed state.
	Online() bool
	// Subscribe registers fn for transitions and returns a function that removes it.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Prober checks reachability once. Only network errors mean offline.
type Prober func(ctx context.Context) error

// StoreProbe probes the sync root of a remote store. Errors other than network
// errors prove the remote answered, so they count as online.
func StoreProbe(store remote.Store, layout remote.Layout) Prober {
	return func(ctx context.Context) error {
		_, err := store.Exists(ctx, layout.Root)
		return err
	}
}

// ProbeMonitor is a Monitor driven by a periodic Prober.
type ProbeMonitor struct {
	probe    Prober
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

// Option configures a ProbeMonitor
type Option func(*ProbeMonitor)

// WithInterval sets the time between probes
func WithInterval(d time.Duration) Option {
	return func(m *ProbeMonitor) {
		m.interval = d
	}
}

// WithTimeout bounds a single probe
func WithTimeout(d time.Duration) Option {
	return func(m *ProbeMonitor) {
		m.timeout = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *ProbeMonitor) {
		m.logger = logger
	}
}

// NewProbeMonitor creates a monitor that assumes it is online until a probe
// says otherwise.
func NewProbeMonitor(probe Prober, opts ...Option) *ProbeMonitor {
	m := &ProbeMonitor{
		probe:    probe,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		online:   true,
		subs:     make(map[int]func(bool)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online implements Monitor
func (m *ProbeMonitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe implements Monitor
func (m *ProbeMonitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Run probes immediately and then on every interval until ctx is done.
func (m *ProbeMonitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Check runs one probe, publishes a transition if the state changed and
// returns the new state.
func (m *ProbeMonitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return m.Online()
	}

	online := err == nil || !syncerr.Is(err, syncerr.CodeNetwork)
	m.set(online, err)
	return online
}

func (m *ProbeMonitor) set(online bool, cause error) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if online {
		m.logger.Info("Remote is reachable again")
	} else {
		m.logger.Warn("Remote is unreachable, pausing automatic sync", "error", cause)
	}
	for _, fn := range subs {
		fn(online)
	}
}
