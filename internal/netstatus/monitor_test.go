package netstatus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/promptsync/internal/remote"
	"github.com/stacklok/promptsync/internal/syncerr"
)

func TestCheckPublishesTransitions(t *testing.T) {
	t.Parallel()

	var probeErr atomic.Value
	probeErr.Store(errBox{})
	m := NewProbeMonitor(func(context.Context) error { return probeErr.Load().(errBox).err })

	var seen []bool
	unsubscribe := m.Subscribe(func(online bool) { seen = append(seen, online) })

	assert.True(t, m.Check(context.Background()))
	assert.Empty(t, seen, "no transition while staying online")

	probeErr.Store(errBox{syncerr.New(syncerr.CodeNetwork, "dial tcp: connection refused")})
	assert.False(t, m.Check(context.Background()))
	assert.False(t, m.Check(context.Background()))
	assert.False(t, m.Online())

	probeErr.Store(errBox{})
	assert.True(t, m.Check(context.Background()))
	assert.Equal(t, []bool{false, true}, seen)

	unsubscribe()
	probeErr.Store(errBox{syncerr.New(syncerr.CodeNetwork, "timeout")})
	m.Check(context.Background())
	assert.Len(t, seen, 2, "unsubscribed listeners are not called")
}

func TestCheckTreatsNonNetworkErrorsAsOnline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		online bool
	}{
		{name: "permission denied", err: syncerr.New(syncerr.CodePermission, "401"), online: true},
		{name: "not found", err: syncerr.New(syncerr.CodeNotFound, "404"), online: true},
		{name: "deadline", err: context.DeadlineExceeded, online: false},
		{name: "plain error", err: errors.New("boom"), online: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewProbeMonitor(func(context.Context) error { return tt.err })
			assert.Equal(t, tt.online, m.Check(context.Background()))
		})
	}
}

func TestStoreProbe(t *testing.T) {
	t.Parallel()

	store := remote.NewMemoryStore()
	m := NewProbeMonitor(StoreProbe(store, remote.NewLayout("PromptSync")))
	assert.True(t, m.Check(context.Background()))

	store.SetFailure(syncerr.New(syncerr.CodeNetwork, "no route to host"))
	assert.False(t, m.Check(context.Background()))
}

func TestRunProbesUntilCanceled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	m := NewProbeMonitor(func(context.Context) error {
		calls.Add(1)
		return nil
	}, WithInterval(5*time.Millisecond), WithTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type errBox struct{ err error }
