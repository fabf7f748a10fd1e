package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/promptsync/internal/status"
	statusmocks "github.com/stacklok/promptsync/internal/status/mocks"
)

func TestFileStateService_Initialize(t *testing.T) {
	t.Parallel()

	syncTime := time.Now()
	tests := []struct {
		name         string
		setupMocks   func(*statusmocks.MockStatusPersistence)
		wantPhase    status.SyncPhase
		wantFailures int
	}{
		{
			name: "loads existing status",
			setupMocks: func(m *statusmocks.MockStatusPersistence) {
				m.EXPECT().LoadStatus(gomock.Any()).Return(&status.SyncStatus{
					Phase:        status.SyncPhaseComplete,
					LastSyncTime: &syncTime,
					ItemCount:    5,
				}, nil)
			},
			wantPhase: status.SyncPhaseComplete,
		},
		{
			name: "first run persists defaults",
			setupMocks: func(m *statusmocks.MockStatusPersistence) {
				m.EXPECT().LoadStatus(gomock.Any()).Return(&status.SyncStatus{}, nil)
				m.EXPECT().SaveStatus(gomock.Any(), gomock.Any()).Return(nil)
			},
			wantPhase: status.SyncPhaseIdle,
		},
		{
			name: "interrupted run is reported as failed",
			setupMocks: func(m *statusmocks.MockStatusPersistence) {
				m.EXPECT().LoadStatus(gomock.Any()).Return(&status.SyncStatus{
					Phase:               status.SyncPhaseSyncing,
					LastSyncTime:        &syncTime,
					ConsecutiveFailures: 1,
				}, nil)
				m.EXPECT().SaveStatus(gomock.Any(), gomock.Any()).DoAndReturn(
					func(_ context.Context, s *status.SyncStatus) error {
						assert.Equal(t, status.SyncPhaseFailed, s.Phase)
						return nil
					})
			},
			wantPhase:    status.SyncPhaseFailed,
			wantFailures: 2,
		},
		{
			name: "load error falls back to defaults",
			setupMocks: func(m *statusmocks.MockStatusPersistence) {
				m.EXPECT().LoadStatus(gomock.Any()).Return(nil, errors.New("corrupt"))
				m.EXPECT().SaveStatus(gomock.Any(), gomock.Any()).Return(errors.New("read-only"))
			},
			wantPhase: status.SyncPhaseIdle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			mockPersistence := statusmocks.NewMockStatusPersistence(ctrl)
			tt.setupMocks(mockPersistence)

			service := NewFileStateService(mockPersistence)
			require.NoError(t, service.Initialize(context.Background()))

			got, err := service.GetSyncStatus(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantPhase, got.Phase)
			assert.Equal(t, tt.wantFailures, got.ConsecutiveFailures)
		})
	}
}

func TestFileStateService_UpdateStatusAtomically(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	mockPersistence := statusmocks.NewMockStatusPersistence(ctrl)
	service := NewFileStateService(mockPersistence)
	ctx := context.Background()

	// no change, no write
	updated, err := service.UpdateStatusAtomically(ctx, func(*status.SyncStatus) bool { return false })
	require.NoError(t, err)
	assert.False(t, updated)

	mockPersistence.EXPECT().SaveStatus(gomock.Any(), gomock.Any()).Return(nil)
	updated, err = service.UpdateStatusAtomically(ctx, func(s *status.SyncStatus) bool {
		s.Phase = status.SyncPhaseSyncing
		return true
	})
	require.NoError(t, err)
	assert.True(t, updated)

	// a failed save keeps the previous state
	mockPersistence.EXPECT().SaveStatus(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	_, err = service.UpdateStatusAtomically(ctx, func(s *status.SyncStatus) bool {
		s.Phase = status.SyncPhaseComplete
		return true
	})
	require.Error(t, err)

	got, err := service.GetSyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.SyncPhaseSyncing, got.Phase)

	// callers cannot mutate the cached copy
	got.Phase = status.SyncPhaseFailed
	again, err := service.GetSyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.SyncPhaseSyncing, again.Phase)
}

func TestFileStateService_RoundTripThroughFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	first := NewFileStateService(status.NewFileStatusPersistence(dir))
	require.NoError(t, first.Initialize(ctx))
	_, err := first.UpdateStatusAtomically(ctx, func(s *status.SyncStatus) bool {
		s.Phase = status.SyncPhaseSyncing
		s.LastSyncID = "sync-1"
		return true
	})
	require.NoError(t, err)

	// a restart sees the interrupted run
	second := NewFileStateService(status.NewFileStatusPersistence(dir))
	require.NoError(t, second.Initialize(ctx))
	got, err := second.GetSyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.SyncPhaseFailed, got.Phase)
	assert.Equal(t, "sync-1", got.LastSyncID)
	assert.Equal(t, 1, got.ConsecutiveFailures)
}
