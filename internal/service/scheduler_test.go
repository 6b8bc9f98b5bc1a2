package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCleanupStore struct {
	mock.Mock
	Store
}

func (m *mockCleanupStore) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	args := m.Called(ctx, retentionDays)
	return args.Get(0).(int64), args.Error(1)
}

func TestSchedulerRunsCleanupOnStart(t *testing.T) {
	store := &mockCleanupStore{}
	store.On("CleanupOldRecords", mock.Anything, 90).Return(int64(3), nil)

	scheduler := NewScheduler(store, 90, 24, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(store.Calls) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on context cancel")
	}

	store.AssertExpectations(t)
}

func TestSchedulerStop(t *testing.T) {
	store := &mockCleanupStore{}
	store.On("CleanupOldRecords", mock.Anything, 30).Return(int64(0), nil)

	scheduler := NewScheduler(store, 30, 24, quietLogger())

	done := make(chan struct{})
	go func() {
		scheduler.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(store.Calls) > 0
	}, 2*time.Second, 10*time.Millisecond)

	scheduler.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on Stop")
	}
}

func TestSchedulerDefaultInterval(t *testing.T) {
	scheduler := NewScheduler(&mockCleanupStore{}, 90, 0, quietLogger())
	assert.Equal(t, 24, scheduler.intervalHours)
}
