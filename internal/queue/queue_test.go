package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	apperrors "wareply/internal/errors"
	"wareply/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	m := NewManager(
		models.QueueConfig{AIConcurrency: 1, MaxAttempts: 3, CompletedRetention: 5, FailedRetention: 5},
		models.RetryConfig{InitialBackoffMs: 10, MaxBackoffMs: 50, MaxAttempts: 3},
		logger,
	)
	t.Cleanup(m.Stop)
	return m
}

func TestAddAndProcess(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 1)

	processed := make(chan *models.Job, 1)
	require.NoError(t, m.RegisterHandler("ai", "process-message", func(ctx context.Context, job *models.Job) error {
		processed <- job
		return nil
	}))
	m.Start(context.Background())

	payload := models.ProcessMessagePayload{ConversationID: 1, MessageID: 2, Source: "whatsapp"}
	job, err := m.Add(context.Background(), "ai", "process-message", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	select {
	case got := <-processed:
		var decoded models.ProcessMessagePayload
		require.NoError(t, json.Unmarshal(got.Payload, &decoded))
		assert.Equal(t, payload, decoded)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}

	require.Eventually(t, func() bool {
		status, err := m.Status("ai")
		require.NoError(t, err)
		return status.Completed == 1 && status.Active == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetryThenSucceed(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 1)

	var calls int32
	done := make(chan struct{})
	require.NoError(t, m.RegisterHandler("ai", "flaky", func(ctx context.Context, job *models.Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}))
	m.Start(context.Background())

	_, err := m.Add(context.Background(), "ai", "flaky", nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	require.Eventually(t, func() bool {
		status, _ := m.Status("ai")
		return status.Completed == 1 && status.Failed == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPermanentFailureAfterMaxAttempts(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 1)

	var calls int32
	require.NoError(t, m.RegisterHandler("ai", "broken", func(ctx context.Context, job *models.Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("permanent")
	}))
	m.Start(context.Background())

	_, err := m.Add(context.Background(), "ai", "broken", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, _ := m.Status("ai")
		return status.Failed == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	status, err := m.Status("ai")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Waiting)
	assert.Equal(t, 0, status.Delayed)
}

func TestHandlerPanicCountsAsFailure(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 1)

	require.NoError(t, m.RegisterHandler("ai", "panicky", func(ctx context.Context, job *models.Job) error {
		panic("boom")
	}))
	m.Start(context.Background())

	_, err := m.Add(context.Background(), "ai", "panicky", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, _ := m.Status("ai")
		return status.Failed == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Worker survived the panic
	health := m.Health()
	assert.Equal(t, 1, health.Queues["ai"].WorkersLive)
}

func TestPausedQueueHoldsJobs(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 1)

	processed := make(chan struct{}, 10)
	require.NoError(t, m.RegisterHandler("ai", "work", func(ctx context.Context, job *models.Job) error {
		processed <- struct{}{}
		return nil
	}))
	m.Start(context.Background())

	require.NoError(t, m.Pause("ai"))

	// Enqueueing on a paused queue succeeds and the job stays waiting
	_, err := m.Add(context.Background(), "ai", "work", nil)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	select {
	case <-processed:
		t.Fatal("job ran while queue was paused")
	default:
	}

	status, err := m.Status("ai")
	require.NoError(t, err)
	assert.True(t, status.Paused)
	assert.Equal(t, 1, status.Waiting)

	require.NoError(t, m.Resume("ai"))

	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed after resume")
	}
}

func TestPauseDoesNotAbortActiveJob(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 1)

	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	require.NoError(t, m.RegisterHandler("ai", "slow", func(ctx context.Context, job *models.Job) error {
		close(started)
		<-release
		close(finished)
		return nil
	}))
	m.Start(context.Background())

	_, err := m.Add(context.Background(), "ai", "slow", nil)
	require.NoError(t, err)

	<-started
	require.NoError(t, m.Pause("ai"))
	close(release)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("active job did not run to completion")
	}

	require.Eventually(t, func() bool {
		status, _ := m.Status("ai")
		return status.Completed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAddUnknownQueue(t *testing.T) {
	m := newTestManager(t)
	m.Start(context.Background())

	_, err := m.Add(context.Background(), "nope", "work", nil)
	assert.ErrorIs(t, err, ErrQueueNotFound)
}

func TestAddAfterStop(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	m := NewManager(
		models.QueueConfig{MaxAttempts: 1, CompletedRetention: 5, FailedRetention: 5},
		models.RetryConfig{InitialBackoffMs: 10, MaxBackoffMs: 50, MaxAttempts: 1},
		logger,
	)
	m.CreateQueue("ai", 1)
	m.Start(context.Background())
	m.Stop()

	_, err := m.Add(context.Background(), "ai", "work", nil)
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestNoHandlerFailsJob(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 1)
	m.Start(context.Background())

	_, err := m.Add(context.Background(), "ai", "unregistered", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, _ := m.Status("ai")
		return status.Failed == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCleanDropsHistory(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 1)
	require.NoError(t, m.RegisterHandler("ai", "work", func(ctx context.Context, job *models.Job) error {
		return nil
	}))
	m.Start(context.Background())

	_, err := m.Add(context.Background(), "ai", "work", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, _ := m.Status("ai")
		return status.Completed == 1
	}, 2*time.Second, 10*time.Millisecond)

	removed, err := m.Clean("ai", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	status, err := m.Status("ai")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Completed)
}

func TestCleanFiltersByStateAndAge(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 1)
	require.NoError(t, m.RegisterHandler("ai", "ok", func(ctx context.Context, job *models.Job) error {
		return nil
	}))
	require.NoError(t, m.RegisterHandler("ai", "bad", func(ctx context.Context, job *models.Job) error {
		return apperrors.Wrap(errors.New("no"), apperrors.ErrCodeChannelAPI, "channel API rejected message")
	}))
	m.Start(context.Background())

	_, err := m.Add(context.Background(), "ai", "ok", nil)
	require.NoError(t, err)
	_, err = m.Add(context.Background(), "ai", "bad", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, _ := m.Status("ai")
		return status.Completed == 1 && status.Failed == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Both jobs just finished, so an age filter keeps them
	removed, err := m.Clean("ai", "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	// State filter purges only the matching history
	removed, err = m.Clean("ai", models.JobStateCompleted, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	status, err := m.Status("ai")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Completed)
	assert.Equal(t, 1, status.Failed)

	removed, err = m.Clean("ai", models.JobStateFailed, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = m.Clean("ai", models.JobStateWaiting, 0)
	assert.Error(t, err)
}

func TestPauseAllAndResumeAll(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 1)
	m.CreateQueue("mail", 1)

	processed := make(chan struct{}, 2)
	handler := func(ctx context.Context, job *models.Job) error {
		processed <- struct{}{}
		return nil
	}
	require.NoError(t, m.RegisterHandler("ai", "work", handler))
	require.NoError(t, m.RegisterHandler("mail", "work", handler))
	m.Start(context.Background())

	m.PauseAll()

	_, err := m.Add(context.Background(), "ai", "work", nil)
	require.NoError(t, err)
	_, err = m.Add(context.Background(), "mail", "work", nil)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	select {
	case <-processed:
		t.Fatal("job ran while all queues were paused")
	default:
	}

	for _, name := range []string{"ai", "mail"} {
		status, err := m.Status(name)
		require.NoError(t, err)
		assert.True(t, status.Paused, name)
	}

	m.ResumeAll()

	for i := 0; i < 2; i++ {
		select {
		case <-processed:
		case <-time.After(2 * time.Second):
			t.Fatal("job was not processed after resume")
		}
	}
}

func TestCleanAllSumsRemovals(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 1)
	m.CreateQueue("mail", 1)

	handler := func(ctx context.Context, job *models.Job) error { return nil }
	require.NoError(t, m.RegisterHandler("ai", "work", handler))
	require.NoError(t, m.RegisterHandler("mail", "work", handler))
	m.Start(context.Background())

	_, err := m.Add(context.Background(), "ai", "work", nil)
	require.NoError(t, err)
	_, err = m.Add(context.Background(), "mail", "work", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ai, _ := m.Status("ai")
		mail, _ := m.Status("mail")
		return ai.Completed == 1 && mail.Completed == 1
	}, 5*time.Second, 10*time.Millisecond)

	removed, err := m.CleanAll("", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestCompletedRetentionBounded(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 1)
	require.NoError(t, m.RegisterHandler("ai", "work", func(ctx context.Context, job *models.Job) error {
		return nil
	}))
	m.Start(context.Background())

	for i := 0; i < 8; i++ {
		_, err := m.Add(context.Background(), "ai", "work", nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		status, _ := m.Status("ai")
		return status.Waiting == 0 && status.Active == 0
	}, 5*time.Second, 10*time.Millisecond)

	status, err := m.Status("ai")
	require.NoError(t, err)
	assert.Equal(t, 5, status.Completed)
}

func TestMetricsRates(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 1)
	require.NoError(t, m.RegisterHandler("ai", "ok", func(ctx context.Context, job *models.Job) error {
		return nil
	}))
	require.NoError(t, m.RegisterHandler("ai", "bad", func(ctx context.Context, job *models.Job) error {
		return errors.New("nope")
	}))
	m.Start(context.Background())

	_, err := m.Add(context.Background(), "ai", "ok", nil)
	require.NoError(t, err)
	_, err = m.Add(context.Background(), "ai", "bad", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		metrics := m.Metrics()
		return metrics.TotalJobs == 2
	}, 5*time.Second, 10*time.Millisecond)

	metrics := m.Metrics()
	assert.InDelta(t, 0.5, metrics.SuccessRate, 0.001)
	assert.InDelta(t, 0.5, metrics.FailureRate, 0.001)
	assert.Contains(t, metrics.Queues, "ai")
}

func TestHealthReport(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 2)
	m.Start(context.Background())

	require.Eventually(t, func() bool {
		health := m.Health()
		return health.Queues["ai"].WorkersLive == 2
	}, 2*time.Second, 10*time.Millisecond)

	health := m.Health()
	assert.True(t, health.Healthy)
	assert.Equal(t, 2, health.Queues["ai"].Workers)
}

func TestNonRetryableErrorFailsFast(t *testing.T) {
	m := newTestManager(t)
	m.CreateQueue("ai", 1)

	var calls int32
	require.NoError(t, m.RegisterHandler("ai", "rejected", func(ctx context.Context, job *models.Job) error {
		atomic.AddInt32(&calls, 1)
		return apperrors.Wrap(errors.New("bad recipient"), apperrors.ErrCodeChannelAPI, "channel API rejected message")
	}))
	m.Start(context.Background())

	_, err := m.Add(context.Background(), "ai", "rejected", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, _ := m.Status("ai")
		return status.Failed == 1
	}, 2*time.Second, 10*time.Millisecond)

	// No retries for an error marked non-retryable
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
