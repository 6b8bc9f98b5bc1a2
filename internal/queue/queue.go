package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wareply/internal/constants"
	apperrors "wareply/internal/errors"
	"wareply/internal/metrics"
	"wareply/internal/models"
	"wareply/internal/retry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrQueueNotFound = errors.New("queue not found")
	ErrQueueStopped  = errors.New("queue manager is stopped")
	ErrNoHandler     = errors.New("no handler registered for job type")
)

// HandlerFunc processes one job. A non-nil error schedules a retry
// until the job's attempts are exhausted.
type HandlerFunc func(ctx context.Context, job *models.Job) error

// Manager owns a set of named in-process job queues. Each queue has its
// own worker pool, pause switch and bounded completed/failed history.
type Manager struct {
	logger             *logrus.Logger
	backoff            *retry.Backoff
	maxAttempts        int
	completedRetention int
	failedRetention    int

	mu      sync.Mutex
	queues  map[string]*jobQueue
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type jobQueue struct {
	name        string
	concurrency int
	handlers    map[string]HandlerFunc

	mu        sync.Mutex
	paused    bool
	waiting   []*models.Job
	delayed   map[string]*models.Job
	active    map[string]*models.Job
	completed []*models.Job
	failed    []*models.Job
	notify    chan struct{}

	workersLive    int64
	totalProcessed int64
	totalFailed    int64
}

// NewManager creates a queue manager from configuration. Queues are
// declared with CreateQueue before Start.
func NewManager(cfg models.QueueConfig, retryCfg models.RetryConfig, logger *logrus.Logger) *Manager {
	backoff := retry.BackoffConfig{
		InitialDelay: time.Duration(retryCfg.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(retryCfg.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.MaxAttempts,
		Jitter:       true,
	}

	return &Manager{
		logger:             logger,
		backoff:            retry.NewBackoff(backoff),
		maxAttempts:        cfg.MaxAttempts,
		completedRetention: cfg.CompletedRetention,
		failedRetention:    cfg.FailedRetention,
		queues:             make(map[string]*jobQueue),
	}
}

// CreateQueue declares a named queue with a fixed worker count.
// Calling it again for the same name adjusts nothing and is a no-op.
func (m *Manager) CreateQueue(name string, concurrency int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.queues[name]; exists {
		return
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	m.queues[name] = &jobQueue{
		name:        name,
		concurrency: concurrency,
		handlers:    make(map[string]HandlerFunc),
		delayed:     make(map[string]*models.Job),
		active:      make(map[string]*models.Job),
		notify:      make(chan struct{}, 1),
	}
}

// RegisterHandler binds a job type on a queue to its handler.
func (m *Manager) RegisterHandler(queueName, jobType string, handler HandlerFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queueName]
	if !ok {
		return ErrQueueNotFound
	}
	q.handlers[jobType] = handler
	return nil
}

// Start launches the worker pools. It returns immediately; workers run
// until Stop or ctx cancellation.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)

	for _, q := range m.queues {
		for i := 0; i < q.concurrency; i++ {
			m.wg.Add(1)
			go m.worker(q)
		}
	}

	m.logger.WithField("queues", len(m.queues)).Info("Queue manager started")
}

// Stop drains the manager: no new jobs are accepted, active jobs run to
// completion, waiting jobs stay queued in memory until shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("Queue manager stopped")
}

// Add enqueues a job. Enqueueing on a paused queue succeeds; the job
// waits until the queue is resumed.
func (m *Manager) Add(ctx context.Context, queueName, jobType string, payload interface{}) (*models.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrQueueStopped
	}
	q, ok := m.queues[queueName]
	m.mu.Unlock()
	if !ok {
		return nil, ErrQueueNotFound
	}

	job := &models.Job{
		ID:          uuid.NewString(),
		QueueName:   queueName,
		Type:        jobType,
		Payload:     data,
		MaxAttempts: m.maxAttempts,
		State:       models.JobStateWaiting,
		EnqueuedAt:  time.Now().UTC(),
	}

	q.mu.Lock()
	q.waiting = append(q.waiting, job)
	q.mu.Unlock()
	q.wake()

	metrics.IncrementCounter("queue_jobs_enqueued_total",
		map[string]string{"queue": queueName, "type": jobType}, "jobs enqueued")

	m.logger.WithFields(logrus.Fields{
		"queue":  queueName,
		"type":   jobType,
		"job_id": job.ID,
	}).Debug("Job enqueued")

	return job, nil
}

// Pause stops dequeueing on a queue. Jobs already being processed run
// to completion; waiting and newly added jobs hold their state.
func (m *Manager) Pause(queueName string) error {
	q, err := m.queue(queueName)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	m.logger.WithField("queue", queueName).Info("Queue paused")
	return nil
}

// Resume re-enables dequeueing on a paused queue.
func (m *Manager) Resume(queueName string) error {
	q, err := m.queue(queueName)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.wake()
	m.logger.WithField("queue", queueName).Info("Queue resumed")
	return nil
}

// PauseAll pauses every declared queue.
func (m *Manager) PauseAll() {
	for _, q := range m.allQueues() {
		q.mu.Lock()
		q.paused = true
		q.mu.Unlock()
	}
	m.logger.Info("All queues paused")
}

// ResumeAll re-enables dequeueing on every declared queue.
func (m *Manager) ResumeAll() {
	for _, q := range m.allQueues() {
		q.mu.Lock()
		q.paused = false
		q.mu.Unlock()
		q.wake()
	}
	m.logger.Info("All queues resumed")
}

// Clean purges terminal job history on one queue. state narrows the
// purge to completed or failed jobs; empty means both. olderThan keeps
// jobs that finished within that duration. Returns how many jobs were
// removed.
func (m *Manager) Clean(queueName string, state models.JobState, olderThan time.Duration) (int, error) {
	if err := validCleanState(state); err != nil {
		return 0, err
	}
	q, err := m.queue(queueName)
	if err != nil {
		return 0, err
	}

	removed := cleanQueue(q, state, time.Now().UTC().Add(-olderThan))
	m.logger.WithFields(logrus.Fields{
		"queue":   queueName,
		"removed": removed,
	}).Info("Queue history cleaned")
	return removed, nil
}

// CleanAll runs Clean over every declared queue and sums the removals.
func (m *Manager) CleanAll(state models.JobState, olderThan time.Duration) (int, error) {
	if err := validCleanState(state); err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	removed := 0
	for _, q := range m.allQueues() {
		removed += cleanQueue(q, state, cutoff)
	}
	m.logger.WithField("removed", removed).Info("All queue histories cleaned")
	return removed, nil
}

func validCleanState(state models.JobState) error {
	switch state {
	case "", models.JobStateCompleted, models.JobStateFailed:
		return nil
	default:
		return fmt.Errorf("clean applies to completed or failed jobs, got %q", state)
	}
}

func cleanQueue(q *jobQueue, state models.JobState, cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	if state == "" || state == models.JobStateCompleted {
		q.completed, removed = purgeFinished(q.completed, cutoff, removed)
	}
	if state == "" || state == models.JobStateFailed {
		q.failed, removed = purgeFinished(q.failed, cutoff, removed)
	}
	return removed
}

// purgeFinished drops jobs that finished at or before the cutoff and
// reports the running removal count.
func purgeFinished(jobs []*models.Job, cutoff time.Time, removed int) ([]*models.Job, int) {
	kept := jobs[:0]
	for _, job := range jobs {
		if job.FinishedAt != nil && job.FinishedAt.After(cutoff) {
			kept = append(kept, job)
		} else {
			removed++
		}
	}
	return kept, removed
}

// Status reports the current counts of one queue.
func (m *Manager) Status(queueName string) (*models.QueueStatus, error) {
	q, err := m.queue(queueName)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return &models.QueueStatus{
		Name:      q.name,
		Paused:    q.paused,
		Waiting:   len(q.waiting),
		Active:    len(q.active),
		Completed: len(q.completed),
		Failed:    len(q.failed),
		Delayed:   len(q.delayed),
	}, nil
}

// Metrics aggregates processing statistics across all queues.
func (m *Manager) Metrics() *models.QueueMetrics {
	m.mu.Lock()
	queues := make([]*jobQueue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	result := &models.QueueMetrics{Queues: make(map[string]models.QueueStatus)}
	var processed, failed int64
	for _, q := range queues {
		q.mu.Lock()
		result.Queues[q.name] = models.QueueStatus{
			Name:      q.name,
			Paused:    q.paused,
			Waiting:   len(q.waiting),
			Active:    len(q.active),
			Completed: len(q.completed),
			Failed:    len(q.failed),
			Delayed:   len(q.delayed),
		}
		q.mu.Unlock()
		processed += atomic.LoadInt64(&q.totalProcessed)
		failed += atomic.LoadInt64(&q.totalFailed)
	}

	result.TotalJobs = processed
	if processed > 0 {
		result.SuccessRate = float64(processed-failed) / float64(processed)
		result.FailureRate = float64(failed) / float64(processed)
	}
	return result
}

// Health reports per-queue worker liveness. A queue is unhealthy when
// fewer workers are alive than were started.
func (m *Manager) Health() *models.QueueHealth {
	m.mu.Lock()
	queues := make([]*jobQueue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	started := m.started
	stopped := m.stopped
	m.mu.Unlock()

	health := &models.QueueHealth{Healthy: started && !stopped, Queues: make(map[string]models.QueueDetail)}
	for _, q := range queues {
		live := int(atomic.LoadInt64(&q.workersLive))
		q.mu.Lock()
		detail := models.QueueDetail{
			Paused:      q.paused,
			Workers:     q.concurrency,
			WorkersLive: live,
			Waiting:     len(q.waiting),
			Active:      len(q.active),
		}
		q.mu.Unlock()
		if live < q.concurrency {
			health.Healthy = false
		}
		health.Queues[q.name] = detail
	}
	return health
}

func (m *Manager) queue(name string) (*jobQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		return nil, ErrQueueNotFound
	}
	return q, nil
}

func (m *Manager) allQueues() []*jobQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	queues := make([]*jobQueue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	return queues
}

func (m *Manager) worker(q *jobQueue) {
	defer m.wg.Done()
	atomic.AddInt64(&q.workersLive, 1)
	defer atomic.AddInt64(&q.workersLive, -1)

	heartbeat := time.Duration(constants.DefaultWorkerHeartbeatSec) * time.Second

	for {
		job := q.dequeue()
		if job == nil {
			select {
			case <-m.ctx.Done():
				return
			case <-q.notify:
			case <-time.After(heartbeat):
			}
			continue
		}
		m.process(q, job)
	}
}

func (m *Manager) process(q *jobQueue, job *models.Job) {
	job.Attempts++
	start := time.Now()

	handler := q.handlers[job.Type]

	var err error
	if handler == nil {
		err = ErrNoHandler
	} else {
		err = m.runHandler(job, handler)
	}

	metrics.RecordTimer("queue_job_duration",
		time.Since(start), map[string]string{"queue": q.name, "type": job.Type}, "job processing time")

	if err == nil {
		m.complete(q, job)
		return
	}

	job.LastError = err.Error()
	if job.Attempts >= job.MaxAttempts || !retryable(err) {
		m.fail(q, job)
		return
	}

	delay := m.backoff.NextDelay(job.Attempts)
	m.logger.WithFields(logrus.Fields{
		"queue":   q.name,
		"job_id":  job.ID,
		"attempt": job.Attempts,
		"delay":   delay.String(),
	}).WithError(err).Warn("Job failed, scheduling retry")

	q.mu.Lock()
	delete(q.active, job.ID)
	job.State = models.JobStateDelayed
	q.delayed[job.ID] = job
	q.mu.Unlock()

	time.AfterFunc(delay, func() {
		q.mu.Lock()
		if _, ok := q.delayed[job.ID]; !ok {
			q.mu.Unlock()
			return
		}
		delete(q.delayed, job.ID)
		job.State = models.JobStateWaiting
		q.waiting = append(q.waiting, job)
		q.mu.Unlock()
		q.wake()
	})
}

// retryable reports whether a failed attempt should be scheduled
// again. Plain errors retry; a structured application error can opt
// out for failures that can never succeed.
func retryable(err error) bool {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return true
}

// runHandler shields the worker from handler panics; a panic counts as
// a failed attempt.
func (m *Manager) runHandler(job *models.Job, handler HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(m.ctx, job)
}

func (m *Manager) complete(q *jobQueue, job *models.Job) {
	now := time.Now().UTC()
	atomic.AddInt64(&q.totalProcessed, 1)

	q.mu.Lock()
	delete(q.active, job.ID)
	job.State = models.JobStateCompleted
	job.FinishedAt = &now
	q.completed = append(q.completed, job)
	if len(q.completed) > m.completedRetention {
		q.completed = q.completed[len(q.completed)-m.completedRetention:]
	}
	q.mu.Unlock()

	metrics.IncrementCounter("queue_jobs_completed_total",
		map[string]string{"queue": q.name, "type": job.Type}, "jobs completed")
}

func (m *Manager) fail(q *jobQueue, job *models.Job) {
	now := time.Now().UTC()
	atomic.AddInt64(&q.totalProcessed, 1)
	atomic.AddInt64(&q.totalFailed, 1)

	q.mu.Lock()
	delete(q.active, job.ID)
	job.State = models.JobStateFailed
	job.FinishedAt = &now
	q.failed = append(q.failed, job)
	if len(q.failed) > m.failedRetention {
		q.failed = q.failed[len(q.failed)-m.failedRetention:]
	}
	q.mu.Unlock()

	metrics.IncrementCounter("queue_jobs_failed_total",
		map[string]string{"queue": q.name, "type": job.Type}, "jobs failed permanently")

	m.logger.WithFields(logrus.Fields{
		"queue":  q.name,
		"job_id": job.ID,
		"error":  job.LastError,
	}).Error("Job failed permanently")
}

func (q *jobQueue) dequeue() *models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused || len(q.waiting) == 0 {
		return nil
	}
	job := q.waiting[0]
	q.waiting = q.waiting[1:]
	job.State = models.JobStateActive
	q.active[job.ID] = job
	return job
}

func (q *jobQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
