package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"
	"lti-booking/pkg/logger"
)

const (
	DefaultDequeueTimeout = 2 * time.Second
	DefaultJobTimeout     = 30 * time.Second
	WorkerSleepDuration   = 50 * time.Millisecond
)

// ErrQueueFull is returned by the in-memory queue when its buffer is full.
var ErrQueueFull = errors.New("notification queue is full")

type Queue struct {
	jobs chan booking.NotificationJob

	workers    int
	jobTimeout time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	mu         sync.RWMutex

	handler interfaces.NotificationHandler
}

func NewInMemoryQueue(bufferSize, workers int, jobTimeout time.Duration) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}

	return &Queue{
		jobs:       make(chan booking.NotificationJob, bufferSize),
		workers:    workers,
		jobTimeout: jobTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (q *Queue) SetHandler(handler interfaces.NotificationHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
}

func (q *Queue) StartWorkers() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return
	}

	if q.handler == nil {
		logger.Warn("Notification handler not set, workers cannot process jobs")
		return
	}

	logger.Info("Starting %d notification workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.started = true
}

// StopWorkers cancels the workers and waits for in-flight jobs. Jobs still
// buffered are dropped.
func (q *Queue) StopWorkers() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started {
		return
	}

	logger.Info("Stopping notification workers...")
	q.cancel()
	q.wg.Wait()
	q.started = false
	logger.Info("Notification workers stopped")
}

func (q *Queue) Enqueue(ctx context.Context, job booking.NotificationJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *Queue) Len() int {
	return len(q.jobs)
}

func (q *Queue) worker(workerID int) {
	defer q.wg.Done()

	logger.Info("Notification worker %d started", workerID)

	for {
		select {
		case <-q.ctx.Done():
			logger.Info("Notification worker %d stopped", workerID)
			return
		case job := <-q.jobs:
			processJob(q.handler, job, q.jobTimeout, fmt.Sprintf("worker %d", workerID))
		}
	}
}

// processJob runs one job with its own deadline. Failures are logged and the
// job is dropped; the pipeline already records each dispatch attempt.
func processJob(handler interfaces.NotificationHandler, job booking.NotificationJob, timeout time.Duration, label string) error {
	logger.WithFields(map[string]interface{}{
		"job_id":         job.ID.String(),
		"kind":           string(job.Kind),
		"reservation_id": job.ReservationID.String(),
	}).Debugf("%s processing notification job", label)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := handler.HandleNotification(ctx, job); err != nil {
		logger.Error("%s failed to process notification job %s: %v", label, job.ID, err)
		return err
	}
	return nil
}

var _ interfaces.QueueService = (*Queue)(nil)
