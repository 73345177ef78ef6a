package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"
)

// InlineQueue runs the handler synchronously inside Enqueue. The caller's
// context is not passed on, so a cancelled request still gets its
// notification.
type InlineQueue struct {
	mu         sync.RWMutex
	handler    interfaces.NotificationHandler
	jobTimeout time.Duration
}

func NewInlineQueue(jobTimeout time.Duration) *InlineQueue {
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	return &InlineQueue{jobTimeout: jobTimeout}
}

func (q *InlineQueue) SetHandler(handler interfaces.NotificationHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
}

func (q *InlineQueue) Enqueue(_ context.Context, job booking.NotificationJob) error {
	q.mu.RLock()
	handler := q.handler
	q.mu.RUnlock()

	if handler == nil {
		return errors.New("notification handler not set")
	}
	return processJob(handler, job, q.jobTimeout, "inline")
}

func (q *InlineQueue) StartWorkers() {}

func (q *InlineQueue) StopWorkers() {}

var _ interfaces.QueueService = (*InlineQueue)(nil)
