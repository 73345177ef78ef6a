package interfaces

import (
	"context"

	"lti-booking/internal/domain/booking"
)

type NotificationHandler interface {
	HandleNotification(ctx context.Context, job booking.NotificationJob) error
}

type QueueService interface {
	Enqueue(ctx context.Context, job booking.NotificationJob) error
	SetHandler(handler NotificationHandler)
	StartWorkers()
	StopWorkers()
}
