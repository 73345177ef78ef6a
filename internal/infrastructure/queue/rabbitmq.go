package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"lti-booking/internal/config"
	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"
	"lti-booking/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeKind      = "topic"
	RoutingKeyPrefix  = "notification."
	notificationBinds = RoutingKeyPrefix + "#"
)

// RabbitMQQueue publishes notification jobs to a durable topic exchange and
// consumes them with manual acks.
type RabbitMQQueue struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string

	workers    int
	jobTimeout time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	mu         sync.RWMutex
	publishMu  sync.Mutex

	handler interfaces.NotificationHandler
}

func NewRabbitMQQueue(cfg *config.RabbitMQConfig, workers int, jobTimeout time.Duration) (*RabbitMQQueue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, ExchangeKind, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
	}

	q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	if err := ch.QueueBind(q.Name, notificationBinds, cfg.Exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq queue bind: %w", err)
	}

	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &RabbitMQQueue{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		queue:      q.Name,
		workers:    workers,
		jobTimeout: jobTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (r *RabbitMQQueue) SetHandler(handler interfaces.NotificationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

func RoutingKey(kind booking.JobKind) string {
	return RoutingKeyPrefix + string(kind)
}

func (r *RabbitMQQueue) Enqueue(ctx context.Context, job booking.NotificationJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal notification job: %w", err)
	}

	// amqp channels are not safe for concurrent publishing
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	if err := r.channel.PublishWithContext(ctx, r.exchange, RoutingKey(job.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID.String(),
		Timestamp:    job.EnqueuedAt,
		Body:         body,
	}); err != nil {
		return fmt.Errorf("publish notification job: %w", err)
	}

	logger.Debug("Published notification job %s to %s/%s", job.ID, r.exchange, RoutingKey(job.Kind))
	return nil
}

func (r *RabbitMQQueue) StartWorkers() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}

	if r.handler == nil {
		logger.Warn("Notification handler not set, workers cannot process jobs")
		return
	}

	if err := r.channel.Qos(r.workers, 0, false); err != nil {
		logger.Error("rabbitmq qos: %v", err)
		return
	}

	msgs, err := r.channel.Consume(
		r.queue,
		"",    // consumer tag
		false, // manual ack after the handler ran
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		logger.Error("rabbitmq consume: %v", err)
		return
	}

	logger.Info("Starting %d RabbitMQ notification workers on queue %s", r.workers, r.queue)

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(i, msgs)
	}

	r.started = true
}

func (r *RabbitMQQueue) StopWorkers() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return
	}

	logger.Info("Stopping RabbitMQ notification workers...")
	r.cancel()
	r.wg.Wait()
	r.started = false
	logger.Info("RabbitMQ notification workers stopped")
}

func (r *RabbitMQQueue) Close() {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}

func (r *RabbitMQQueue) worker(workerID int, msgs <-chan amqp.Delivery) {
	defer r.wg.Done()

	logger.Info("RabbitMQ notification worker %d started", workerID)

	for {
		select {
		case <-r.ctx.Done():
			logger.Info("RabbitMQ notification worker %d stopped", workerID)
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Warn("RabbitMQ delivery channel closed, worker %d exiting", workerID)
				return
			}

			var job booking.NotificationJob
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				logger.Error("RabbitMQ worker %d: invalid job payload: %v", workerID, err)
				msg.Nack(false, false)
				continue
			}

			// Dispatch attempts are logged by the pipeline, so a failed job is
			// acked rather than redelivered and sent twice.
			processJob(r.handler, job, r.jobTimeout, fmt.Sprintf("rabbitmq worker %d", workerID))
			msg.Ack(false)
		}
	}
}

var _ interfaces.QueueService = (*RabbitMQQueue)(nil)
