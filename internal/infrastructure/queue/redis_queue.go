package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"lti-booking/internal/config"
	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"
	"lti-booking/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const NotificationQueueKey = "queue:notifications"

// RedisQueue shares notification jobs between the API and worker processes.
type RedisQueue struct {
	client redis.UniversalClient

	workers    int
	jobTimeout time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	mu         sync.RWMutex

	handler interfaces.NotificationHandler
}

func NewRedisQueue(cfg *config.CacheConfig, workers int, jobTimeout time.Duration) *RedisQueue {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return NewRedisQueueWithClient(rdb, workers, jobTimeout)
}

func NewRedisQueueWithClient(client redis.UniversalClient, workers int, jobTimeout time.Duration) *RedisQueue {
	ctx, cancel := context.WithCancel(context.Background())
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}

	return &RedisQueue{
		client:     client,
		workers:    workers,
		jobTimeout: jobTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (rq *RedisQueue) SetHandler(handler interfaces.NotificationHandler) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	rq.handler = handler
}

func (rq *RedisQueue) StartWorkers() {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.started {
		return
	}

	if rq.handler == nil {
		logger.Warn("Notification handler not set, workers cannot process jobs")
		return
	}

	logger.Info("Starting %d Redis notification workers", rq.workers)

	for i := 0; i < rq.workers; i++ {
		rq.wg.Add(1)
		go rq.worker(i)
	}

	rq.started = true
}

func (rq *RedisQueue) StopWorkers() {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if !rq.started {
		return
	}

	logger.Info("Stopping Redis notification workers...")
	rq.cancel()
	rq.wg.Wait()
	rq.started = false
	logger.Info("Redis notification workers stopped")
}

// Enqueue adds a notification job to the Redis list
func (rq *RedisQueue) Enqueue(ctx context.Context, job booking.NotificationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal notification job: %w", err)
	}

	if err := rq.client.LPush(ctx, NotificationQueueKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification job: %w", err)
	}

	logger.Debug("Enqueued notification job %s (%s) for reservation %s", job.ID, job.Kind, job.ReservationID)
	return nil
}

// Dequeue blocks up to DefaultDequeueTimeout. A nil job means nothing was waiting.
func (rq *RedisQueue) Dequeue(ctx context.Context) (*booking.NotificationJob, error) {
	result, err := rq.client.BRPop(ctx, DefaultDequeueTimeout, NotificationQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue notification job: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected Redis BRPOP result format")
	}

	var job booking.NotificationJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification job: %w", err)
	}

	return &job, nil
}

func (rq *RedisQueue) Close() error {
	return rq.client.Close()
}

func (rq *RedisQueue) worker(workerID int) {
	defer rq.wg.Done()

	logger.Info("Redis notification worker %d started", workerID)

	for {
		select {
		case <-rq.ctx.Done():
			logger.Info("Redis notification worker %d stopped", workerID)
			return
		default:
			ctx, cancel := context.WithTimeout(rq.ctx, DefaultDequeueTimeout+time.Second)
			job, err := rq.Dequeue(ctx)
			cancel()

			if err != nil {
				if rq.ctx.Err() != nil {
					continue
				}
				logger.Error("Redis notification worker %d error: %v", workerID, err)
				time.Sleep(WorkerSleepDuration)
				continue
			}

			if job == nil {
				time.Sleep(WorkerSleepDuration)
				continue
			}

			processJob(rq.handler, *job, rq.jobTimeout, fmt.Sprintf("redis worker %d", workerID))
		}
	}
}

var _ interfaces.QueueService = (*RedisQueue)(nil)
