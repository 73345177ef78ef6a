package router

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"lti-booking/internal/api/handlers"
	"lti-booking/internal/config"
	"lti-booking/internal/infrastructure/cache"
	"lti-booking/internal/infrastructure/database"
	"lti-booking/internal/infrastructure/lms"
	"lti-booking/internal/infrastructure/queue"
	"lti-booking/internal/infrastructure/repository"
	"lti-booking/internal/infrastructure/scheduler"
	"lti-booking/internal/infrastructure/session"
	interfaces "lti-booking/internal/interfaces/infrastructure"
	"lti-booking/internal/service"
	"lti-booking/pkg/logger"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Stack is the wired service graph shared by the server and worker commands.
type Stack struct {
	Config        *config.Config
	Reservations  *service.ReservationService
	Catalog       *service.CatalogService
	Notifications *service.NotificationService
	Tokens        *service.TokenService
	Groups        *service.CourseGroupsService
	Idempotency   *service.IdempotencyService
	Signer        *session.Signer
	Queue         interfaces.QueueService
	Metrics       *cache.CounterMetrics
	Checks        map[string]handlers.Checker
	// Memory is set when the in-process store backs the stack, DB otherwise.
	Memory *repository.MemoryStore
	DB     *gorm.DB

	closers []func() error
}

type repositories struct {
	courses      interfaces.CourseRepository
	slots        interfaces.SlotRepository
	slotViews    interfaces.SlotViewRepository
	reservations interfaces.ReservationRepository
	catalog      interfaces.CatalogRepository
	messageLogs  interfaces.MessageLogRepository
	tokens       interfaces.TokenRepository
	idempotency  interfaces.IdempotencyRepository
}

// BuildStack connects the storage, cache, queue and LMS client selected in cfg
// and wires the services on top of them. Workers are not started.
func BuildStack(cfg *config.Config) (*Stack, error) {
	s := &Stack{
		Config:  cfg,
		Metrics: cache.NewCounterMetrics(),
		Checks:  make(map[string]handlers.Checker),
	}

	var cacheService interfaces.CacheService = cache.NoopCache{}
	var redisCache *cache.RedisCache
	if cfg.Cache.Type == "redis" {
		redisCache = cache.NewRedisCacheWithConfig(&cfg.Cache)
		cacheService = redisCache
		s.Checks["redis"] = redisCache.Ping
		s.closers = append(s.closers, redisCache.Close)
		logger.Info("Using Redis cache at %s:%d", cfg.Cache.Host, cfg.Cache.Port)
	} else {
		logger.Info("Slot view cache disabled")
	}

	repos, err := s.buildRepositories(cfg, redisCache)
	if err != nil {
		s.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.LMS.TimeoutDuration()}
	s.Tokens = service.NewTokenService(repos.tokens, lms.NewOAuthClient(cfg.LMS, httpClient))
	gateway := lms.NewClientWithHTTP(cfg.LMS, s.Tokens, httpClient)
	s.Groups = service.NewCourseGroupsService(gateway, s.Tokens, cfg.LMS.GroupCacheTTLDuration(), cfg.LMS.GroupCacheSize, s.Metrics)

	s.Queue, err = s.buildQueue(cfg, redisCache)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Notifications = service.NewNotificationService(
		repos.reservations, repos.slots, repos.courses, repos.catalog, repos.messageLogs,
		gateway, service.NewTemplateStore(cfg.Notification.TemplateDir), cfg.LMS.RobotName,
	)
	s.Queue.SetHandler(s.Notifications)

	s.Reservations = service.NewReservationService(
		repos.slots, repos.courses, repos.reservations, repos.messageLogs,
		s.Groups, s.Queue, cacheService,
	)
	s.Catalog = service.NewCatalogService(
		repos.courses, repos.slots, repos.slotViews, repos.catalog,
		cacheService, s.Metrics, cfg.Cache.SlotViewTTLDuration(),
	)
	s.Idempotency = service.NewIdempotencyService(repos.idempotency)

	s.Signer, err = session.NewSigner(cfg.Session.Secret, cfg.Session.Issuer, cfg.Session.TTLDuration())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create session signer: %w", err)
	}

	return s, nil
}

func (s *Stack) buildRepositories(cfg *config.Config, redisCache *cache.RedisCache) (*repositories, error) {
	if cfg.Database.Driver == "memory" {
		store := repository.NewMemoryStore()
		s.Memory = store
		logger.Info("Using in-memory store")
		return &repositories{
			courses:      store.Courses(),
			slots:        store.Slots(),
			slotViews:    store.SlotViews(),
			reservations: store.Reservations(),
			catalog:      store.Catalog(),
			messageLogs:  store.MessageLogs(),
			tokens:       store.Tokens(),
			idempotency:  store.Idempotency(),
		}, nil
	}

	db, err := database.NewConnection(database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	s.DB = db
	s.closers = append(s.closers, sqlDB.Close)
	s.Checks["database"] = func(ctx context.Context) error { return database.HealthCheck(ctx, db) }

	viewDB, err := database.NewSqlx(db)
	if err != nil {
		return nil, err
	}

	repos := &repositories{
		courses:      repository.NewCourseRepository(db),
		slots:        repository.NewSlotRepository(db),
		slotViews:    repository.NewSlotViewRepository(viewDB),
		reservations: repository.NewReservationRepository(db),
		catalog:      repository.NewCatalogRepository(db),
		messageLogs:  repository.NewMessageLogRepository(db),
		tokens:       repository.NewTokenRepository(db),
		idempotency:  repository.NewIdempotencyRepository(db),
	}
	if redisCache != nil {
		repos.idempotency = repository.NewRedisIdempotencyRepository(redisCache.GetClient())
		logger.Info("Using Redis idempotency key store")
	}
	return repos, nil
}

func (s *Stack) buildQueue(cfg *config.Config, redisCache *cache.RedisCache) (interfaces.QueueService, error) {
	n := cfg.Notification
	timeout := time.Duration(n.JobTimeout) * time.Second

	switch n.Mode {
	case "inline":
		logger.Info("Sending notifications inline")
		return queue.NewInlineQueue(timeout), nil
	case "redis":
		var q *queue.RedisQueue
		if redisCache != nil {
			q = queue.NewRedisQueueWithClient(redisCache.GetClient(), n.Workers, timeout)
		} else {
			q = queue.NewRedisQueue(&cfg.Cache, n.Workers, timeout)
			s.closers = append(s.closers, q.Close)
		}
		logger.Info("Using Redis notification queue")
		return q, nil
	case "rabbitmq":
		q, err := queue.NewRabbitMQQueue(&cfg.RabbitMQ, n.Workers, timeout)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error { q.Close(); return nil })
		logger.Info("Using RabbitMQ notification queue on exchange %s", cfg.RabbitMQ.Exchange)
		return q, nil
	case "memory", "":
		logger.Info("Using in-memory notification queue")
		return queue.NewInMemoryQueue(n.BufferSize, n.Workers, timeout), nil
	default:
		return nil, fmt.Errorf("unknown notification mode %q", n.Mode)
	}
}

// JanitorTasks are the periodic housekeeping steps for this stack.
func (s *Stack) JanitorTasks() []scheduler.Task {
	return []scheduler.Task{
		{Name: "sweep_group_cache", Run: func(ctx context.Context) error {
			if n := s.Groups.Sweep(); n > 0 {
				logger.Debug("Swept %d expired course group entries", n)
			}
			return nil
		}},
		{Name: "expire_idempotency_keys", Run: s.Idempotency.CleanupExpiredKeys},
		{Name: "prune_token_refreshes", Run: func(ctx context.Context) error {
			if n := s.Tokens.PruneRecent(); n > 0 {
				logger.Debug("Pruned %d recent token refresh entries", n)
			}
			return nil
		}},
		{Name: "cache_metrics", Run: func(ctx context.Context) error {
			for name, stats := range s.Metrics.Snapshot() {
				logger.WithFields(logrus.Fields{
					"cache":    name,
					"hits":     stats.Hits,
					"misses":   stats.Misses,
					"hit_rate": stats.HitRate,
				}).Info("cache metrics")
			}
			return nil
		}},
	}
}

// Close releases connections in reverse order of creation.
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("Error while closing: %v", err)
		}
	}
	s.closers = nil
}
