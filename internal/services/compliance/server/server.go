package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/credwatch-go/internal/compliance/adapters/db/repository"
	"github.com/credwatch-go/internal/domain/notification"
	"github.com/credwatch-go/internal/services/compliance/channels"
	"github.com/credwatch-go/internal/services/compliance/dispatcher"
	"github.com/credwatch-go/internal/services/compliance/evaluator"
	"github.com/credwatch-go/internal/services/compliance/handlers"
	"github.com/credwatch-go/internal/services/compliance/scheduler"
	"github.com/credwatch-go/internal/services/compliance/service"
	"github.com/credwatch-go/pkg/cache"
	"github.com/credwatch-go/pkg/config"
	"github.com/credwatch-go/pkg/database"
	"github.com/credwatch-go/pkg/events"
	"github.com/credwatch-go/pkg/logger"
	"github.com/credwatch-go/pkg/ratelimit"
)

type Server struct {
	config     *config.Config
	logger     logger.Logger
	httpServer *http.Server
	db         *database.DB
	redis      *redis.Client
	eventBus   events.EventBus
	scheduler  *scheduler.Scheduler
}

func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	db, err := database.New(database.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Name:         cfg.Database.Name,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := repository.NewComplianceRepository(db)
	if err := repo.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	var eventBus events.EventBus = events.NopEventBus{}
	if cfg.Kafka.Enabled {
		eventBus, err = events.NewKafkaEventBus(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create event bus: %w", err)
		}
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.AWS.Region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	transportChannels := map[string]dispatcher.Channel{
		notification.ChannelEmail: channels.NewEmailChannel(sess, cfg.AWS.SESSource),
		notification.ChannelSMS:   channels.NewSMSChannel(sess, cfg.AWS.SNSSender),
		notification.ChannelInApp: channels.NewInAppChannel(repo),
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Compliance.DispatchRate), cfg.Compliance.DispatchBurst)
	disp := dispatcher.New(transportChannels, limiter, log)

	var cacheStore cache.Cache
	if redisClient != nil {
		cacheStore = cache.NewRedisCache(redisClient, "credwatch")
	}

	clock := evaluator.SystemClock{}
	sched := scheduler.New(repo, repo, disp, eventBus, redisClient, clock, cfg.Compliance, log)
	svc := service.New(repo, repo, repo, eventBus, cacheStore, clock, cfg.Compliance, log)

	readiness := func(ctx context.Context) error {
		if !db.Healthy(ctx) {
			return fmt.Errorf("database unreachable")
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis unreachable: %w", err)
			}
		}
		return nil
	}

	complianceHandlers := handlers.NewComplianceHandlers(svc, sched, readiness, log)
	router := setupRouter(complianceHandlers, redisClient, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &Server{
		config:     cfg,
		logger:     log,
		httpServer: httpServer,
		db:         db,
		redis:      redisClient,
		eventBus:   eventBus,
		scheduler:  sched,
	}, nil
}

func setupRouter(h *handlers.ComplianceHandlers, redisClient *redis.Client, log logger.Logger) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(log))

	router.GET("/health/live", h.Health)
	router.GET("/health/ready", h.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The manual trigger is guarded so repeated "check now" clicks cannot
	// stack passes.
	var runLimiter ratelimit.RateLimiter
	if redisClient != nil {
		runLimiter = ratelimit.NewRedisRateLimiter(redisClient, 6, time.Minute)
	} else {
		runLimiter = ratelimit.NewTokenBucketLimiter(1, 3)
	}

	v1 := router.Group("/api/v1/compliance")
	{
		v1.POST("/run", ratelimit.Middleware(runLimiter, func(c *gin.Context) string {
			return "compliance:run"
		}), h.RunPass)

		v1.POST("/credentials", h.CreateCredential)
		v1.GET("/credentials", h.ListCredentials)
		v1.GET("/credentials/:id", h.GetCredential)
		v1.PUT("/credentials/:id", h.UpdateCredential)

		v1.GET("/summary", h.Summary)

		v1.GET("/settings/:holderId", h.GetSettings)
		v1.PUT("/settings/:holderId", h.UpdateSettings)

		v1.GET("/notifications", h.ListNotifications)
		v1.PUT("/notifications/:id/mark-read", h.MarkNotificationRead)
	}

	return router
}

// Start runs the scheduler and then serves HTTP until shutdown.
func (s *Server) Start() error {
	if err := s.scheduler.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	s.logger.Info("Starting HTTP server", "port", s.config.Server.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	s.scheduler.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	if err := s.eventBus.Close(); err != nil {
		s.logger.Error("Failed to close event bus", "error", err)
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close Redis", "error", err)
		}
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", "error", err)
	}

	return nil
}

func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", latency,
			"ip", c.ClientIP(),
		)
	}
}
