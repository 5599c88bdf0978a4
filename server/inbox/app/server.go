package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/infra/cache"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/infra/db"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/infra/mq"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/ratelimit"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/api"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/repository"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/service"
)

type Server struct {
	HTTPServer *http.Server
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	MQConn     *amqp.Connection
	Publisher  *service.AMQPPublisher
	Hub        *service.Hub
	Limiter    *ratelimit.Limiter
	Broadcasts *service.BroadcastService
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres: %w", err)
	}

	hub := service.NewHub()
	var redisClient *redis.Client
	if cfg.UseRedis {
		redisClient = cache.NewClient(cfg.RedisAddr)
		if err := cache.Ping(ctx, redisClient); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		hub.UseRedis(redisClient)
		if err := hub.StartRedisSubscriber(context.Background()); err != nil {
			return nil, fmt.Errorf("start realtime subscriber: %w", err)
		}
	}

	var (
		mqConn    *amqp.Connection
		publisher *service.AMQPPublisher
	)
	if cfg.UseMQ {
		mqConn, err = mq.NewConnection(cfg.LavinMQURL)
		if err != nil {
			return nil, fmt.Errorf("initialize lavinmq: %w", err)
		}
		publisher, err = service.NewAMQPPublisher(mqConn)
		if err != nil {
			return nil, fmt.Errorf("initialize amqp publisher: %w", err)
		}
	}

	tenants := repository.NewTenantRepository(pool)
	customers := repository.NewCustomerRepository(pool)
	conversations := repository.NewConversationRepository(pool)
	messages := repository.NewMessageRepository(pool)
	rules := repository.NewAutoReplyRepository(pool)
	broadcasts := repository.NewBroadcastRepository(pool)
	segments := repository.NewSegmentRepository(pool)

	sender := service.NewLineClient(cfg.LinePushEndpoint, cfg.LineSendTimeout)
	matcher := service.NewAutoReplyService(rules)

	var events service.EventPublisher
	if publisher != nil {
		events = publisher
	}

	webhookSvc := service.NewWebhookService(tenants, customers, conversations, messages, rules, matcher, sender, hub, events)
	conversationSvc := service.NewConversationService(conversations, messages, hub)
	broadcastSvc := service.NewBroadcastService(broadcasts, customers, tenants, segments, sender, hub, events, service.BroadcastConfig{
		RatePerSecond:   cfg.BroadcastRatePerSec,
		CheckpointEvery: cfg.BroadcastCheckpointEvery,
		SendTimeout:     cfg.LineSendTimeout,
		SweepInterval:   cfg.BroadcastSweepInterval,
	})

	limiter := ratelimit.NewLimiter(
		ratelimit.Quota{Limit: cfg.RateLimitSubjectCap, Window: cfg.RateLimitSubjectWindow},
		ratelimit.Quota{Limit: cfg.RateLimitTenantCap, Window: cfg.RateLimitTenantWindow},
	)
	limiter.StartGC(cfg.RateLimitGCInterval)

	h := api.NewHandler(webhookSvc, conversationSvc, broadcastSvc, hub, limiter, cfg.JWTSecret, cfg.JWTTTLMinutes)
	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTPServer: httpServer,
		Pool:       pool,
		Redis:      redisClient,
		MQConn:     mqConn,
		Publisher:  publisher,
		Hub:        hub,
		Limiter:    limiter,
		Broadcasts: broadcastSvc,
	}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.Limiter.Stop()
	s.Hub.StopRedisSubscriber()
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	err := s.HTTPServer.Shutdown(ctx)
	s.Pool.Close()
	return err
}
