package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatState/config"
	"github.com/Gopher0727/ChatState/internal/api"
	"github.com/Gopher0727/ChatState/internal/pkg/gateway"
	"github.com/Gopher0727/ChatState/internal/pkg/kafka"
	"github.com/Gopher0727/ChatState/internal/pkg/redis"
	"github.com/Gopher0727/ChatState/internal/state"
	"github.com/Gopher0727/ChatState/internal/utils"
	logger "github.com/Gopher0727/ChatState/middleware/log"
	"github.com/Gopher0727/ChatState/utils/ratelimit"
)

func main() {
	cfg, err := config.LoadConfig("./config.toml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer appLogger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := state.New(appLogger.Logger)

	pool := utils.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appLogger.Logger)
	pool.Start()
	defer pool.Stop()

	// Optional presence mirror and API rate limiting, both Redis-backed.
	var mirror gateway.PresenceMirror
	var extraMiddleware []gin.HandlerFunc
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			appLogger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		mirror = redisClient

		if cfg.RateLimit.Enabled {
			limiter := ratelimit.NewFixedWindowLimiter(redisClient.GetClient(), appLogger.Logger, true)
			extraMiddleware = append(extraMiddleware,
				api.RateLimit(limiter, cfg.RateLimit.APIPerMinute, appLogger.Logger))
		}
	}

	dispatcher := gateway.NewDispatcher(cache, pool, mirror, appLogger.Logger)

	// With Kafka enabled, a gateway node mirrors every applied event to
	// the stream; a node without a gateway consumes the stream instead
	// and rebuilds the same state through the relay.
	if cfg.Kafka.Enabled {
		if cfg.Gateway.URL != "" {
			producer, err := kafka.NewProducer(&cfg.Kafka)
			if err != nil {
				appLogger.Fatal("failed to create kafka producer", zap.Error(err))
			}
			defer producer.Close()
			dispatcher.SetEventPublisher(producer)
		} else {
			relay := kafka.NewEventRelay(dispatcher, appLogger.Logger)
			consumer, err := kafka.NewConsumer(&cfg.Kafka, []string{cfg.Kafka.Topic}, relay, appLogger.Logger)
			if err != nil {
				appLogger.Fatal("failed to create kafka consumer", zap.Error(err))
			}
			if err := consumer.Start(ctx); err != nil {
				appLogger.Fatal("failed to start kafka consumer", zap.Error(err))
			}
			defer consumer.Stop()
		}
	}

	if cfg.Gateway.URL != "" {
		manager := gateway.NewManager(ctx, &cfg.Gateway, dispatcher, appLogger.Logger)
		if err := manager.Start(); err != nil {
			appLogger.Fatal("failed to start gateway shards", zap.Error(err))
		}
		defer manager.Stop()
	}

	router := api.NewRouter(api.NewHandler(cache), appLogger.Logger, cfg.Server.Mode, extraMiddleware...)

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	appLogger.Info("starting inspection api", zap.String("addr", addr))
	go func() {
		if err := router.Run(addr); err != nil {
			appLogger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down")
}
