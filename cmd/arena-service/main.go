package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"codearena/internal/arena"
	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	commonmw "codearena/internal/common/http/middleware"
	"codearena/internal/common/mq"
	submitRepo "codearena/internal/submit/repository"
	"codearena/pkg/utils/logger"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/arena_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "arena service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	mysqlDB, err := db.NewMySQLWithConfig(appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	// The problem cache is optional for the arena.
	var problemCache cache.BasicOps
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		problemCache = redisCache
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	matchmaker, err := arena.NewMatchmaker(arena.Config{
		Picker:        submitRepo.NewProblemRepository(mysqlDB, problemCache),
		QueueCapacity: appCfg.Arena.QueueCapacity,
		Metrics:       arena.NewMetrics(registry),
	})
	if err != nil {
		return fmt.Errorf("init matchmaker failed: %w", err)
	}
	hub := arena.NewHub(matchmaker, appCfg.Arena.Hub)

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		return fmt.Errorf("init kafka failed: %w", err)
	}
	defer func() {
		_ = mqClient.Close()
	}()
	subOpts := &mq.SubscribeOptions{
		ConsumerGroup: appCfg.Consumer.ConsumerGroup,
		Concurrency:   appCfg.Consumer.Concurrency,
		MaxRetries:    appCfg.Consumer.MaxRetries,
		RetryDelay:    appCfg.Consumer.RetryDelay,
	}
	if err := mqClient.SubscribeWithOptions(ctx, appCfg.Consumer.VerdictTopic, matchmaker.HandleVerdictMessage, subOpts); err != nil {
		return fmt.Errorf("subscribe verdict topic failed: %w", err)
	}
	if err := mqClient.Start(); err != nil {
		return fmt.Errorf("start verdict consumer failed: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.GET("/ws", hub.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/health", func(c *gin.Context) {
		if err := mysqlDB.Ping(c.Request.Context()); err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, gin.H{
			"status":      "ok",
			"connections": hub.Connections(),
			"queued":      matchmaker.Queue().Len(),
			"rooms":       matchmaker.Rooms().Len(),
		})
	})

	httpServer := &http.Server{
		Addr:        appCfg.Server.Addr,
		Handler:     router,
		ReadTimeout: appCfg.Server.ReadTimeout,
		IdleTimeout: appCfg.Server.IdleTimeout,
	}
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "arena http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("topic", appCfg.Consumer.VerdictTopic),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server stopped: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := mqClient.Stop(); err != nil {
		logger.Error(ctx, "verdict consumer stop failed", zap.Error(err))
	}
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if err := hub.Shutdown(ctxShutdown); err != nil {
		logger.Error(ctx, "websocket hub shutdown failed", zap.Error(err))
	}
	return nil
}
