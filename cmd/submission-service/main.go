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

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	commonmw "codearena/internal/common/http/middleware"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	"codearena/internal/judge/sandbox"
	judgeService "codearena/internal/judge/service"
	"codearena/internal/judge/testdata"
	"codearena/internal/judge/verdict"
	"codearena/internal/submit/controller"
	submitRepo "codearena/internal/submit/repository"
	"codearena/internal/submit/service"
	"codearena/pkg/utils/logger"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/submission_service.yaml"

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
		logger.Error(context.Background(), "submission service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func newObjectStorage(ctx context.Context, appCfg *AppConfig) (storage.ObjectStorage, error) {
	if appCfg.Storage.Driver == storageLocal {
		logger.Info(ctx, "using local object storage", zap.String("root", appCfg.Storage.LocalRoot))
		return storage.NewLocalStorage(appCfg.Storage.LocalRoot)
	}
	minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		return nil, fmt.Errorf("init minio failed: %w", err)
	}
	for _, bucket := range []string{appCfg.Submit.SourceBucket, appCfg.Judge.TestDataBucket} {
		if err := minioStorage.EnsureBucket(ctx, bucket); err != nil {
			return nil, fmt.Errorf("ensure bucket %s failed: %w", bucket, err)
		}
	}
	return minioStorage, nil
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

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := newObjectStorage(ctx, appCfg)
	if err != nil {
		return err
	}

	var publisher submitRepo.VerdictPublisher
	if len(appCfg.Kafka.Brokers) > 0 {
		mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = mqClient.Close()
		}()
		publisher = submitRepo.NewMQVerdictPublisher(mqClient, appCfg.Submit.VerdictTopic)
	} else {
		logger.Warn(ctx, "kafka brokers not configured, verdict events are disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sandboxClient := sandbox.NewClient(appCfg.Sandbox, sandbox.WithMetrics(sandbox.NewMetrics(registry)))
	packCache, err := testdata.NewPackCache(appCfg.Judge.PackCache, objStorage, redisCache)
	if err != nil {
		return fmt.Errorf("init pack cache failed: %w", err)
	}
	statusRepo := submitRepo.NewStatusRepository(redisCache, appCfg.Submit.StatusTTL)

	judge, err := judgeService.NewService(judgeService.Config{
		Loader: testdata.MultiLoader{
			FS:     testdata.FSLoader{},
			Object: testdata.ObjectLoader{Storage: objStorage, Bucket: appCfg.Judge.TestDataBucket},
			Pack:   testdata.PackLoader{Cache: packCache},
		},
		Executor:            sandboxClient,
		Classifier:          verdict.NewClassifier(appCfg.Judge.Tolerance),
		CallMargin:          appCfg.Judge.CallMargin,
		Parallelism:         appCfg.Judge.Parallelism,
		ForwardLimits:       appCfg.Judge.ForwardLimits,
		MaxConcurrentJudges: appCfg.Judge.MaxConcurrentJudges,
		SlotWait:            appCfg.Judge.SlotWait,
		Reporter:            statusRepo,
		Metrics:             judgeService.NewMetrics(registry),
	})
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}

	svcCfg := service.Config{
		SubmissionRepo:  submitRepo.NewSubmissionRepository(mysqlDB),
		ProblemRepo:     submitRepo.NewProblemRepositoryWithTTL(mysqlDB, redisCache, appCfg.Submit.ProblemCacheTTL, appCfg.Submit.ProblemEmptyTTL),
		StatusRepo:      statusRepo,
		Storage:         objStorage,
		Judger:          judge,
		Publisher:       publisher,
		Cache:           redisCache,
		Retry:           appCfg.Judge.Retry,
		SourceBucket:    appCfg.Submit.SourceBucket,
		SourceKeyPrefix: appCfg.Submit.SourceKeyPrefix,
		MaxCodeBytes:    appCfg.Submit.MaxCodeBytes,
		IdempotencyTTL:  appCfg.Submit.IdempotencyTTL,
		RateLimit:       appCfg.Submit.RateLimit,
		Timeouts:        appCfg.Submit.Timeouts,
	}
	if appCfg.Submit.ResolveVersions {
		svcCfg.Runtimes = sandboxClient
	}
	submitService, err := service.NewSubmitService(svcCfg)
	if err != nil {
		return fmt.Errorf("init submit service failed: %w", err)
	}

	httpServer := buildHTTPServer(appCfg.Server, submitService, registry, mysqlDB, redisCache)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "submission http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("sandbox", sandboxClient.BaseURL()),
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
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func buildHTTPServer(cfg ServerConfig, submitService *service.SubmitService, registry *prometheus.Registry, deps ...pinger) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	router.GET("/health", healthHandler(deps...))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	controller.NewSubmitController(submitService).RegisterRoutes(router)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func healthHandler(deps ...pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, dep := range deps {
			if err := dep.Ping(c.Request.Context()); err != nil {
				response.Error(c, err)
				return
			}
		}
		response.Success(c, gin.H{"status": "ok"})
	}
}
