package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"codearena/internal/common/cache"
	commonmw "codearena/internal/common/http/middleware"
	"codearena/internal/gateway/middleware"
	"codearena/internal/gateway/service"
	"codearena/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/gateway.yaml"

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
	defer func() { _ = logger.Sync() }()

	// Without Redis the gateway still routes, only rate limiting is off.
	var limiter middleware.Limiter
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			logger.Error(context.Background(), "init redis failed", zap.Error(err))
			os.Exit(1)
		}
		defer func() { _ = redisCache.Close() }()
		limiter = service.NewRateLimitService(redisCache, appCfg.Rate.Window, appCfg.Redis.ReadTimeout)
	} else {
		logger.Warn(context.Background(), "redis not configured, gateway rate limiting is disabled")
	}

	upstreams, err := parseUpstreams(appCfg.Upstreams)
	if err != nil {
		logger.Error(context.Background(), "parse upstreams failed", zap.Error(err))
		os.Exit(1)
	}
	proxyFactory := service.NewProxyFactory(service.ProxyConfig{
		MaxIdleConns:          appCfg.Proxy.MaxIdleConns,
		MaxIdleConnsPerHost:   appCfg.Proxy.MaxIdleConnsPerHost,
		IdleConnTimeout:       appCfg.Proxy.IdleConnTimeout,
		ResponseHeaderTimeout: appCfg.Proxy.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   appCfg.Proxy.TLSHandshakeTimeout,
		DialTimeout:           appCfg.Proxy.DialTimeout,
	}, upstreams)

	httpServer, err := buildHTTPServer(appCfg, limiter, proxyFactory)
	if err != nil {
		logger.Error(context.Background(), "build http server failed", zap.Error(err))
		os.Exit(1)
	}
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "gateway http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg *AppConfig, limiter middleware.Limiter, proxyFactory *service.ProxyFactory) (*http.Server, error) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	maxAge := ""
	if cfg.CORS.MaxAge > 0 {
		maxAge = fmt.Sprintf("%d", int(cfg.CORS.MaxAge.Seconds()))
	}
	router.Use(middleware.CORSMiddleware(middleware.CORSConfig{
		Enabled:          cfg.CORS.Enabled,
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           maxAge,
	}))
	router.Use(commonmw.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, route := range cfg.Routes {
		proxy, err := proxyFactory.Get(route.Upstream)
		if err != nil {
			return nil, fmt.Errorf("resolve upstream %s failed: %w", route.Upstream, err)
		}
		routeKey := route.Name
		if routeKey == "" {
			routeKey = route.Path
		}
		ratePolicy := middleware.RateLimitPolicy{
			Window:   route.RateLimit.Window,
			UserMax:  pickLimit(route.RateLimit.UserMax, cfg.Rate.UserMax),
			IPMax:    pickLimit(route.RateLimit.IPMax, cfg.Rate.IPMax),
			RouteMax: pickLimit(route.RateLimit.RouteMax, cfg.Rate.RouteMax),
		}
		methods := route.Methods
		if len(methods) == 0 {
			methods = []string{http.MethodGet}
		}
		for _, method := range methods {
			router.Handle(method, route.Path,
				middleware.RateLimitMiddleware(limiter, routeKey, ratePolicy, cfg.Rate.Window),
				middleware.ProxyHandler(proxy, routeKey, route.Timeout, route.StripPrefix),
			)
		}
	}

	return &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}, nil
}

func pickLimit(routeValue, defaultValue int) int {
	if routeValue > 0 {
		return routeValue
	}
	return defaultValue
}

func parseUpstreams(items []UpstreamConfig) (map[string]*url.URL, error) {
	result := make(map[string]*url.URL, len(items))
	for _, item := range items {
		if item.Name == "" || item.BaseURL == "" {
			return nil, fmt.Errorf("upstream name and baseURL are required")
		}
		parsed, err := url.Parse(item.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse upstream %s failed: %w", item.Name, err)
		}
		result[item.Name] = parsed
	}
	return result, nil
}
