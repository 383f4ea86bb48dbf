package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/routex/api/handlers"
	"github.com/BaSui01/routex/channel"
	"github.com/BaSui01/routex/config"
	"github.com/BaSui01/routex/internal/cache"
	"github.com/BaSui01/routex/internal/metrics"
	"github.com/BaSui01/routex/internal/server"
	"github.com/BaSui01/routex/internal/store"
	"github.com/BaSui01/routex/proxy"
	"github.com/BaSui01/routex/routing"
	"github.com/BaSui01/routex/routing/tokenest"
	"github.com/BaSui01/routex/tee"
	"github.com/BaSui01/routex/transform"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 Routex 网关的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logLevel   zap.AtomicLevel
	base       *zap.Logger
	logger     *zap.Logger

	// 持久化与缓存
	db           *store.Store
	cacheManager *cache.Manager

	// 核心组件
	channels *channel.Store
	router   *routing.SmartRouter
	balancer *routing.Balancer
	pipeline *transform.Pipeline
	stream   *tee.Stream
	engine   *proxy.Engine

	// 指标收集器
	collector *metrics.Collector

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 配置文件监听器
	watcher *config.FileWatcher

	// 健康检查 handler
	healthHandler *handlers.HealthHandler

	// 后台 goroutine 生命周期
	bgCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例；base 为未设闸的底层 logger
func NewServer(cfg *config.Config, configPath string, logLevel zap.AtomicLevel, base *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logLevel:   logLevel,
		base:       base,
		logger:     base.WithOptions(zap.IncreaseLevel(logLevel)),
	}
}

// moduleLogger 返回模块专属 logger；配置了模块级别覆盖时单独设闸，
// 否则跟随全局级别（含热调整）
func (s *Server) moduleLogger(name string) *zap.Logger {
	if lv, ok := s.cfg.Log.ModuleLevels[name]; ok {
		return s.base.Named(name).WithOptions(zap.IncreaseLevel(parseLogLevel(lv)))
	}
	return s.logger.Named(name)
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	s.bgCancel = bgCancel

	// 1. 指标收集器
	s.collector = metrics.NewCollector("routex", s.moduleLogger("metrics"))

	// 2. 持久化存储；不可用时网关仍可运行，配置仅存在于内存
	if err := s.initStore(); err != nil {
		s.logger.Warn("Database not available, runtime config will not be persisted", zap.Error(err))
	}

	// 3. 核心组件（渠道、路由、转换、tee、引擎）
	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	// 4. 配置文件监听（热调整日志级别）
	if err := s.initConfigWatcher(bgCtx); err != nil {
		s.logger.Warn("Config watcher not started", zap.Error(err))
	}

	// 5. 请求日志清理
	s.startLogPruner(bgCtx)

	// 6. HTTP 服务器
	if err := s.startHTTPServer(bgCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 7. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("channels", len(s.channels.List())),
		zap.Int("rules", len(s.router.Rules())),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStore 打开数据库连接
func (s *Server) initStore() error {
	db, err := store.Open(store.Config{
		Driver: s.cfg.Database.Driver,
		DSN:    s.cfg.Database.DSN(),
	}, s.moduleLogger("store"))
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

// initComponents 组装转发链路的全部组件
func (s *Server) initComponents() error {
	// 会话亲和存储：Redis 可用时跨实例粘性，否则进程内 LRU
	affinity, err := s.initAffinity()
	if err != nil {
		return err
	}

	// 熔断器与渠道存储
	breaker := channel.NewBreaker(channel.BreakerConfig{
		Threshold:      s.cfg.Breaker.Threshold,
		Window:         s.cfg.Breaker.Window,
		InitialBackoff: s.cfg.Breaker.InitialBackoff,
		MaxBackoff:     s.cfg.Breaker.MaxBackoff,
	}, s.moduleLogger("channel"))
	s.channels = channel.NewStore(breaker, s.moduleLogger("channel"))

	// 路由器与负载均衡器
	s.router = routing.NewSmartRouter(routing.NewCustomRegistry(), s.moduleLogger("routing"))
	if s.cfg.Routing.TokenCounter == "tiktoken" {
		s.router.WithTokenCounter(tokenest.NewTiktokenCounter(s.cfg.Routing.TiktokenEncoding))
	}
	s.balancer = routing.NewBalancer(routing.Strategy(s.cfg.Routing.Strategy), affinity, s.moduleLogger("routing"))

	// 转换管线
	s.pipeline = transform.NewPipeline(transform.NewRegistry(), s.moduleLogger("transform"))

	// Tee 流
	s.stream = tee.NewStream(tee.Config{
		FlushInterval: s.cfg.Tee.FlushInterval,
		BatchSize:     s.cfg.Tee.BatchSize,
		RetryBackoff:  s.cfg.Tee.RetryBackoff,
	}, s.moduleLogger("tee"))

	// 从数据库恢复渠道、规则与 tee 目的地
	if err := s.restoreState(); err != nil {
		return err
	}

	// 转发引擎
	s.engine = proxy.NewEngine(proxy.Config{
		UpstreamTimeout: s.cfg.Proxy.UpstreamTimeout,
		MaxRetries:      s.cfg.Proxy.MaxRetries,
	}, s.channels, s.router, s.balancer, s.pipeline, s.moduleLogger("proxy"),
		proxy.WithTee(s.stream),
		proxy.WithMetrics(s.collector),
		proxy.WithRecordSink(s.persistRecord),
	)

	return nil
}

// initAffinity 构建会话亲和存储
func (s *Server) initAffinity() (routing.SessionStore, error) {
	if !s.cfg.Redis.Enabled {
		return routing.NewLRUSessionStore(s.cfg.Routing.AffinityCapacity, s.cfg.Routing.AffinityTTL), nil
	}

	manager, err := cache.NewManager(cache.Config{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
		DefaultTTL:   s.cfg.Routing.AffinityTTL,
	}, s.moduleLogger("cache"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	s.cacheManager = manager

	return routing.NewRedisSessionStore(manager, s.cfg.Routing.AffinityTTL, s.moduleLogger("routing")), nil
}

// restoreState 从数据库加载渠道、规则与 tee 目的地到运行时
func (s *Server) restoreState() error {
	if s.db == nil {
		return nil
	}

	channels, err := s.db.ListChannels()
	if err != nil {
		return fmt.Errorf("failed to load channels: %w", err)
	}
	if err := s.channels.Load(channels); err != nil {
		return fmt.Errorf("failed to install channels: %w", err)
	}

	rules, err := s.db.ListRules()
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	if err := s.router.SetRules(rules); err != nil {
		return fmt.Errorf("failed to install rules: %w", err)
	}

	dests, err := s.db.ListDestinations()
	if err != nil {
		return fmt.Errorf("failed to load tee destinations: %w", err)
	}
	s.stream.SetDestinations(dests)

	s.logger.Info("Runtime state restored",
		zap.Int("channels", len(channels)),
		zap.Int("rules", len(rules)),
		zap.Int("tee_destinations", len(dests)),
	)
	return nil
}

// persistRecord 异步写入请求日志；失败只记日志，不影响转发
func (s *Server) persistRecord(rec proxy.Record) {
	if s.db == nil {
		return
	}
	log := &store.RequestLog{
		ChannelID:    rec.ChannelID,
		Model:        rec.Model,
		Method:       rec.Method,
		Path:         rec.Path,
		StatusCode:   rec.StatusCode,
		LatencyMs:    rec.Latency.Milliseconds(),
		InTokens:     rec.InputTokens,
		OutTokens:    rec.OutputTokens,
		CachedTokens: rec.CachedTokens,
		Success:      rec.Success,
		Error:        rec.Error,
		Timestamp:    rec.Timestamp,
	}
	if err := s.db.InsertRequestLog(log); err != nil {
		s.logger.Warn("failed to persist request log", zap.Error(err))
	}
}

// initConfigWatcher 监听配置文件修改，运行时调整日志级别
func (s *Server) initConfigWatcher(ctx context.Context) error {
	if s.configPath == "" {
		return nil
	}

	watcher, err := config.NewFileWatcher(s.configPath, config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}

	watcher.OnChange(func(event config.FileEvent) {
		if event.Op == config.FileOpRemove {
			return
		}
		cfg, err := loadConfig(s.configPath)
		if err != nil {
			s.logger.Warn("Config reload failed, keeping current config", zap.Error(err))
			return
		}
		if cfg.Log.Level != s.cfg.Log.Level {
			s.logLevel.SetLevel(parseLogLevel(cfg.Log.Level))
			s.logger.Info("Log level changed",
				zap.String("from", s.cfg.Log.Level),
				zap.String("to", cfg.Log.Level))
		}
		s.cfg.Log = cfg.Log
	})

	if err := watcher.Start(ctx); err != nil {
		return err
	}
	s.watcher = watcher
	return nil
}

// startLogPruner 周期清理过期请求日志
func (s *Server) startLogPruner(ctx context.Context) {
	if s.db == nil || s.cfg.Database.LogRetention <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-s.cfg.Database.LogRetention)
				pruned, err := s.db.PruneRequestLogs(cutoff)
				if err != nil {
					s.logger.Warn("request log pruning failed", zap.Error(err))
					continue
				}
				if pruned > 0 {
					s.logger.Info("request logs pruned", zap.Int64("count", pruned))
				}
			}
		}
	}()
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动主 HTTP 服务器（代理 + 管理 API + 健康检查）
func (s *Server) startHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	s.healthHandler = handlers.NewHealthHandler(s.moduleLogger("api"))
	s.registerHealthChecks()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 代理入口
	// ========================================
	proxyHandler := handlers.NewProxyHandler(s.engine, s.moduleLogger("proxy")).
		WithMaxBodyBytes(s.cfg.Proxy.MaxBodyBytes)
	mux.HandleFunc("POST /v1/messages", proxyHandler.HandleProxy)
	mux.HandleFunc("POST /v1/chat/completions", proxyHandler.HandleProxy)

	// ========================================
	// 管理 API（渠道 / 规则 / 转换器 / tee），独立鉴权
	// ========================================
	admin := http.NewServeMux()

	channelHandler := handlers.NewChannelHandler(s.channels, s.db, s.moduleLogger("api"))
	admin.HandleFunc("GET /api/v1/channels", channelHandler.HandleList)
	admin.HandleFunc("POST /api/v1/channels", channelHandler.HandleCreate)
	admin.HandleFunc("GET /api/v1/channels/stats", channelHandler.HandleStats)
	admin.HandleFunc("GET /api/v1/channels/{id}", channelHandler.HandleGet)
	admin.HandleFunc("PUT /api/v1/channels/{id}", channelHandler.HandleUpdate)
	admin.HandleFunc("DELETE /api/v1/channels/{id}", channelHandler.HandleDelete)
	admin.HandleFunc("POST /api/v1/channels/{id}/enable", channelHandler.HandleSetStatus(channel.StatusEnabled))
	admin.HandleFunc("POST /api/v1/channels/{id}/disable", channelHandler.HandleSetStatus(channel.StatusDisabled))
	admin.HandleFunc("POST /api/v1/channels/{id}/test", channelHandler.HandleTest)

	ruleHandler := handlers.NewRuleHandler(s.router, s.channels, s.db, s.moduleLogger("api"))
	admin.HandleFunc("GET /api/v1/rules", ruleHandler.HandleList)
	admin.HandleFunc("POST /api/v1/rules", ruleHandler.HandleCreate)
	admin.HandleFunc("POST /api/v1/rules/test", ruleHandler.HandleTest)
	admin.HandleFunc("GET /api/v1/rules/{id}", ruleHandler.HandleGet)
	admin.HandleFunc("PUT /api/v1/rules/{id}", ruleHandler.HandleUpdate)
	admin.HandleFunc("DELETE /api/v1/rules/{id}", ruleHandler.HandleDelete)
	admin.HandleFunc("POST /api/v1/rules/{id}/enable", ruleHandler.HandleSetEnabled(true))
	admin.HandleFunc("POST /api/v1/rules/{id}/disable", ruleHandler.HandleSetEnabled(false))

	transformerHandler := handlers.NewTransformerHandler(s.pipeline, s.moduleLogger("api"))
	admin.HandleFunc("GET /api/v1/transformers", transformerHandler.HandleList)
	admin.HandleFunc("POST /api/v1/transformers/test", transformerHandler.HandleTest)

	teeHandler := handlers.NewTeeHandler(s.stream, s.db, s.moduleLogger("api"))
	admin.HandleFunc("GET /api/v1/tee/destinations", teeHandler.HandleList)
	admin.HandleFunc("POST /api/v1/tee/destinations", teeHandler.HandleCreate)
	admin.HandleFunc("GET /api/v1/tee/destinations/{id}", teeHandler.HandleGet)
	admin.HandleFunc("PUT /api/v1/tee/destinations/{id}", teeHandler.HandleUpdate)
	admin.HandleFunc("DELETE /api/v1/tee/destinations/{id}", teeHandler.HandleDelete)
	admin.HandleFunc("GET /api/v1/tee/stats", teeHandler.HandleStats)

	mux.Handle("/api/v1/", AdminAuth(s.cfg.Auth.APIKeys, s.cfg.Auth.JWTSecret, s.logger)(admin))

	// ========================================
	// 构建中间件链
	// ========================================
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            s.cfg.Server.Addr(),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// registerHealthChecks 注册就绪检查
func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", func(ctx context.Context) error {
			sqlDB, err := s.db.DB().DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}))
	}
	if s.cacheManager != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.cacheManager.Ping))
	}
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort <= 0 {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.collector.Handler())

	serverConfig := server.Config{
		Addr:            s.cfg.Server.MetricsAddr(),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 1. 停止后台 goroutine 与配置监听
	if s.bgCancel != nil {
		s.bgCancel()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 排空 tee 队列
	if s.stream != nil {
		s.stream.Shutdown(ctx)
	}

	// 5. 释放缓存连接
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
