// =============================================================================
// 📦 Routex 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:   DefaultServerConfig(),
		Proxy:    DefaultProxyConfig(),
		Database: DefaultDatabaseConfig(),
		Redis:    DefaultRedisConfig(),
		Routing:  DefaultRoutingConfig(),
		Breaker:  DefaultBreakerConfig(),
		Tee:      DefaultTeeConfig(),
		Auth:     AuthConfig{},
		Log:      DefaultLogConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    90 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultProxyConfig 返回默认转发引擎配置
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		UpstreamTimeout: 60 * time.Second,
		MaxRetries:      2,
		MaxBodyBytes:    32 << 20,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:       "sqlite",
		Name:         "routex.db",
		SSLMode:      "disable",
		LogRetention: 7 * 24 * time.Hour,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultRoutingConfig 返回默认路由配置
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		Strategy:         "priority",
		AffinityTTL:      5 * time.Hour,
		AffinityCapacity: 10000,
		TokenCounter:     "estimate",
	}
}

// DefaultBreakerConfig 返回默认熔断配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:      5,
		Window:         time.Minute,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     8 * time.Minute,
	}
}

// DefaultTeeConfig 返回默认请求复制配置
func DefaultTeeConfig() TeeConfig {
	return TeeConfig{
		FlushInterval: time.Second,
		BatchSize:     10,
		RetryBackoff:  time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}
