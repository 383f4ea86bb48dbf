// 版权所有 2024 Routex Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 Routex 网关的程序入口。

# 概述

cmd/routex 是 Routex LLM 网关的可执行入口，提供代理转发、管理 API、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及日志级别热调整。

# 核心类型

  - Server     — 主服务器，组装渠道/路由/转换/引擎并管理 HTTP、Metrics 双端口
  - Middleware — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动网关）、migrate（建表）、version、health
  - 中间件链：Recovery、RequestID、RequestLogger、MetricsMiddleware、
    RateLimiter（基于 IP）；管理 API 另加 AdminAuth（X-API-Key / JWT Bearer）
  - 启动恢复：从数据库加载渠道、路由规则与 tee 目的地到运行时
  - 请求日志：异步写入 request_logs，按保留时长后台清理
  - 配置监听：FileWatcher 检测配置文件修改并热调整日志级别
  - 模块级日志：log.module_levels 或 ROUTEX_LOG_LEVEL_<NAME> 单独调整某模块级别
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 排空 tee → Wait
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
