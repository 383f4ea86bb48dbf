// 版权所有 2024 Routex Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的全链路指标采集能力，覆盖
HTTP 入口、上游代理、路由、熔断、缓存、Tee 与数据库七大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标。每个 Collector
实例持有独立的 Registry，经 Handler 以文本格式导出，不依赖全局
默认注册表，便于多实例测试与按端口隔离暴露。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、请求耗时，按 method/path/status 分组，
    状态码归类为 2xx/3xx/4xx/5xx。
  - 代理指标：上游请求总数、耗时、重试计数、Token 用量
    （input/output/cached），按 channel/model 分组。
  - 路由指标：决策来源计数，按 source/rule 分组。
  - 熔断与限流指标：状态迁移与上游限流计数，按 channel 分组。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - Tee 指标：队列长度 Gauge 与投递结果计数。
  - 数据库指标：查询耗时 Histogram，按 database/operation 分组。
*/
package metrics
