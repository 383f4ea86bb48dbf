// 版权所有 2024 Routex Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package handlers 提供 Routex HTTP API 的请求处理器实现。

# 概述

handlers 包实现网关所有 HTTP 端点的请求处理逻辑：
代理入口、渠道/规则/转换器/tee 的管理 API、规则与转换器试算，
以及健康检查与统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，路径参数使用
Go 1.22+ 的 r.PathValue。

# 核心类型

  - ProxyHandler        — 代理入口，转发 LLM 请求并透传上游响应
  - ChannelHandler      — 渠道 CRUD、启停、统计与上游探测
  - RuleHandler         — 路由规则 CRUD、启停与试算端点
  - TransformerHandler  — 转换器列表与单发试算
  - TeeHandler          — tee 目的地 CRUD 与队列状态
  - HealthHandler       — 服务健康检查（/health, /ready, /version）
  - Response            — 管理 API 统一响应（success + data + error + timestamp）
  - ResponseWriter      — 包装 http.ResponseWriter 以捕获状态码

# 错误约定

代理入口失败返回 {error: {kind, message, details?}}；
管理 API 失败返回 Response{success: false, error: {...}}。
两者的 kind 取值一致，见 proxy 包的错误种类定义。
*/
package handlers
