// 版权所有 2024 Routex Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供进程内 TTL LRU 缓存与基于 Redis 的缓存管理能力。

# 概述

LRU 是 O(1) 的带过期时间缓存，供会话亲和、请求去重与分析结果
记忆等进程内场景使用；Get 会刷新近期性，Prune 精确清除过期项。

Manager 封装 go-redis 客户端，为跨实例场景（如多副本会话粘性）
提供统一的缓存读写接口，负责连接生命周期管理，包括初始化、
健康检查与优雅关闭。

# 核心类型

  - LRU：固定容量 TTL LRU，Set/Get/Delete/Prune/Len。
  - Manager：缓存管理器，持有 Redis 客户端与连接池配置，
    提供 Get/GetEx/Set/Delete/Ping/Close 操作；
    GetEx 在读取时重置过期时间（滑动过期读）。
  - Config：缓存配置，包含地址、密码、连接池大小、默认 TTL
    与健康检查间隔等参数。

# 主要能力

  - 键值读写：Set 的 ttl <= 0 时回退配置的默认 TTL。
  - 连接池管理：通过 PoolSize 与 MinIdleConns 控制连接复用。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警。
  - 优雅关闭：Close 方法安全释放底层 Redis 连接，
    关闭后的操作返回 ErrClosed。
  - 错误语义：提供 ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
