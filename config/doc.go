// 版权所有 2024 Routex Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 config 提供 Routex 网关的统一配置加载能力，
支持 YAML 文件、环境变量覆盖与文件变更监听。

# 概述

配置优先级为：默认值 → YAML 文件 → 环境变量。
Loader 采用 Builder 模式构造，环境变量键由前缀与结构体
env tag 逐级拼接而成（如 ROUTEX_SERVER_HTTP_PORT）。
模块级日志覆盖通过 log.module_levels 或
<PREFIX>_LOG_LEVEL_<NAME> 形式的环境变量设置。

# 核心类型

  - Config：完整配置树，含服务器、转发引擎、数据库、Redis、
    路由、熔断、请求复制、鉴权与日志等节。
  - Loader：配置加载器，WithConfigPath/WithEnvPrefix/WithValidator
    链式设置后调用 Load。
  - FileWatcher：轮询式配置文件监听器，带防抖，
    用于运行时响应配置文件修改。

# 使用示例

	cfg, err := config.NewLoader().
	    WithConfigPath("routex.yaml").
	    WithEnvPrefix("ROUTEX").
	    WithValidator((*config.Config).Validate).
	    Load()
*/
package config
