package tokenest

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter 是可替换的 token 计数接口。
// 默认实现为估算器；openai 家族可注册 tiktoken 精确计数。
type Counter interface {
	// Count 返回消息列表的总 token 数
	Count(messages []Message) (int, error)

	// Name 返回计数器名称（用于日志和调试）
	Name() string
}

// EstimateCounter 基于 Estimate 的默认计数器
type EstimateCounter struct {
	family Family
}

// NewEstimateCounter 创建估算计数器
func NewEstimateCounter(family Family) *EstimateCounter {
	return &EstimateCounter{family: family}
}

func (c *EstimateCounter) Count(messages []Message) (int, error) {
	return Estimate(messages, c.family), nil
}

func (c *EstimateCounter) Name() string {
	return fmt.Sprintf("estimate[%s]", c.family)
}

// TiktokenCounter 使用 tiktoken 对 openai 家族做精确计数。
// 编码数据在首次使用时惰性加载。
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewTiktokenCounter 创建 tiktoken 计数器
// encoding 为空时默认 cl100k_base。
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenCounter{encoding: encoding}
}

func (c *TiktokenCounter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = fmt.Errorf("init tiktoken encoding %s: %w", c.encoding, err)
			return
		}
		c.enc = enc
	})
	return c.initErr
}

func (c *TiktokenCounter) Count(messages []Message) (int, error) {
	if err := c.init(); err != nil {
		return 0, err
	}

	total := 0
	for _, msg := range messages {
		total += messageOverhead
		total += len(c.enc.Encode(msg.Role, nil, nil))
		for _, block := range msg.Blocks {
			if block.Type == "image" {
				total += imageTokensOpenAI
				continue
			}
			total += len(c.enc.Encode(block.Text, nil, nil))
		}
	}
	return total, nil
}

func (c *TiktokenCounter) Name() string {
	return fmt.Sprintf("tiktoken[%s]", c.encoding)
}
