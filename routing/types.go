// Package routing 实现渠道选择流水线：
// 内容分析 → 规则智能路由 → 负载均衡 + 会话亲和。
package routing

import (
	"github.com/BaSui01/routex/routing/tokenest"
)

// Message 请求消息（提供者无关的抽象形态）
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock 消息内容块
type ContentBlock struct {
	// Type 为 "text"、"image" 或 "tool_use" 等
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text 拼接消息的全部文本内容
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == "text" || b.Type == "" {
			out += b.Text
		}
	}
	return out
}

// TextMessage 构造纯文本消息
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Type: "text", Text: text}}}
}

// Tool 工具定义（仅路由关心其存在性与名称）
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Context 路由请求上下文
type Context struct {
	Model     string            `json:"model"`
	Messages  []Message         `json:"messages"`
	Tools     []Tool            `json:"tools,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// UserText 拼接所有用户消息的文本（规则文本匹配的输入）
func (c *Context) UserText() string {
	var out string
	for _, m := range c.Messages {
		if m.Role == "user" {
			if out != "" {
				out += "\n"
			}
			out += m.Text()
		}
	}
	return out
}

// tokenMessages 转换为 tokenest 的消息形态
func tokenMessages(msgs []Message) []tokenest.Message {
	out := make([]tokenest.Message, 0, len(msgs))
	for _, m := range msgs {
		tm := tokenest.Message{Role: m.Role}
		for _, b := range m.Content {
			blockType := b.Type
			if blockType == "" {
				blockType = "text"
			}
			tm.Blocks = append(tm.Blocks, tokenest.Block{Type: blockType, Text: b.Text})
		}
		out = append(out, tm)
	}
	return out
}
