package transform

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Anthropic Messages ⇄ OpenAI Chat Completions 格式转换
// =============================================================================

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// ---------------------------------------------------------------------------
// 请求：Anthropic → OpenAI
// ---------------------------------------------------------------------------

func anthropicToOpenAIRequest(body map[string]any) (map[string]any, error) {
	out := map[string]any{}
	for _, key := range []string{"model", "max_tokens", "temperature", "top_p", "stream"} {
		if v, ok := body[key]; ok {
			out[key] = v
		}
	}
	if v, ok := body["stop_sequences"]; ok {
		out["stop"] = v
	}

	var messages []any

	// system 提升为首条 system 消息
	if sys := body["system"]; sys != nil {
		messages = append(messages, map[string]any{"role": "system", "content": flattenSystem(sys)})
	}

	for _, raw := range asSlice(body["messages"]) {
		m := asMap(raw)
		converted, err := anthropicMessageToOpenAI(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, converted...)
	}
	out["messages"] = messages

	if tools := asSlice(body["tools"]); len(tools) > 0 {
		converted := make([]any, 0, len(tools))
		for _, raw := range tools {
			t := asMap(raw)
			converted = append(converted, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t["name"],
					"description": t["description"],
					"parameters":  t["input_schema"],
				},
			})
		}
		out["tools"] = converted
	}

	return out, nil
}

// flattenSystem Anthropic system 可为字符串或文本块数组
func flattenSystem(sys any) string {
	if s, ok := sys.(string); ok {
		return s
	}
	var text string
	for _, raw := range asSlice(sys) {
		b := asMap(raw)
		if asString(b["type"]) == "text" {
			text += asString(b["text"])
		}
	}
	return text
}

// anthropicMessageToOpenAI 单条消息转换。
// tool_result 块拆为独立的 tool 角色消息，tool_use 块并入 assistant 的 tool_calls。
func anthropicMessageToOpenAI(m map[string]any) ([]any, error) {
	role := asString(m["role"])

	// 纯字符串内容直接透传
	if s, ok := m["content"].(string); ok {
		return []any{map[string]any{"role": role, "content": s}}, nil
	}

	var out []any
	var contentParts []any
	var toolCalls []any

	for _, raw := range asSlice(m["content"]) {
		block := asMap(raw)
		switch asString(block["type"]) {
		case "text":
			contentParts = append(contentParts, map[string]any{"type": "text", "text": block["text"]})
		case "image":
			source := asMap(block["source"])
			url := fmt.Sprintf("data:%s;base64,%s", asString(source["media_type"]), asString(source["data"]))
			contentParts = append(contentParts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": url},
			})
		case "tool_use":
			args, err := json.Marshal(block["input"])
			if err != nil {
				return nil, fmt.Errorf("marshal tool input: %w", err)
			}
			toolCalls = append(toolCalls, map[string]any{
				"id":   block["id"],
				"type": "function",
				"function": map[string]any{
					"name":      block["name"],
					"arguments": string(args),
				},
			})
		case "tool_result":
			out = append(out, map[string]any{
				"role":         "tool",
				"tool_call_id": block["tool_use_id"],
				"content":      flattenToolResult(block["content"]),
			})
		}
	}

	if len(contentParts) > 0 || len(toolCalls) > 0 {
		msg := map[string]any{"role": role}
		switch {
		case len(contentParts) == 1 && asString(asMap(contentParts[0])["type"]) == "text":
			msg["content"] = asMap(contentParts[0])["text"]
		case len(contentParts) > 0:
			msg["content"] = contentParts
		default:
			msg["content"] = nil
		}
		if len(toolCalls) > 0 {
			msg["tool_calls"] = toolCalls
		}
		out = append(out, msg)
	}

	return out, nil
}

func flattenToolResult(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	var text string
	for _, raw := range asSlice(content) {
		b := asMap(raw)
		if asString(b["type"]) == "text" {
			text += asString(b["text"])
		}
	}
	return text
}

// ---------------------------------------------------------------------------
// 请求：OpenAI → Anthropic
// ---------------------------------------------------------------------------

func openaiToAnthropicRequest(body map[string]any) (map[string]any, error) {
	out := map[string]any{}
	for _, key := range []string{"model", "max_tokens", "temperature", "top_p", "stream"} {
		if v, ok := body[key]; ok {
			out[key] = v
		}
	}
	if v, ok := body["stop"]; ok {
		out["stop_sequences"] = v
	}

	var messages []any
	var systemText string

	for _, raw := range asSlice(body["messages"]) {
		m := asMap(raw)
		role := asString(m["role"])
		switch role {
		case "system":
			systemText += flattenOpenAIContent(m["content"])
		case "tool":
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []any{map[string]any{
					"type":        "tool_result",
					"tool_use_id": m["tool_call_id"],
					"content":     flattenOpenAIContent(m["content"]),
				}},
			})
		default:
			converted, err := openaiMessageToAnthropic(m)
			if err != nil {
				return nil, err
			}
			messages = append(messages, converted)
		}
	}

	if systemText != "" {
		out["system"] = systemText
	}
	out["messages"] = messages

	if tools := asSlice(body["tools"]); len(tools) > 0 {
		converted := make([]any, 0, len(tools))
		for _, raw := range tools {
			fn := asMap(asMap(raw)["function"])
			converted = append(converted, map[string]any{
				"name":         fn["name"],
				"description":  fn["description"],
				"input_schema": fn["parameters"],
			})
		}
		out["tools"] = converted
	}

	return out, nil
}

func flattenOpenAIContent(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	var text string
	for _, raw := range asSlice(content) {
		b := asMap(raw)
		if asString(b["type"]) == "text" {
			text += asString(b["text"])
		}
	}
	return text
}

func openaiMessageToAnthropic(m map[string]any) (map[string]any, error) {
	role := asString(m["role"])
	var blocks []any

	switch content := m["content"].(type) {
	case string:
		if content != "" {
			blocks = append(blocks, map[string]any{"type": "text", "text": content})
		}
	case []any:
		for _, raw := range content {
			part := asMap(raw)
			switch asString(part["type"]) {
			case "text":
				blocks = append(blocks, map[string]any{"type": "text", "text": part["text"]})
			case "image_url":
				block, err := dataURLToAnthropicImage(asString(asMap(part["image_url"])["url"]))
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, block)
			}
		}
	}

	for _, raw := range asSlice(m["tool_calls"]) {
		call := asMap(raw)
		fn := asMap(call["function"])
		var input map[string]any
		if args := asString(fn["arguments"]); args != "" {
			if err := json.Unmarshal([]byte(args), &input); err != nil {
				return nil, fmt.Errorf("parse tool arguments: %w", err)
			}
		}
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    call["id"],
			"name":  fn["name"],
			"input": input,
		})
	}

	return map[string]any{"role": role, "content": blocks}, nil
}

func dataURLToAnthropicImage(url string) (map[string]any, error) {
	// data:<media_type>;base64,<data>
	const prefix = "data:"
	if len(url) < len(prefix) || url[:len(prefix)] != prefix {
		return nil, fmt.Errorf("unsupported image url: %q", truncate(url, 40))
	}
	rest := url[len(prefix):]
	semi := -1
	comma := -1
	for i, c := range rest {
		if c == ';' && semi < 0 {
			semi = i
		}
		if c == ',' {
			comma = i
			break
		}
	}
	if semi < 0 || comma < 0 {
		return nil, fmt.Errorf("malformed data url")
	}
	return map[string]any{
		"type": "image",
		"source": map[string]any{
			"type":       "base64",
			"media_type": rest[:semi],
			"data":       rest[comma+1:],
		},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ---------------------------------------------------------------------------
// 响应转换
// ---------------------------------------------------------------------------

// openaiToAnthropicResponse OpenAI chat.completion → Anthropic message
func openaiToAnthropicResponse(body map[string]any) (map[string]any, error) {
	choices := asSlice(body["choices"])
	if len(choices) == 0 {
		return body, nil
	}
	choice := asMap(choices[0])
	message := asMap(choice["message"])

	var blocks []any
	if text := asString(message["content"]); text != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": text})
	}
	for _, raw := range asSlice(message["tool_calls"]) {
		call := asMap(raw)
		fn := asMap(call["function"])
		var input map[string]any
		if args := asString(fn["arguments"]); args != "" {
			if err := json.Unmarshal([]byte(args), &input); err != nil {
				return nil, fmt.Errorf("parse tool arguments: %w", err)
			}
		}
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    call["id"],
			"name":  fn["name"],
			"input": input,
		})
	}

	out := map[string]any{
		"id":          body["id"],
		"type":        "message",
		"role":        "assistant",
		"model":       body["model"],
		"content":     blocks,
		"stop_reason": finishReasonToStopReason(asString(choice["finish_reason"])),
	}

	if usage := asMap(body["usage"]); usage != nil {
		converted := map[string]any{
			"input_tokens":  usage["prompt_tokens"],
			"output_tokens": usage["completion_tokens"],
		}
		if details := asMap(usage["prompt_tokens_details"]); details != nil {
			converted["cache_read_input_tokens"] = details["cached_tokens"]
		}
		out["usage"] = converted
	}

	return out, nil
}

// anthropicToOpenAIResponse Anthropic message → OpenAI chat.completion
func anthropicToOpenAIResponse(body map[string]any) (map[string]any, error) {
	var text string
	var toolCalls []any

	for _, raw := range asSlice(body["content"]) {
		block := asMap(raw)
		switch asString(block["type"]) {
		case "text":
			text += asString(block["text"])
		case "tool_use":
			args, err := json.Marshal(block["input"])
			if err != nil {
				return nil, fmt.Errorf("marshal tool input: %w", err)
			}
			toolCalls = append(toolCalls, map[string]any{
				"id":   block["id"],
				"type": "function",
				"function": map[string]any{
					"name":      block["name"],
					"arguments": string(args),
				},
			})
		}
	}

	message := map[string]any{"role": "assistant", "content": text}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	out := map[string]any{
		"id":     body["id"],
		"object": "chat.completion",
		"model":  body["model"],
		"choices": []any{map[string]any{
			"index":         0,
			"message":       message,
			"finish_reason": stopReasonToFinishReason(asString(body["stop_reason"])),
		}},
	}

	if usage := asMap(body["usage"]); usage != nil {
		in, _ := numValue(usage["input_tokens"])
		outTok, _ := numValue(usage["output_tokens"])
		out["usage"] = map[string]any{
			"prompt_tokens":     usage["input_tokens"],
			"completion_tokens": usage["output_tokens"],
			"total_tokens":      in + outTok,
		}
	}

	return out, nil
}

func finishReasonToStopReason(reason string) string {
	switch reason {
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	default:
		return "end_turn"
	}
}

func stopReasonToFinishReason(reason string) string {
	switch reason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return "stop"
	}
}
