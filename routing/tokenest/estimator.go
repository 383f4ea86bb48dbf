package tokenest

import (
	"math"
	"strings"
	"unicode"
)

// Family 模型家族
type Family string

const (
	FamilyClaude Family = "claude"
	FamilyOpenAI Family = "openai"
)

// Message 是一个轻量级消息结构, 由 tokenest 包使用
// 以避免与 routing 包的循环依赖。
type Message struct {
	Role   string
	Blocks []Block
}

// Block 消息内容块
type Block struct {
	// Type 为 "text" 或 "image"
	Type string
	Text string
}

// TextMessage 构造纯文本消息
func TextMessage(role, text string) Message {
	return Message{Role: role, Blocks: []Block{{Type: "text", Text: text}}}
}

const (
	// 每条消息的固定开销（角色标记、分隔符等）
	messageOverhead = 4

	// 图像块的固定 token 成本
	imageTokensClaude = 1500
	imageTokensOpenAI = 1000

	// 字符/Token 比例
	charsPerTokenClaude = 3.5
	charsPerTokenOpenAI = 4.0

	// OpenAI 分词器对数字的切分更细，约 2 字符/token
	charsPerTokenDigits = 2.0
)

// FamilyForModel 根据模型名推断家族，未知模型回退到 claude。
func FamilyForModel(model string) Family {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "gpt"), strings.Contains(lower, "o1"),
		strings.Contains(lower, "o3"), strings.Contains(lower, "davinci"):
		return FamilyOpenAI
	default:
		return FamilyClaude
	}
}

// Estimate 估算消息列表的总 token 数。
// 纯函数，无副作用；结果是上界估计，并在拼接下单调：
// est(a∘b) >= max(est(a), est(b))。
func Estimate(messages []Message, family Family) int {
	if family != FamilyOpenAI {
		family = FamilyClaude
	}

	total := 0
	for _, msg := range messages {
		total += messageOverhead
		for _, block := range msg.Blocks {
			switch block.Type {
			case "image":
				if family == FamilyOpenAI {
					total += imageTokensOpenAI
				} else {
					total += imageTokensClaude
				}
			default:
				total += estimateText(block.Text, family)
			}
		}
	}
	return total
}

// EstimateText 估算单段文本的 token 数。
func EstimateText(text string, family Family) int {
	if family != FamilyOpenAI {
		family = FamilyClaude
	}
	return estimateText(text, family)
}

func estimateText(text string, family Family) int {
	if text == "" {
		return 0
	}

	var chars, digits, wsPunct int
	for _, r := range text {
		chars++
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsSpace(r), unicode.IsPunct(r):
			wsPunct++
		}
	}

	ratio := charsPerTokenClaude
	if family == FamilyOpenAI {
		ratio = charsPerTokenOpenAI
	}

	var tokens float64
	if family == FamilyOpenAI {
		// 数字单独按 ~2 字符/token 计
		tokens = float64(chars-digits)/ratio + float64(digits)/charsPerTokenDigits
	} else {
		tokens = float64(chars) / ratio
	}

	// 空白/标点修正：分词器通常将其并入相邻 token，
	// 但密集的标点会增加切分，按 1/8 计入。
	tokens += float64(wsPunct) / 8.0

	return int(math.Ceil(tokens))
}
