package routing

import (
	"regexp"
	"sort"
	"strings"

	"github.com/BaSui01/routex/routing/tokenest"
)

// =============================================================================
// 内容分析器
// =============================================================================

// Category 请求内容类别
type Category string

const (
	CategoryCoding       Category = "coding"
	CategoryWriting      Category = "writing"
	CategoryAnalysis     Category = "analysis"
	CategoryConversation Category = "conversation"
	CategoryResearch     Category = "research"
	CategoryCreative     Category = "creative"
	CategoryTechnical    Category = "technical"
	CategoryGeneral      Category = "general"
)

// Complexity 请求复杂度
type Complexity string

const (
	ComplexitySimple      Complexity = "simple"
	ComplexityModerate    Complexity = "moderate"
	ComplexityComplex     Complexity = "complex"
	ComplexityVeryComplex Complexity = "very_complex"
)

// Intent 请求意图
type Intent string

const (
	IntentQuestion     Intent = "question"
	IntentTask         Intent = "task"
	IntentGeneration   Intent = "generation"
	IntentAnalysis     Intent = "analysis"
	IntentConversation Intent = "conversation"
	IntentReview       Intent = "review"
	IntentDebug        Intent = "debug"
)

// Analysis 内容分析结果（由请求确定性推导）
type Analysis struct {
	WordCount       int        `json:"word_count"`
	CharacterCount  int        `json:"character_count"`
	EstimatedTokens int        `json:"estimated_tokens"`
	HasCode         bool       `json:"has_code"`
	HasURLs         bool       `json:"has_urls"`
	HasImages       bool       `json:"has_images"`
	HasTools        bool       `json:"has_tools"`
	Languages       []string   `json:"languages,omitempty"`
	Topic           string     `json:"topic,omitempty"`
	Category        Category   `json:"category"`
	Complexity      Complexity `json:"complexity"`
	Intent          Intent     `json:"intent"`
	Keywords        []string   `json:"keywords,omitempty"`
}

// HasLanguage 判断是否检测到指定编程语言
func (a *Analysis) HasLanguage(lang string) bool {
	for _, l := range a.Languages {
		if strings.EqualFold(l, lang) {
			return true
		}
	}
	return false
}

// 代码特征模式
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile("```"),
	regexp.MustCompile("`[^`\n]+`"),
	regexp.MustCompile(`\bfunction\s+\w+\s*\(`),
	regexp.MustCompile(`\bclass\s+\w+`),
	regexp.MustCompile(`\bimport\s+.+\s+from\b`),
	regexp.MustCompile(`\bconst\s+\w+\s*=`),
	regexp.MustCompile(`\bdef\s+\w+\s*\(`),
	regexp.MustCompile(`\bpublic\s+class\b`),
	regexp.MustCompile(`<[a-zA-Z][^>]*>`),
}

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// 编程语言模式库
var languagePatterns = map[string][]*regexp.Regexp{
	"python": {
		regexp.MustCompile(`\bdef\s+\w+\s*\(`),
		regexp.MustCompile(`\bimport\s+\w+`),
		regexp.MustCompile(`\bprint\s*\(`),
		regexp.MustCompile(`\bself\.\w+`),
	},
	"javascript": {
		regexp.MustCompile(`\bfunction\s+\w+\s*\(`),
		regexp.MustCompile(`\bconst\s+\w+\s*=`),
		regexp.MustCompile(`\bconsole\.log\s*\(`),
		regexp.MustCompile(`=>\s*{`),
	},
	"typescript": {
		regexp.MustCompile(`:\s*(string|number|boolean)\b`),
		regexp.MustCompile(`\binterface\s+\w+`),
		regexp.MustCompile(`\btype\s+\w+\s*=`),
	},
	"go": {
		regexp.MustCompile(`\bfunc\s+\w+\s*\(`),
		regexp.MustCompile(`\bpackage\s+\w+`),
		regexp.MustCompile(`:=`),
		regexp.MustCompile(`\bgoroutine\b|\bgo\s+func\b`),
	},
	"java": {
		regexp.MustCompile(`\bpublic\s+class\b`),
		regexp.MustCompile(`\bSystem\.out\.println\b`),
		regexp.MustCompile(`\bprivate\s+\w+\s+\w+;`),
	},
	"rust": {
		regexp.MustCompile(`\bfn\s+\w+\s*\(`),
		regexp.MustCompile(`\blet\s+mut\b`),
		regexp.MustCompile(`\bimpl\s+\w+`),
	},
	"sql": {
		regexp.MustCompile(`(?i)\bselect\s+.+\s+from\b`),
		regexp.MustCompile(`(?i)\binsert\s+into\b`),
		regexp.MustCompile(`(?i)\bcreate\s+table\b`),
	},
	"shell": {
		regexp.MustCompile(`#!/bin/(ba)?sh`),
		regexp.MustCompile(`\becho\s+["$]`),
		regexp.MustCompile(`\|\s*grep\b`),
	},
}

// 主题关键词库（加权）
var topicKeywords = map[string]map[string]int{
	"API":           {"api": 3, "endpoint": 2, "rest": 2, "graphql": 2, "http": 1, "request": 1, "response": 1},
	"Database":      {"database": 3, "sql": 2, "query": 2, "table": 1, "index": 1, "migration": 2, "schema": 2},
	"Frontend":      {"react": 3, "vue": 3, "css": 2, "html": 2, "component": 2, "ui": 1, "browser": 1},
	"Backend":       {"server": 2, "backend": 3, "microservice": 3, "middleware": 2, "queue": 1, "cache": 1},
	"DevOps":        {"docker": 3, "kubernetes": 3, "deploy": 2, "ci": 1, "pipeline": 2, "terraform": 3},
	"ML":            {"model": 1, "training": 2, "neural": 3, "machine learning": 3, "dataset": 2, "llm": 3},
	"Testing":       {"test": 2, "unit test": 3, "mock": 2, "coverage": 2, "assert": 2, "e2e": 2},
	"Security":      {"security": 3, "vulnerability": 3, "auth": 2, "encryption": 3, "xss": 3, "csrf": 3},
	"Performance":   {"performance": 3, "latency": 2, "optimize": 2, "profiling": 3, "benchmark": 2, "memory": 1},
	"Documentation": {"document": 2, "readme": 3, "docs": 2, "comment": 1, "changelog": 2},
}

// 技术（architecture/system）词汇
var technicalTerms = []string{
	"architecture", "system design", "distributed", "scalability",
	"infrastructure", "protocol", "concurrency", "throughput",
}

var writingTerms = []string{"write", "essay", "article", "blog", "email", "letter", "summarize", "rewrite", "draft"}
var analysisTerms = []string{"analyze", "analysis", "compare", "evaluate", "assess", "metrics", "statistics", "data"}
var researchTerms = []string{"research", "study", "survey", "literature", "investigate", "explore", "sources"}
var creativeTerms = []string{"story", "poem", "creative", "fiction", "character", "imagine", "brainstorm"}

// 意图关键词库
var (
	questionPattern = regexp.MustCompile(`\b(what|why|how|when|where|who|which)\b`)
	taskVerbs       = []string{"create", "build", "implement", "add", "fix", "update", "remove", "refactor", "convert", "install", "configure", "setup", "deploy"}
	generationTerms = []string{"generate", "write me", "draft", "compose", "produce"}
	analysisIntents = []string{"analyze", "explain", "compare", "evaluate", "summarize"}
	reviewTerms     = []string{"review", "check", "feedback", "critique", "audit"}
	debugTerms      = []string{"debug", "error", "bug", "crash", "stacktrace", "exception", "not working", "fails"}
)

// 停用词表（关键词提取用）
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"the", "a", "an", "and", "or", "but", "if", "then", "else", "for",
		"of", "in", "on", "at", "to", "from", "by", "with", "about", "as",
		"is", "are", "was", "were", "be", "been", "being", "am", "do", "does",
		"did", "have", "has", "had", "will", "would", "can", "could", "should",
		"shall", "may", "might", "must", "this", "that", "these", "those",
		"i", "you", "he", "she", "it", "we", "they", "me", "him", "her",
		"my", "your", "his", "its", "our", "their", "what", "which", "who",
		"when", "where", "why", "how", "all", "any", "both", "each", "few",
		"more", "most", "other", "some", "such", "no", "not", "only", "own",
		"same", "so", "than", "too", "very", "just", "please", "need", "want",
	} {
		stopwords[w] = struct{}{}
	}
}

// Analyzer 内容分析器。确定性：相同输入产生相同结果。
type Analyzer struct {
	counter tokenest.Counter
}

// NewAnalyzer 创建内容分析器，token 用启发式估算
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// NewAnalyzerWithCounter 创建内容分析器并指定 token 计数器。
// counter 为 nil 或计数失败时回退启发式估算。
func NewAnalyzerWithCounter(counter tokenest.Counter) *Analyzer {
	return &Analyzer{counter: counter}
}

// Analyze 对请求做确定性内容分析
func (a *Analyzer) Analyze(messages []Message, tools []Tool) *Analysis {
	var text strings.Builder
	hasImages := false
	for _, m := range messages {
		for _, b := range m.Content {
			switch b.Type {
			case "image":
				hasImages = true
			default:
				text.WriteString(b.Text)
				text.WriteString("\n")
			}
		}
	}
	full := text.String()
	lower := strings.ToLower(full)
	words := strings.Fields(full)

	analysis := &Analysis{
		WordCount:      len(words),
		CharacterCount: len([]rune(full)),
		HasURLs:        urlPattern.MatchString(full),
		HasImages:      hasImages,
		HasTools:       len(tools) > 0,
	}

	// token 估算：默认 claude 家族的上界估计，配置了计数器则优先精确计数
	tokenMsgs := tokenMessages(messages)
	analysis.EstimatedTokens = tokenest.Estimate(tokenMsgs, tokenest.FamilyClaude)
	if a.counter != nil {
		if n, err := a.counter.Count(tokenMsgs); err == nil {
			analysis.EstimatedTokens = n
		}
	}

	analysis.HasCode = detectCode(full)
	analysis.Languages = detectLanguages(full)
	analysis.Topic = detectTopic(lower)
	analysis.Category = classifyCategory(analysis, lower, len(messages))
	analysis.Complexity = classifyComplexity(analysis.WordCount, len(messages), analysis.HasCode)
	analysis.Intent = classifyIntent(messages, lower, analysis.WordCount)
	analysis.Keywords = extractKeywords(lower, 10)

	return analysis
}

func detectCode(text string) bool {
	for _, p := range codePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func detectLanguages(text string) []string {
	var langs []string
	for lang, patterns := range languagePatterns {
		for _, p := range patterns {
			if p.MatchString(text) {
				langs = append(langs, lang)
				break
			}
		}
	}
	sort.Strings(langs)
	return langs
}

// detectTopic 关键词加权 argmax，全零时返回空。
func detectTopic(lower string) string {
	best := ""
	bestScore := 0
	// map 迭代顺序不定，按名称排序保证确定性
	names := make([]string, 0, len(topicKeywords))
	for name := range topicKeywords {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		score := 0
		for kw, weight := range topicKeywords[name] {
			if strings.Contains(lower, kw) {
				score += weight
			}
		}
		if score > bestScore {
			best = name
			bestScore = score
		}
	}
	return best
}

func containsAny(lower string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// classifyCategory 按固定优先序分类
func classifyCategory(a *Analysis, lower string, messageCount int) Category {
	switch {
	case a.HasCode || len(a.Languages) > 0:
		return CategoryCoding
	case containsAny(lower, technicalTerms) || a.HasTools:
		return CategoryTechnical
	case containsAny(lower, writingTerms):
		return CategoryWriting
	case containsAny(lower, analysisTerms):
		return CategoryAnalysis
	case containsAny(lower, researchTerms):
		return CategoryResearch
	case containsAny(lower, creativeTerms):
		return CategoryCreative
	case a.WordCount < 50 && messageCount > 2:
		return CategoryConversation
	default:
		return CategoryGeneral
	}
}

func classifyComplexity(wordCount, messageCount int, hasCode bool) Complexity {
	switch {
	case wordCount > 2000 || (hasCode && wordCount > 500):
		return ComplexityVeryComplex
	case wordCount > 500 || messageCount > 10:
		return ComplexityComplex
	case wordCount > 100 || messageCount > 3:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

func classifyIntent(messages []Message, lower string, wordCount int) Intent {
	if wordCount < 20 {
		return IntentConversation
	}

	// 最后一条用户消息决定提问意图
	var lastUser string
	for _, m := range messages {
		if m.Role == "user" {
			lastUser = m.Text()
		}
	}
	lastLower := strings.ToLower(strings.TrimSpace(lastUser))
	if strings.HasSuffix(lastLower, "?") || questionPattern.MatchString(lastLower) {
		return IntentQuestion
	}

	switch {
	case containsAny(lower, debugTerms):
		return IntentDebug
	case containsAny(lower, reviewTerms):
		return IntentReview
	case containsAny(lower, taskVerbs):
		return IntentTask
	case containsAny(lower, generationTerms):
		return IntentGeneration
	case containsAny(lower, analysisIntents):
		return IntentAnalysis
	default:
		return IntentTask
	}
}

var wordToken = regexp.MustCompile(`[^a-z0-9_]+`)

// extractKeywords 小写分词、去停用词、按频次排序取 top-K。
// 频次相同时按字典序，保证确定性。
func extractKeywords(lower string, k int) []string {
	freq := make(map[string]int)
	for _, w := range wordToken.Split(lower, -1) {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		freq[w]++
	}

	type kv struct {
		word  string
		count int
	}
	ranked := make([]kv, 0, len(freq))
	for w, c := range freq {
		ranked = append(ranked, kv{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.word
	}
	return out
}
