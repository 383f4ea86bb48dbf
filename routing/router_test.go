package routing

import (
	"context"
	"strings"
	"testing"

	"github.com/BaSui01/routex/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChannels() []*channel.Channel {
	return []*channel.Channel{
		{ID: "ch-default", Name: "default", Type: channel.TypeAnthropic, Priority: 1, Weight: 1, Status: channel.StatusEnabled},
		{ID: "ch-long", Name: "long-context", Type: channel.TypeAnthropic, Priority: 2, Weight: 1, Status: channel.StatusEnabled},
		{ID: "ch-code", Name: "code-specialist", Type: channel.TypeOpenAI, Priority: 2, Weight: 1, Status: channel.StatusEnabled},
	}
}

func TestSmartRouter_LongContextRule(t *testing.T) {
	r := NewSmartRouter(nil, nil)
	require.NoError(t, r.SetRules([]*Rule{
		{
			ID:            "rule-long",
			Name:          "long context",
			Priority:      100,
			Enabled:       true,
			Condition:     ConditionSpec{TokenThreshold: 1000},
			TargetChannel: "long-context",
			TargetModel:   "claude-opus-4",
		},
	}))

	channels := testChannels()

	// 短请求不命中
	short := &Context{Model: "claude-sonnet-4", Messages: []Message{TextMessage("user", "hi there")}}
	d, err := r.Route(context.Background(), short, channels)
	require.NoError(t, err)
	assert.Nil(t, d.Channel)
	assert.Nil(t, d.Rule)
	require.NotNil(t, d.Analysis)

	// 长请求命中并携带模型覆盖
	long := &Context{Model: "claude-sonnet-4", Messages: []Message{TextMessage("user", strings.Repeat("lorem ipsum dolor sit amet ", 400))}}
	d, err = r.Route(context.Background(), long, channels)
	require.NoError(t, err)
	require.NotNil(t, d.Channel)
	assert.Equal(t, "ch-long", d.Channel.ID)
	assert.Equal(t, "claude-opus-4", d.Model)
	require.NotNil(t, d.Rule)
	assert.Equal(t, "rule-long", d.Rule.ID)
}

func TestSmartRouter_PriorityOrder(t *testing.T) {
	r := NewSmartRouter(nil, nil)
	require.NoError(t, r.SetRules([]*Rule{
		{ID: "b", Name: "low", Priority: 1, Enabled: true, TargetChannel: "default"},
		{ID: "a", Name: "high", Priority: 10, Enabled: true, TargetChannel: "code-specialist"},
		{ID: "c", Name: "tie", Priority: 10, Enabled: true, TargetChannel: "long-context"},
	}))

	rules := r.Rules()
	require.Len(t, rules, 3)
	// 优先级降序，同级按 id 升序
	assert.Equal(t, "a", rules[0].ID)
	assert.Equal(t, "c", rules[1].ID)
	assert.Equal(t, "b", rules[2].ID)

	rc := &Context{Model: "m", Messages: []Message{TextMessage("user", "anything")}}
	d, err := r.Route(context.Background(), rc, testChannels())
	require.NoError(t, err)
	require.NotNil(t, d.Channel)
	assert.Equal(t, "ch-code", d.Channel.ID)
}

func TestSmartRouter_DisabledRuleSkipped(t *testing.T) {
	r := NewSmartRouter(nil, nil)
	require.NoError(t, r.SetRules([]*Rule{
		{ID: "a", Name: "off", Priority: 10, Enabled: false, TargetChannel: "code-specialist"},
		{ID: "b", Name: "on", Priority: 1, Enabled: true, TargetChannel: "default"},
	}))

	rc := &Context{Model: "m", Messages: []Message{TextMessage("user", "anything")}}
	d, err := r.Route(context.Background(), rc, testChannels())
	require.NoError(t, err)
	require.NotNil(t, d.Channel)
	assert.Equal(t, "ch-default", d.Channel.ID)
}

func TestSmartRouter_UnresolvableTargetFallsThrough(t *testing.T) {
	r := NewSmartRouter(nil, nil)
	require.NoError(t, r.SetRules([]*Rule{
		{ID: "a", Name: "gone", Priority: 10, Enabled: true, TargetChannel: "no-such-channel"},
		{ID: "b", Name: "next", Priority: 1, Enabled: true, TargetChannel: "default"},
	}))

	rc := &Context{Model: "m", Messages: []Message{TextMessage("user", "anything")}}
	d, err := r.Route(context.Background(), rc, testChannels())
	require.NoError(t, err)
	require.NotNil(t, d.Channel)
	assert.Equal(t, "ch-default", d.Channel.ID)
	assert.Equal(t, "b", d.Rule.ID)
}

func TestSmartRouter_CustomShortCircuit(t *testing.T) {
	reg := NewCustomRegistry()
	reg.Register("pin_code", func(ctx context.Context, in *EvalInput, channels []*channel.Channel) (Verdict, error) {
		for _, c := range channels {
			if c.Name == "code-specialist" {
				return ChannelVerdict(c), nil
			}
		}
		return MatchVerdict(false), nil
	}, RouterInfo{Description: "pin code requests"})

	r := NewSmartRouter(reg, nil)
	require.NoError(t, r.SetRules([]*Rule{
		{
			ID:        "a",
			Name:      "custom",
			Priority:  10,
			Enabled:   true,
			Condition: ConditionSpec{CustomFunction: "pin_code"},
			// 自定义函数直选时忽略 target
			TargetChannel: "default",
		},
	}))

	rc := &Context{Model: "m", Messages: []Message{TextMessage("user", "anything")}}
	d, err := r.Route(context.Background(), rc, testChannels())
	require.NoError(t, err)
	require.NotNil(t, d.Channel)
	assert.Equal(t, "ch-code", d.Channel.ID)
}

func TestSmartRouter_CustomErrorTreatedAsNonMatch(t *testing.T) {
	reg := NewCustomRegistry()
	reg.Register("explode", func(ctx context.Context, in *EvalInput, channels []*channel.Channel) (Verdict, error) {
		panic("explode")
	}, RouterInfo{})

	r := NewSmartRouter(reg, nil)
	require.NoError(t, r.SetRules([]*Rule{
		{ID: "a", Name: "panics", Priority: 10, Enabled: true, Condition: ConditionSpec{CustomFunction: "explode"}, TargetChannel: "code-specialist"},
		{ID: "b", Name: "safe", Priority: 1, Enabled: true, TargetChannel: "default"},
	}))

	rc := &Context{Model: "m", Messages: []Message{TextMessage("user", "anything")}}
	d, err := r.Route(context.Background(), rc, testChannels())
	require.NoError(t, err)
	require.NotNil(t, d.Channel)
	assert.Equal(t, "ch-default", d.Channel.ID)
}

func TestSmartRouter_SetRulesCompileError(t *testing.T) {
	r := NewSmartRouter(nil, nil)
	err := r.SetRules([]*Rule{
		{ID: "a", Name: "bad", Enabled: true, Condition: ConditionSpec{UserPattern: `[broken`}, TargetChannel: "default"},
	})
	assert.Error(t, err)
	// 安装失败保留旧快照
	assert.Empty(t, r.Rules())
}

func TestSmartRouter_AnalyzeMemoized(t *testing.T) {
	r := NewSmartRouter(nil, nil)

	rc := &Context{
		Model:    "m",
		Messages: []Message{TextMessage("user", "analyze the database query performance")},
		Metadata: map[string]string{"request_id": "req-1"},
	}

	first := r.Analyze(rc)
	second := r.Analyze(rc)
	assert.Same(t, first, second)

	// 不带 request_id 时不缓存
	rc2 := &Context{Model: "m", Messages: rc.Messages}
	a1 := r.Analyze(rc2)
	a2 := r.Analyze(rc2)
	assert.NotSame(t, a1, a2)
	assert.Equal(t, a1, a2)
}
