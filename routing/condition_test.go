package routing

import (
	"context"
	"testing"

	"github.com/BaSui01/routex/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalInput(text string, model string) *EvalInput {
	a := NewAnalyzer()
	msgs := []Message{TextMessage("user", text)}
	return &EvalInput{
		Ctx:      &Context{Model: model, Messages: msgs},
		Analysis: a.Analyze(msgs, nil),
		UserText: text,
	}
}

func boolPtr(b bool) *bool { return &b }

func TestConditionSpec_Compile(t *testing.T) {
	reg := NewCustomRegistry()

	spec := ConditionSpec{
		TokenThreshold: 10,
		Keywords:       []string{"Kafka"},
		UserPattern:    `consumer\s+group`,
		ModelPattern:   `^claude-`,
		HasCode:        boolPtr(false),
	}
	cond, err := spec.Compile(reg)
	require.NoError(t, err)
	assert.Len(t, cond, 5)

	in := evalInput("the kafka consumer group keeps rebalancing under load and drops offsets", "claude-sonnet-4")
	ok, err := cond.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, ok)

	// 任一谓词不满足即整体不满足
	in2 := evalInput("the kafka consumer group keeps rebalancing under load and drops offsets", "gpt-4o")
	ok, err = cond.Evaluate(context.Background(), in2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConditionSpec_CompileInvalidPattern(t *testing.T) {
	reg := NewCustomRegistry()

	_, err := ConditionSpec{UserPattern: `[unclosed`}.Compile(reg)
	assert.Error(t, err)

	_, err = ConditionSpec{ModelPattern: `(?P<bad`}.Compile(reg)
	assert.Error(t, err)
}

func TestConditionSpec_PatternCaseInsensitive(t *testing.T) {
	reg := NewCustomRegistry()

	cond, err := ConditionSpec{ModelPattern: `^GPT-`}.Compile(reg)
	require.NoError(t, err)

	in := evalInput("hello", "gpt-4o-mini")
	ok, err := cond.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConditionSpec_EmptySpecAlwaysMatches(t *testing.T) {
	reg := NewCustomRegistry()

	cond, err := ConditionSpec{}.Compile(reg)
	require.NoError(t, err)
	assert.Empty(t, cond)

	ok, err := cond.Evaluate(context.Background(), evalInput("anything", "m"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestContentPredicate_ZeroFieldsSkipped(t *testing.T) {
	in := evalInput("write me a short email to the team about the schedule change please", "m")

	// 只约束类别
	p := &ContentPredicate{Category: CategoryWriting}
	ok, err := p.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, ok)

	// 词数区间
	ok, _ = (&ContentPredicate{MinWordCount: 5, MaxWordCount: 100}).Evaluate(context.Background(), in)
	assert.True(t, ok)
	ok, _ = (&ContentPredicate{MaxWordCount: 3}).Evaluate(context.Background(), in)
	assert.False(t, ok)
}

func TestTokenThresholdPredicate(t *testing.T) {
	in := evalInput("a reasonably sized message with enough characters to cross a small threshold", "m")

	ok, _ := (&TokenThresholdPredicate{Min: 5}).Evaluate(context.Background(), in)
	assert.True(t, ok)

	ok, _ = (&TokenThresholdPredicate{Min: 100000}).Evaluate(context.Background(), in)
	assert.False(t, ok)
}

func TestCustomPredicate_Unregistered(t *testing.T) {
	reg := NewCustomRegistry()
	p := &CustomPredicate{Name: "missing", Registry: reg}

	_, err := p.Evaluate(context.Background(), evalInput("x", "m"))
	assert.Error(t, err)
}

func TestCustomPredicate_PanicRecovered(t *testing.T) {
	reg := NewCustomRegistry()
	reg.Register("boom", func(ctx context.Context, in *EvalInput, channels []*channel.Channel) (Verdict, error) {
		panic("boom")
	}, RouterInfo{})

	p := &CustomPredicate{Name: "boom", Registry: reg}
	ok, err := p.Evaluate(context.Background(), evalInput("x", "m"))
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestCustomPredicate_ChannelVerdictSetsSelected(t *testing.T) {
	target := &channel.Channel{ID: "ch-1", Name: "primary"}
	reg := NewCustomRegistry()
	reg.Register("pin", func(ctx context.Context, in *EvalInput, channels []*channel.Channel) (Verdict, error) {
		return ChannelVerdict(target), nil
	}, RouterInfo{})

	in := evalInput("x", "m")
	p := &CustomPredicate{Name: "pin", Registry: reg}
	ok, err := p.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, target, in.Selected)
}

func TestCustomRegistry_COW(t *testing.T) {
	reg := NewCustomRegistry()
	reg.Register("a", func(ctx context.Context, in *EvalInput, channels []*channel.Channel) (Verdict, error) {
		return MatchVerdict(true), nil
	}, RouterInfo{Description: "always"})

	_, ok := reg.Get("a")
	assert.True(t, ok)

	infos := reg.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "a", infos[0].Name)

	reg.Unregister("a")
	_, ok = reg.Get("a")
	assert.False(t, ok)
	assert.Empty(t, reg.List())

	// 注销不存在的名字不应恐慌
	reg.Unregister("nope")
}

func TestCombinators(t *testing.T) {
	yes := func(ctx context.Context, in *EvalInput, channels []*channel.Channel) (Verdict, error) {
		return MatchVerdict(true), nil
	}
	no := func(ctx context.Context, in *EvalInput, channels []*channel.Channel) (Verdict, error) {
		return MatchVerdict(false), nil
	}
	in := evalInput("x", "m")
	ctx := context.Background()

	v, err := And(yes, yes)(ctx, in, nil)
	require.NoError(t, err)
	assert.True(t, v.Match)

	v, _ = And(yes, no)(ctx, in, nil)
	assert.False(t, v.Match)

	v, _ = Or(no, yes)(ctx, in, nil)
	assert.True(t, v.Match)

	v, _ = Not(no)(ctx, in, nil)
	assert.True(t, v.Match)

	v, _ = When(yes, no)(ctx, in, nil)
	assert.False(t, v.Match)

	v, _ = When(no, yes)(ctx, in, nil)
	assert.False(t, v.Match)

	v, _ = Fallback(no, yes)(ctx, in, nil)
	assert.True(t, v.Match)
}
