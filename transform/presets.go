package transform

// =============================================================================
// 预设：命名的、不可变的步骤组合
// =============================================================================

// presets 内置预设表。返回给调用方前必须复制。
var presets = map[string][]Spec{
	// safe：剥离缓存标记并温和限流 token
	"safe": {
		{Name: "cleancache"},
		{Name: "maxtoken", Options: Options{"max_tokens": 8192}},
	},
	// strict：超限直接拒绝，采样参数收紧
	"strict": {
		{Name: "cleancache"},
		{Name: "maxtoken", Options: Options{"max_tokens": 4096, "strict": true}},
		{Name: "sampling", Options: Options{"max_temperature": 1.0, "max_top_p": 0.95}},
	},
	// balanced：注入保守默认值
	"balanced": {
		{Name: "maxtoken", Options: Options{"max_tokens": 8192}},
		{Name: "sampling", Options: Options{"default_temperature": 0.7, "default_top_p": 0.9}},
	},
	// quality：高预算、宽采样
	"quality": {
		{Name: "maxtoken", Options: Options{"max_tokens": 16384}},
		{Name: "sampling", Options: Options{"max_temperature": 1.5}},
	},
}

// Preset 按名称查找预设，返回步骤副本。
func Preset(name string) ([]Spec, bool) {
	specs, ok := presets[name]
	if !ok {
		return nil, false
	}
	out := make([]Spec, len(specs))
	copy(out, specs)
	return out, true
}

// PresetNames 返回全部预设名
func PresetNames() []string {
	return []string{"balanced", "quality", "safe", "strict"}
}

// Compose 顺序拼接多个预设与附加步骤
func Compose(names []string, extra ...Spec) ([]Spec, bool) {
	var out []Spec
	for _, name := range names {
		specs, ok := Preset(name)
		if !ok {
			return nil, false
		}
		out = append(out, specs...)
	}
	out = append(out, extra...)
	return out, true
}
