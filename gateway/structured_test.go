package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"原样可解析", `{"a":1}`, `{"a":1}`},
		{"首尾空白", "\n  [1,2]  \n", `[1,2]`},
		{"json 代码块", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"无语言标记的代码块", "```\n[\"x\"]\n```", `["x"]`},
		{"代码块前后有说明", "Here you go:\n```json\n{\"a\":1}\n```\nEnjoy!", `{"a":1}`},
		{"正文中嵌入对象", `The answer is {"a":{"b":[1,2]}} as requested.`, `{"a":{"b":[1,2]}}`},
		{"字符串中的括号", `Result: {"text":"a } b ] c","n":1} done`, `{"text":"a } b ] c","n":1}`},
		{"字符串中的转义引号", `x {"q":"say \"}\" now"} y`, `{"q":"say \"}\" now"}`},
		{"数组在对象之前", `list: [ {"a":1}, {"a":2} ] end`, `[ {"a":1}, {"a":2} ]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repairJSON(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestRepairJSONFailure(t *testing.T) {
	for _, in := range []string{
		"no json here",
		`{"a": 1`,
		`{"a": 1]`,
		"```json\n{broken\n```",
	} {
		_, err := repairJSON(in)
		require.Error(t, err, in)
		assert.ErrorIs(t, err, ErrMalformedResponse)
		var malformed *MalformedResponseError
		require.ErrorAs(t, err, &malformed)
		assert.Equal(t, in, malformed.Text)
	}
}

// 代码块包裹的响应与原始 JSON 解析结果一致
func TestRepairJSONFenceRoundTrip(t *testing.T) {
	values := []any{
		map[string]any{"name": "widget", "count": float64(3), "tags": []any{"a", "b"}},
		[]any{float64(1), "two", map[string]any{"three": true}},
		map[string]any{"nested": map[string]any{"text": "contains ``` and }"}},
	}
	for _, v := range values {
		raw, err := json.Marshal(v)
		require.NoError(t, err)

		plain, err := repairJSON(string(raw))
		require.NoError(t, err)
		fenced, err := repairJSON("```json\n" + string(raw) + "\n```")
		require.NoError(t, err)

		var a, b any
		require.NoError(t, json.Unmarshal(plain, &a))
		require.NoError(t, json.Unmarshal(fenced, &b))
		assert.Equal(t, v, a)
		assert.Equal(t, a, b)
	}
}

func TestGenerateStructured(t *testing.T) {
	t.Run("代码块响应", func(t *testing.T) {
		f := newGatewayFixture(t, fixtureConfig{}, respondText("```json\n{\"items\":[\"a\",\"b\"]}\n```"))
		v, err := f.gw.GenerateStructured(f.kit.Ctx, "list items", "", SamplingParams{}, true)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"items": []any{"a", "b"}}, v)
		assert.True(t, f.transport.lastRequest().JSON)

		// 缓存中是原始文本，读取时再次修复
		v, err = f.gw.GenerateStructured(f.kit.Ctx, "list items", "", SamplingParams{}, true)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"items": []any{"a", "b"}}, v)
		assert.Equal(t, int32(1), f.transport.calls.Load())
	})

	t.Run("无法修复时不写缓存也不重试", func(t *testing.T) {
		f := newGatewayFixture(t, fixtureConfig{}, respondText("I cannot answer that."))
		_, err := f.gw.GenerateStructured(f.kit.Ctx, "list items", "", SamplingParams{}, true)
		assert.ErrorIs(t, err, ErrMalformedResponse)
		assert.Equal(t, int32(1), f.transport.calls.Load())

		_, err = f.gw.GenerateStructured(f.kit.Ctx, "list items", "", SamplingParams{}, true)
		assert.ErrorIs(t, err, ErrMalformedResponse)
		assert.Equal(t, int32(2), f.transport.calls.Load())
	})

	t.Run("原始文本兜底", func(t *testing.T) {
		f := newGatewayFixture(t, fixtureConfig{}, respondText("plain words"))
		_, err := f.gw.GenerateStructured(f.kit.Ctx, "list items", "", SamplingParams{}, true)
		var malformed *MalformedResponseError
		require.ErrorAs(t, err, &malformed, "默认不返回原始文本")
		assert.Equal(t, "plain words", malformed.Text)

		v, err := f.gw.GenerateStructured(f.kit.Ctx, "list items", "", SamplingParams{}, true, WithRawFallback())
		require.NoError(t, err)
		assert.Equal(t, "plain words", v)

		// 兜底结果照常缓存
		v, err = f.gw.GenerateStructured(f.kit.Ctx, "list items", "", SamplingParams{}, true, WithRawFallback())
		require.NoError(t, err)
		assert.Equal(t, "plain words", v)
		assert.Equal(t, int32(2), f.transport.calls.Load())
	})

	t.Run("文本与结构化调用的缓存互不干扰", func(t *testing.T) {
		f := newGatewayFixture(t, fixtureConfig{}, respondText(`{"ok":true}`))
		_, err := f.gw.Generate(f.kit.Ctx, "status", "", SamplingParams{}, true)
		require.NoError(t, err)
		_, err = f.gw.GenerateStructured(f.kit.Ctx, "status", "", SamplingParams{}, true)
		require.NoError(t, err)
		assert.Equal(t, int32(2), f.transport.calls.Load())
	})
}

func TestDecodeStructured(t *testing.T) {
	f := newGatewayFixture(t, fixtureConfig{}, respondText("Sure! {\"name\":\"widget\",\"count\":3}"))

	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, f.gw.DecodeStructured(f.kit.Ctx, &out, "describe", "", SamplingParams{}, false))
	assert.Equal(t, "widget", out.Name)
	assert.Equal(t, 3, out.Count)

	var wrong struct {
		Count string `json:"count"`
	}
	err := f.gw.DecodeStructured(f.kit.Ctx, &wrong, "describe", "", SamplingParams{}, false)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestCanonicalKey(t *testing.T) {
	base := &Request{Model: "m", Prompt: "hello  world", System: "be brief", Params: SamplingParams{Temperature: 0.7}}
	key := canonicalKey(base, formatText)

	same := []*Request{
		{Model: "m", Prompt: "  hello\nworld ", System: "be   brief", Params: SamplingParams{Temperature: 0.7}},
		{Model: "m", Prompt: "hello world", System: "be brief", Params: SamplingParams{Temperature: 0.701}},
	}
	for _, r := range same {
		assert.Equal(t, key, canonicalKey(r, formatText))
	}

	different := []*Request{
		{Model: "other", Prompt: "hello world", System: "be brief", Params: SamplingParams{Temperature: 0.7}},
		{Model: "m", Prompt: "hello world!", System: "be brief", Params: SamplingParams{Temperature: 0.7}},
		{Model: "m", Prompt: "hello world", System: "", Params: SamplingParams{Temperature: 0.7}},
		{Model: "m", Prompt: "hello world", System: "be brief", Params: SamplingParams{Temperature: 0.8}},
		{Model: "m", Prompt: "hello world", System: "be brief", Params: SamplingParams{Temperature: 0.7, MaxOutputTokens: 10}},
		{Model: "m", Prompt: "hello world", System: "be brief", Params: SamplingParams{Temperature: 0.7},
			Image: &Image{MIMEType: "image/png", Data: []byte("x")}},
	}
	for _, r := range different {
		assert.NotEqual(t, key, canonicalKey(r, formatText))
	}
	assert.NotEqual(t, key, canonicalKey(base, formatJSON))
}
