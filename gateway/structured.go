package gateway

import (
	"encoding/json"
	"errors"
	"strings"
)

// 错误中保留的原始文本长度
const maxMalformedText = 512

var errNoJSON = errors.New("no json object or array found")

// repairJSON 依次尝试：原文解析、去掉 ``` 代码块、截取第一个配平的对象或数组
func repairJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}

	if fenced, ok := stripFence(trimmed); ok && json.Valid([]byte(fenced)) {
		return json.RawMessage(fenced), nil
	}

	// 代码块内容本身可能包含 ```，配平扫描在原文上进行
	if span, ok := balancedSpan(trimmed); ok && json.Valid([]byte(span)) {
		return json.RawMessage(span), nil
	}

	return nil, &MalformedResponseError{Text: truncate(text, maxMalformedText), Cause: errNoJSON}
}

// stripFence 取出第一个 ``` 代码块的内容，忽略语言标记
func stripFence(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		lang := strings.TrimSpace(rest[:nl])
		if !strings.ContainsAny(lang, "{[") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest), true
}

// balancedSpan 从第一个 { 或 [ 开始按括号配平截取，字符串内的括号与转义不计入
func balancedSpan(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
