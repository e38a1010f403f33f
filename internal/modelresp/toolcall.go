package modelresp

import (
	"encoding/json"
	"strings"
)

const callToken = "tool_call("

// ToolCall is one structured tool invocation found in generated text. It is
// produced only by extraction and never mutated afterwards.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// ExtractToolCalls finds every tool_call(...) occurrence in text, in order of
// appearance. A malformed occurrence yields nothing and never stops the scan;
// after a failure the scan resumes just past the literal token so progress is
// guaranteed.
func ExtractToolCalls(text string) []ToolCall {
	var calls []ToolCall
	pos := 0
	for {
		rel := strings.Index(text[pos:], callToken)
		if rel < 0 {
			return calls
		}
		start := pos + rel
		call, next, ok := parseCallAt(text, start)
		if !ok {
			pos = start + len(callToken)
			continue
		}
		calls = append(calls, call)
		pos = next
	}
}

// parseCallAt parses one occurrence starting at the tool_call token. On
// success it returns the call and the index just past the closing
// parenthesis.
func parseCallAt(text string, start int) (ToolCall, int, bool) {
	open := start + len(callToken) - 1
	closeParen := matchParen(text, open)
	if closeParen < 0 {
		return ToolCall{}, 0, false
	}
	span := text[open+1 : closeParen]

	name, ok := findName(span)
	if !ok {
		return ToolCall{}, 0, false
	}
	argsJSON, ok := findArguments(span)
	if !ok {
		return ToolCall{}, 0, false
	}

	args, ok := parseArguments(argsJSON)
	if !ok {
		return ToolCall{}, 0, false
	}
	return ToolCall{Name: name, Arguments: args}, closeParen + 1, true
}

// matchParen returns the index of the parenthesis matching the one at open,
// or -1. Depth counting keeps parentheses inside the arguments from
// truncating the span.
func matchParen(text string, open int) int {
	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// findName locates name="..." (or tool_name="...") inside the span.
func findName(span string) (string, bool) {
	for _, key := range []string{"tool_name", "name"} {
		idx := keyIndex(span, key)
		if idx < 0 {
			continue
		}
		rest := span[idx:]
		eq := strings.Index(rest, "=")
		if eq < 0 {
			continue
		}
		quoted := strings.TrimLeft(rest[eq+1:], " \t\r\n")
		if len(quoted) < 2 || quoted[0] != '"' {
			continue
		}
		end := strings.IndexByte(quoted[1:], '"')
		if end < 0 {
			continue
		}
		return quoted[1 : 1+end], true
	}
	return "", false
}

// findArguments locates arguments={...} (or args={...}) and returns the brace
// span, using string-aware depth counting so literal braces inside quoted
// values are safe.
func findArguments(span string) (string, bool) {
	for _, key := range []string{"arguments", "args"} {
		idx := keyIndex(span, key)
		if idx < 0 {
			continue
		}
		rest := span[idx+len(key):]
		eq := strings.Index(rest, "=")
		if eq < 0 {
			continue
		}
		braceStart := strings.Index(rest[eq:], "{")
		if braceStart < 0 {
			continue
		}
		body := rest[eq+braceStart:]
		end := matchBrace(body)
		if end < 0 {
			continue
		}
		return body[:end+1], true
	}
	return "", false
}

// keyIndex finds key as a whole identifier, not as a substring of a longer
// one ("name" must not match inside "tool_name").
func keyIndex(span string, key string) int {
	from := 0
	for {
		rel := strings.Index(span[from:], key)
		if rel < 0 {
			return -1
		}
		idx := from + rel
		beforeOK := idx == 0 || !isIdentByte(span[idx-1])
		afterIdx := idx + len(key)
		afterOK := afterIdx >= len(span) || !isIdentByte(span[afterIdx])
		if beforeOK && afterOK {
			return idx
		}
		from = idx + len(key)
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// matchBrace returns the index of the brace matching body[0]. Quotes toggle
// in-string state (with backslash escapes honored) and braces only count
// outside strings, so argument values may contain literal braces.
func matchBrace(body string) int {
	depth := 0
	inString := false
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if inString {
			if ch == '\\' {
				i++
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// parseArguments tries a strict JSON parse first, then one repair pass. An
// irreparable span rejects the occurrence rather than erroring.
func parseArguments(raw string) (map[string]any, bool) {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, true
	}
	repaired := RepairJSON(raw)
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, false
	}
	return args, true
}
