package modelresp

import "strings"

// RepairJSON is a single-pass, best-effort cleanup for the JSON a model
// emits inside a tool call. It fixes the three failure shapes seen in
// practice: unescaped quotes embedded in string values, literal
// newline/carriage-return/tab bytes inside strings, and trailing commas.
//
// The pass tracks whether the cursor is inside a string and whether the next
// string should be a key (right after '{' or ',' in an object) or a value.
// An encountered quote only closes the current string when what follows makes
// that plausible: ':' after a key, or ',', '}', ']' (or end of input) after a
// value. Any other quote is treated as embedded content and escaped.
func RepairJSON(raw string) string {
	var out strings.Builder
	out.Grow(len(raw) + 16)

	// Container stack distinguishes object and array context so the
	// key-vs-value expectation stays accurate under nesting.
	var stack []byte
	inString := false
	isKey := false
	expectKey := false

	top := func() byte {
		if len(stack) == 0 {
			return 0
		}
		return stack[len(stack)-1]
	}

	for i := 0; i < len(raw); i++ {
		ch := raw[i]

		if inString {
			switch ch {
			case '\\':
				out.WriteByte(ch)
				if i+1 < len(raw) {
					i++
					out.WriteByte(raw[i])
				}
			case '\n':
				out.WriteString(`\n`)
			case '\r':
				out.WriteString(`\r`)
			case '\t':
				out.WriteString(`\t`)
			case '"':
				if stringCloses(raw, i, isKey) {
					inString = false
					out.WriteByte(ch)
				} else {
					out.WriteString(`\"`)
				}
			default:
				out.WriteByte(ch)
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			isKey = expectKey && top() == '{'
			out.WriteByte(ch)
		case '{':
			stack = append(stack, '{')
			expectKey = true
			out.WriteByte(ch)
		case '[':
			stack = append(stack, '[')
			expectKey = false
			out.WriteByte(ch)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			expectKey = false
			out.WriteByte(ch)
		case ',':
			if next := nextNonSpace(raw, i+1); next == '}' || next == ']' {
				continue // trailing comma
			}
			expectKey = top() == '{'
			out.WriteByte(ch)
		case ':':
			expectKey = false
			out.WriteByte(ch)
		default:
			out.WriteByte(ch)
		}
	}
	return out.String()
}

// stringCloses decides whether the quote at raw[i] plausibly terminates the
// current string. A key closes only before ':'; a value closes before ',',
// '}', ']' or the end of input.
func stringCloses(raw string, i int, isKey bool) bool {
	next := nextNonSpace(raw, i+1)
	if isKey {
		return next == ':'
	}
	switch next {
	case ',', '}', ']', 0:
		return true
	}
	return false
}

// nextNonSpace returns the first byte at or after pos that is not blank, or 0
// at end of input.
func nextNonSpace(raw string, pos int) byte {
	for ; pos < len(raw); pos++ {
		switch raw[pos] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return raw[pos]
		}
	}
	return 0
}
