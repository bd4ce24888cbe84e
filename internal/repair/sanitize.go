package repair

import (
	"encoding/json"
	"strings"
)

// maxCutAttempts bounds how many truncation points are tried when closing
// an unterminated document.
const maxCutAttempts = 256

// StripFences returns the body of the first Markdown code fence, or the
// trimmed input when there is none. An unterminated fence runs to the end.
func StripFences(s string) string {
	t := strings.TrimSpace(s)
	start := strings.Index(t, "```")
	if start < 0 {
		return t
	}
	body := t[start+3:]
	// language tag, e.g. ```json
	i := 0
	for i < len(body) && isTagByte(body[i]) {
		i++
	}
	body = body[i:]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func isTagByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}

// EscapeNewlinesInStrings replaces raw line breaks and tabs inside quoted
// strings with their escape sequences. Quote and backslash state are tracked
// per byte so existing escapes are left alone.
func EscapeNewlinesInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inStr {
			if c == '"' {
				inStr = true
			}
			b.WriteByte(c)
			continue
		}
		switch {
		case esc:
			esc = false
			switch c {
			case '\n':
				b.WriteByte('n')
			case '\r':
				b.WriteByte('r')
			default:
				b.WriteByte(c)
			}
		case c == '\\':
			esc = true
			b.WriteByte(c)
		case c == '"':
			inStr = false
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// StripTrailingCommas drops commas that directly precede a closing bracket,
// ignoring commas inside strings.
func StripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inStr = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ExtractBalanced returns a sanitizer that cuts the first span starting
// with open whose brackets balance. If the input ends first, the span is
// closed off instead.
func ExtractBalanced(open, close byte) Sanitizer {
	return func(s string) string {
		start := strings.IndexByte(s, open)
		if start < 0 {
			return s
		}
		text := s[start:]

		var stack []byte
		inStr, esc := false, false
		for i := 0; i < len(text); i++ {
			c := text[i]
			if inStr {
				switch {
				case esc:
					esc = false
				case c == '\\':
					esc = true
				case c == '"':
					inStr = false
				}
				continue
			}
			switch c {
			case '"':
				inStr = true
			case '{', '[':
				stack = append(stack, c)
			case '}', ']':
				if len(stack) > 0 && matches(stack[len(stack)-1], c) {
					stack = stack[:len(stack)-1]
				}
				if len(stack) == 0 {
					return text[:i+1]
				}
			}
		}
		return CloseTruncated(text)
	}
}

type cutPoint struct {
	pos   int
	stack []byte
}

// CloseTruncated turns a document that stops mid-way into valid JSON. It
// first closes any open string and brackets in place; if that does not
// parse it backs off to earlier element boundaries until one does. The
// input is returned unchanged when nothing works.
func CloseTruncated(text string) string {
	var (
		stack     []byte
		cuts      []cutPoint
		inStr     bool
		esc       bool
		snapshot  = func() []byte { return append([]byte(nil), stack...) }
		recordCut = func(pos int) { cuts = append(cuts, cutPoint{pos: pos, stack: snapshot()}) }
	)

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{', '[':
			stack = append(stack, c)
			recordCut(i + 1)
		case '}', ']':
			if len(stack) > 0 && matches(stack[len(stack)-1], c) {
				stack = stack[:len(stack)-1]
			}
			recordCut(i + 1)
		case ',':
			recordCut(i)
		}
	}

	body := text
	if inStr {
		if esc {
			body = body[:len(body)-1]
		}
		body += `"`
	}
	if c := closeWith(body, stack); parses(c) {
		return c
	}

	for k, tried := len(cuts)-1, 0; k >= 0 && tried < maxCutAttempts; k, tried = k-1, tried+1 {
		if c := closeWith(text[:cuts[k].pos], cuts[k].stack); parses(c) {
			return c
		}
	}
	return text
}

func closeWith(body string, stack []byte) string {
	body = strings.TrimRightFunc(body, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\r' || r == '\t'
	})
	var b strings.Builder
	b.WriteString(body)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

func parses(s string) bool {
	return json.Valid([]byte(StripTrailingCommas(EscapeNewlinesInStrings(s))))
}

func matches(open, close byte) bool {
	return open == '{' && close == '}' || open == '[' && close == ']'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}
