package common

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SelectorKind is the matching strategy of a Selector.
type SelectorKind string

const (
	// SelectorCSS matches a CSS selector.
	SelectorCSS SelectorKind = "css"
	// SelectorText matches the innermost elements containing a text.
	SelectorText SelectorKind = "text"
	// SelectorCSSText matches a CSS selector filtered by contained text, as
	// in h2:text("Settings").
	SelectorCSSText SelectorKind = "csstext"
	// SelectorRole matches an ARIA role and optionally an accessible name.
	SelectorRole SelectorKind = "role"
)

// Selector is a parsed element selector. Text and name matching is case
// insensitive, whitespace normalized and substring based unless Exact is set.
type Selector struct {
	Kind  SelectorKind `json:"kind"`
	CSS   string       `json:"css,omitempty"`
	Text  string       `json:"text,omitempty"`
	Role  string       `json:"role,omitempty"`
	Name  *string      `json:"name,omitempty"`
	Exact bool         `json:"exact,omitempty"`

	raw string
}

func (s Selector) String() string {
	return s.raw
}

// JSON returns the selector encoded for the in-page selector engine.
func (s Selector) JSON() string {
	buf, err := json.Marshal(s)
	if err != nil {
		// Only strings and bools are encoded.
		panic(fmt.Sprintf("encoding selector %q: %v", s.raw, err))
	}
	return string(buf)
}

// ParseSelector parses the selector forms
//
//	button[aria-label="Open settings"]   CSS
//	text=Connectivity                    text, substring
//	text="Connectivity"                  text, exact
//	h2:text("Settings")                  CSS filtered by text
//	role=button[name="Disconnect"]       role with accessible name
func ParseSelector(raw string) (Selector, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Selector{}, fmt.Errorf("empty selector")
	}

	switch {
	case strings.HasPrefix(s, "text="):
		return parseTextSelector(raw, strings.TrimPrefix(s, "text="))
	case strings.HasPrefix(s, "role="):
		return parseRoleSelector(raw, strings.TrimPrefix(s, "role="))
	case strings.HasPrefix(s, "css="):
		s = strings.TrimPrefix(s, "css=")
	}

	if i := strings.LastIndex(s, ":text("); i >= 0 && strings.HasSuffix(s, ")") {
		arg := s[i+len(":text(") : len(s)-1]
		text, err := unquote(arg)
		if err != nil {
			return Selector{}, fmt.Errorf("parsing selector %q: %w", raw, err)
		}
		css := strings.TrimSpace(s[:i])
		if css == "" {
			css = "*"
		}
		return Selector{Kind: SelectorCSSText, CSS: css, Text: text, raw: raw}, nil
	}

	return Selector{Kind: SelectorCSS, CSS: s, raw: raw}, nil
}

func parseTextSelector(raw, body string) (Selector, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Selector{}, fmt.Errorf("parsing selector %q: empty text", raw)
	}
	if isQuoted(body) {
		text, err := unquote(body)
		if err != nil {
			return Selector{}, fmt.Errorf("parsing selector %q: %w", raw, err)
		}
		return Selector{Kind: SelectorText, Text: text, Exact: true, raw: raw}, nil
	}

	return Selector{Kind: SelectorText, Text: body, raw: raw}, nil
}

// parseRoleSelector parses role[name="..."] with an optional [exact] or
// [exact=true] attribute.
func parseRoleSelector(raw, body string) (Selector, error) {
	role := body
	var attrs string
	if i := strings.IndexByte(body, '['); i >= 0 {
		role, attrs = body[:i], body[i:]
	}
	role = strings.TrimSpace(role)
	if role == "" {
		return Selector{}, fmt.Errorf("parsing selector %q: missing role", raw)
	}
	sel := Selector{Kind: SelectorRole, Role: strings.ToLower(role), raw: raw}

	for attrs != "" {
		if attrs[0] != '[' {
			return Selector{}, fmt.Errorf("parsing selector %q: unexpected %q", raw, attrs)
		}
		end := closingBracket(attrs)
		if end < 0 {
			return Selector{}, fmt.Errorf("parsing selector %q: unterminated attribute", raw)
		}
		attr := strings.TrimSpace(attrs[1:end])
		attrs = strings.TrimSpace(attrs[end+1:])

		key, val, hasVal := strings.Cut(attr, "=")
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch key {
		case "name":
			if !hasVal {
				return Selector{}, fmt.Errorf("parsing selector %q: name needs a value", raw)
			}
			exact := false
			// A trailing s after the closing quote asks for an exact match,
			// a trailing i for the default.
			if n := len(val); n >= 3 && (val[n-1] == 's' || val[n-1] == 'i') && isQuoted(val[:n-1]) {
				exact = val[n-1] == 's'
				val = val[:n-1]
			}
			name, err := unquote(val)
			if err != nil {
				return Selector{}, fmt.Errorf("parsing selector %q: %w", raw, err)
			}
			sel.Name = &name
			sel.Exact = sel.Exact || exact
		case "exact":
			sel.Exact = !hasVal || val == "true"
		default:
			return Selector{}, fmt.Errorf("parsing selector %q: unsupported attribute %q", raw, key)
		}
	}

	return sel, nil
}

// closingBracket returns the index of the ] closing the attribute that
// starts at s[0], skipping quoted strings.
func closingBracket(s string) int {
	var quote byte
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0 && c == '\\':
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
		case c == '"' || c == '\'':
			quote = c
		case c == ']':
			return i
		}
	}
	return -1
}

func isQuoted(s string) bool {
	return len(s) >= 2 &&
		((s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\''))
}

func unquote(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !isQuoted(s) {
		return s, nil
	}
	if s[0] == '\'' {
		s = `"` + strings.ReplaceAll(strings.ReplaceAll(s[1:len(s)-1], `"`, `\"`), `\'`, `'`) + `"`
	}
	v, err := strconv.Unquote(s)
	if err != nil {
		return "", fmt.Errorf("unquoting %s: %w", s, err)
	}
	return v, nil
}
