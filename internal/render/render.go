// Package render substitutes {name} placeholders in notification templates.
package render

import (
	"fmt"
	"strings"
	"time"
)

// Builtin placeholder names filled from the render-time clock.
// They are computed when Render is called, not when the alert was queued,
// so deferred rendering never shows a stale timestamp.
const (
	VarTime = "time" // 2006-01-02 15:04:05
	VarDate = "date" // 2006-01-02
	VarHour = "hour" // 15:04
)

// Render substitutes placeholders in tmpl against vars plus the builtin
// time variables and returns the result.
//
// Placeholder grammar:
//   - "{name}" where name is letters, digits or underscore.
//   - "{{" renders a literal "{".
//   - Anything else after "{" (including an unterminated token) is a
//     malformed template and returns an error.
//
// Unknown placeholders are left literal: a typoed "{wixd}" shows up
// verbatim in the delivered message instead of silently disappearing.
// Entries in vars override builtins of the same name.
func Render(tmpl string, vars map[string]string) (string, error) {
	return RenderAt(tmpl, vars, time.Now())
}

// RenderAt is Render with an explicit clock, for deterministic output.
func RenderAt(tmpl string, vars map[string]string, now time.Time) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}
		// Escaped brace.
		if i+1 < len(tmpl) && tmpl[i+1] == '{' {
			b.WriteByte('{')
			i += 2
			continue
		}

		name, next, err := scanToken(tmpl, i)
		if err != nil {
			return "", err
		}
		if v, ok := lookup(name, vars, now); ok {
			b.WriteString(v)
		} else {
			// Unknown placeholder: keep the token literal.
			b.WriteString(tmpl[i:next])
		}
		i = next
	}
	return b.String(), nil
}

// Check validates the placeholder grammar of tmpl without rendering it.
// Used at config load so template errors are rejected before the monitor
// starts, not discovered on the first alert.
func Check(tmpl string) error {
	_, err := RenderAt(tmpl, nil, time.Time{})
	return err
}

// scanToken parses a "{name}" token starting at tmpl[start] (a '{').
// It returns the name and the index just past the closing '}'.
func scanToken(tmpl string, start int) (name string, next int, err error) {
	i := start + 1
	for ; i < len(tmpl); i++ {
		c := tmpl[i]
		if isNameChar(c) {
			continue
		}
		if c == '}' {
			if i == start+1 {
				return "", 0, fmt.Errorf("template: empty placeholder at offset %d", start)
			}
			return tmpl[start+1 : i], i + 1, nil
		}
		return "", 0, fmt.Errorf("template: malformed placeholder %q at offset %d", tmpl[start:i+1], start)
	}
	return "", 0, fmt.Errorf("template: unterminated placeholder %q at offset %d", tmpl[start:], start)
}

func isNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func lookup(name string, vars map[string]string, now time.Time) (string, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	switch name {
	case VarTime:
		return now.Format("2006-01-02 15:04:05"), true
	case VarDate:
		return now.Format("2006-01-02"), true
	case VarHour:
		return now.Format("15:04"), true
	}
	return "", false
}
