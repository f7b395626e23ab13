// Package matcher decides whether session text refers to a task.
package matcher

import (
	"regexp"
	"strings"
)

// Matcher is a case-insensitive predicate over free text for one task.
// It is immutable and safe for concurrent use.
type Matcher struct {
	id   *regexp.Regexp
	name *regexp.Regexp
}

// New builds a matcher for a task id and display name.
//
// Text matches when it contains "task <id>", "task #<id>", "#<id>" or
// "tasks/<id>" ending at a word boundary, or the name as a whole phrase.
// The name is trimmed; an empty name only disables name matching.
func New(id, name string) *Matcher {
	m := &Matcher{}
	if id != "" {
		q := regexp.QuoteMeta(id)
		m.id = regexp.MustCompile(`(?i)(?:\btask\s*#?` + q + `|#` + q + `|\btasks/` + q + `)\b`)
	}
	if name = strings.TrimSpace(name); name != "" {
		m.name = regexp.MustCompile(`(?i)` + boundary(name[0]) + regexp.QuoteMeta(name) + boundary(name[len(name)-1]))
	}
	return m
}

// boundary returns `\b` when c is an ASCII word byte. Names that start or end
// with punctuation or non-ASCII letters are matched without a boundary on
// that side, since \b would never hold there.
func boundary(c byte) string {
	if c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		return `\b`
	}
	return ""
}

// Match reports whether text refers to the task. Empty text never matches.
func (m *Matcher) Match(text string) bool {
	if text == "" {
		return false
	}
	if m.id != nil && m.id.MatchString(text) {
		return true
	}
	return m.name != nil && m.name.MatchString(text)
}
