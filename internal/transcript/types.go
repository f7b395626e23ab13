package transcript

import (
	"encoding/json"
	"time"
)

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// DayWindow returns the calendar day containing now, in now's location.
func DayWindow(now time.Time) Window {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// Contains reports whether t lies in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Resolution records how a tool result was attached to its call.
type Resolution int

const (
	// Unresolved means no result was attached.
	Unresolved Resolution = iota
	// ByID means the result carried the call's id.
	ByID
	// ByOrder means the result was attached to the most recent open call.
	ByOrder
)

func (r Resolution) String() string {
	switch r {
	case ByID:
		return "id"
	case ByOrder:
		return "order"
	default:
		return "none"
	}
}

// ToolCall is one tool invocation extracted from an assistant message.
type ToolCall struct {
	ID        string
	Tool      string
	Args      json.RawMessage
	Timestamp time.Time
	// Index is the call's position among all calls in the session, from 0.
	Index  int
	Result string

	Resolution Resolution
	// Ambiguous is set when the result was attached by order while more
	// than one call was waiting for a result.
	Ambiguous bool
}

// HasResult reports whether a non-empty result has been attached.
func (c *ToolCall) HasResult() bool {
	return c.Result != ""
}

// ArgsText renders the arguments for display: strings verbatim, anything
// else as compact JSON, absent or null as "".
func (c *ToolCall) ArgsText() string {
	return normalizeArgs(c.Args)
}

// ToolResult is one tool outcome before correlation.
type ToolResult struct {
	CallID   string
	ToolName string
	Content  json.RawMessage
}

// Extraction is everything pulled out of one session for a window.
type Extraction struct {
	// Text is every in-window text fragment joined with single spaces.
	Text      string
	ToolCalls []*ToolCall
	Stats     Stats
}

// Empty reports whether the session produced neither text nor tool calls.
func (e *Extraction) Empty() bool {
	return e.Text == "" && len(e.ToolCalls) == 0
}

// AmbiguousCalls counts calls whose result was attached with low confidence.
func (e *Extraction) AmbiguousCalls() int {
	n := 0
	for _, c := range e.ToolCalls {
		if c.Ambiguous {
			n++
		}
	}
	return n
}

// Stats counts what the parser saw and skipped.
type Stats struct {
	Lines          int
	Unparseable    int
	Untimed        int
	OutOfWindow    int
	Messages       int
	Results        int
	DroppedResults int
	Errors         []ParseError
}

// ParseError describes one skipped line.
type ParseError struct {
	Line   int
	Reason string
}

const maxStoredErrors = 10

func (s *Stats) addError(line int, reason string) {
	if len(s.Errors) < maxStoredErrors {
		s.Errors = append(s.Errors, ParseError{Line: line, Reason: reason})
	}
}
