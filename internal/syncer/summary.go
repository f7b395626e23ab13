package syncer

import (
	"github.com/fyrsmithlabs/sessionsync/internal/transcript"
)

// Display limits for a delivered summary, in runes.
const (
	MaxArgsLen   = 250
	MaxResultLen = 500
)

// Redactor masks secrets in text and reports how many it replaced.
type Redactor interface {
	Redact(content string) (string, int)
}

// Summarize renders a tool call for the activity log:
//
//	tool: <args>
//	-> <result>
//
// The args part is omitted when empty and the result line when the call has
// no result. Redaction runs before truncation.
func Summarize(call *transcript.ToolCall, r Redactor) (string, int) {
	args := call.ArgsText()
	result := call.Result
	redacted := 0
	if r != nil {
		var n int
		args, n = r.Redact(args)
		redacted += n
		result, n = r.Redact(result)
		redacted += n
	}

	args = truncate(args, MaxArgsLen)
	result = truncate(result, MaxResultLen)

	out := call.Tool
	if args != "" {
		out += ": " + args
	}
	if result != "" {
		out += "\n-> " + result
	}
	return out, redacted
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
