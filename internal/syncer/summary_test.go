package syncer

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/sessionsync/internal/transcript"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		call transcript.ToolCall
		want string
	}{
		{
			name: "args and result",
			call: transcript.ToolCall{Tool: "bash", Args: json.RawMessage(`"ls -la"`), Result: "ok"},
			want: "bash: ls -la\n-> ok",
		},
		{
			name: "structured args",
			call: transcript.ToolCall{Tool: "read", Args: json.RawMessage(`{"path": "/tmp/foo"}`)},
			want: `read: {"path":"/tmp/foo"}`,
		},
		{
			name: "no args",
			call: transcript.ToolCall{Tool: "status"},
			want: "status",
		},
		{
			name: "result only",
			call: transcript.ToolCall{Tool: "status", Args: json.RawMessage(`null`), Result: "clean"},
			want: "status\n-> clean",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n := Summarize(&tt.call, nil)
			assert.Equal(t, tt.want, got)
			assert.Zero(t, n)
		})
	}
}

func TestSummarize_Truncates(t *testing.T) {
	long := strings.Repeat("é", 600)
	args, _ := json.Marshal(long)
	call := &transcript.ToolCall{Tool: "echo", Args: args, Result: long}

	got, _ := Summarize(call, nil)
	parts := strings.SplitN(got, "\n-> ", 2)
	assert.Len(t, parts, 2)
	assert.Equal(t, MaxArgsLen, utf8.RuneCountInString(strings.TrimPrefix(parts[0], "echo: ")))
	assert.Equal(t, MaxResultLen, utf8.RuneCountInString(parts[1]))
	assert.True(t, utf8.ValidString(got))
}

func TestSummarize_RedactsBeforeTruncating(t *testing.T) {
	secret := "hunter2"
	args, _ := json.Marshal(strings.Repeat("a", 245) + secret)
	call := &transcript.ToolCall{Tool: "x", Args: args}

	got, n := Summarize(call, prefixRedactor{})
	assert.Equal(t, 1, n)
	assert.NotContains(t, got, "hunte")
}
