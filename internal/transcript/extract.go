package transcript

import (
	"bytes"
	"encoding/json"
	"strings"
)

const roleAssistant = "assistant"

// blocks decodes the object elements of a content array.
func blocks(content json.RawMessage) []rawBlock {
	elems := decodeArray(content)
	if len(elems) == 0 {
		return nil
	}
	out := make([]rawBlock, 0, len(elems))
	for _, elem := range elems {
		var b rawBlock
		if decodeObject(elem, &b) {
			out = append(out, b)
		}
	}
	return out
}

// textParts collects the free-text fragments of a message. Each block may
// contribute text, thinking and string content, in that order.
func textParts(m *rawMessage) []string {
	if s, ok := jsonString(m.Content); ok {
		return []string{s}
	}
	var parts []string
	for _, b := range blocks(m.Content) {
		for _, field := range []json.RawMessage{b.Text, b.Thinking, b.Content} {
			if s, ok := jsonString(field); ok {
				parts = append(parts, s)
			}
		}
	}
	return parts
}

// toolCalls normalizes every tool-call shape an assistant message may carry,
// in this order: function_call, function_calls, tool_calls, content blocks.
// Calls without a tool name are dropped.
func toolCalls(m *rawMessage) []*ToolCall {
	var calls []*ToolCall
	calls = append(calls, callFromFunctionCall(m.FunctionCall)...)
	calls = append(calls, callsFromFunctionCalls(m.FunctionCalls)...)
	calls = append(calls, callsFromToolCalls(m.ToolCalls)...)
	calls = append(calls, callsFromBlocks(m.Content)...)

	named := calls[:0]
	for _, c := range calls {
		if c.Tool != "" {
			named = append(named, c)
		}
	}
	return named
}

// {"function_call": {"id", "name", "arguments"}}
func callFromFunctionCall(raw json.RawMessage) []*ToolCall {
	var rc rawCall
	if !decodeObject(raw, &rc) {
		return nil
	}
	return []*ToolCall{{ID: string(rc.ID), Tool: string(rc.Name), Args: rc.Arguments}}
}

// {"function_calls": [{"id"|"tool_call_id", "name", "arguments"}]}
func callsFromFunctionCalls(raw json.RawMessage) []*ToolCall {
	var calls []*ToolCall
	for _, elem := range decodeArray(raw) {
		var rc rawCall
		if !decodeObject(elem, &rc) {
			continue
		}
		calls = append(calls, &ToolCall{
			ID:   firstOf(rc.ID, rc.ToolCallID),
			Tool: string(rc.Name),
			Args: rc.Arguments,
		})
	}
	return calls
}

// {"tool_calls": [{"id", "function": {"name", "arguments"}}]}, falling back
// to name/arguments beside "function".
func callsFromToolCalls(raw json.RawMessage) []*ToolCall {
	var calls []*ToolCall
	for _, elem := range decodeArray(raw) {
		var rc rawCall
		if !decodeObject(elem, &rc) {
			continue
		}
		var fn rawFunction
		decodeObject(rc.Function, &fn)

		args := fn.Arguments
		if !truthy(args) {
			args = rc.Arguments
		}
		calls = append(calls, &ToolCall{
			ID:   firstOf(rc.ID, rc.ToolCallID),
			Tool: firstOf(fn.Name, rc.Name),
			Args: args,
		})
	}
	return calls
}

// Content blocks of type toolCall / tool_call (arguments) or tool_use (input).
func callsFromBlocks(content json.RawMessage) []*ToolCall {
	var calls []*ToolCall
	for _, b := range blocks(content) {
		switch b.Type {
		case "toolCall", "tool_call":
			calls = append(calls, &ToolCall{
				ID:   firstOf(b.ID, b.ToolCallID, b.ToolCallIDSnake),
				Tool: string(b.Name),
				Args: b.Arguments,
			})
		case "tool_use":
			calls = append(calls, &ToolCall{
				ID:   firstOf(b.ID, b.ToolCallID, b.ToolCallIDSnake),
				Tool: string(b.Name),
				Args: b.Input,
			})
		}
	}
	return calls
}

// toolResults returns the message itself when its role marks a tool result,
// followed by every inline result block.
func toolResults(m *rawMessage) []ToolResult {
	var results []ToolResult
	if m.Role == "toolResult" || m.Role == "tool" {
		results = append(results, ToolResult{
			CallID:   firstOf(m.ToolCallID, m.ToolCallIDSnake, m.ID),
			ToolName: firstOf(m.ToolName, m.Name),
			Content:  m.Content,
		})
	}
	for _, b := range blocks(m.Content) {
		if b.Type != "toolResult" && b.Type != "tool_result" {
			continue
		}
		results = append(results, ToolResult{
			CallID:   firstOf(b.ToolCallID, b.ToolCallIDSnake, b.ToolUseID, b.ID),
			ToolName: firstOf(b.ToolName, b.Name),
			Content:  b.Content,
		})
	}
	return results
}

// normalizeContent flattens a result payload to display text. Strings pass
// through. Arrays join each element's text, else string content, else its
// JSON; scalar elements are skipped. Anything else renders as JSON.
func normalizeContent(raw json.RawMessage) string {
	switch firstByte(raw) {
	case 0, 'n':
		return ""
	case '"':
		s, _ := jsonString(raw)
		return s
	case '[':
		var sb strings.Builder
		for _, elem := range decodeArray(raw) {
			switch firstByte(elem) {
			case '{':
				var b rawBlock
				decodeObject(elem, &b)
				if s, ok := jsonString(b.Text); ok {
					sb.WriteString(s)
				} else if s, ok := jsonString(b.Content); ok {
					sb.WriteString(s)
				} else {
					sb.WriteString(compactJSON(elem))
				}
			case '[':
				sb.WriteString(compactJSON(elem))
			}
		}
		return sb.String()
	default:
		return compactJSON(raw)
	}
}

// normalizeArgs renders call arguments: strings verbatim, other values as
// compact JSON, absent or null as "".
func normalizeArgs(raw json.RawMessage) string {
	switch firstByte(raw) {
	case 0, 'n':
		return ""
	case '"':
		s, _ := jsonString(raw)
		return s
	default:
		return compactJSON(raw)
	}
}

// compactJSON falls back to the raw text when compaction fails.
func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
