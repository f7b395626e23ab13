package transcript

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// flexString accepts a JSON string or number. Other kinds decode to "".
// It never fails, so one odd field cannot reject a whole record.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch c := b[0]; {
	case c == '"':
		var s string
		if json.Unmarshal(b, &s) == nil {
			*f = flexString(s)
		}
	case c == '-' || (c >= '0' && c <= '9'):
		*f = flexString(b)
	default:
		*f = ""
	}
	return nil
}

func firstOf(vals ...flexString) string {
	for _, v := range vals {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

type rawRecord struct {
	Type      flexString      `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
}

type rawMessage struct {
	Role            flexString      `json:"role"`
	Timestamp       json.RawMessage `json:"timestamp"`
	Content         json.RawMessage `json:"content"`
	FunctionCall    json.RawMessage `json:"function_call"`
	FunctionCalls   json.RawMessage `json:"function_calls"`
	ToolCalls       json.RawMessage `json:"tool_calls"`
	ID              flexString      `json:"id"`
	ToolCallID      flexString      `json:"toolCallId"`
	ToolCallIDSnake flexString      `json:"tool_call_id"`
	ToolName        flexString      `json:"toolName"`
	Name            flexString      `json:"name"`
}

// rawBlock covers every content block shape: text, thinking, tool calls
// and tool results.
type rawBlock struct {
	Type            flexString      `json:"type"`
	Text            json.RawMessage `json:"text"`
	Thinking        json.RawMessage `json:"thinking"`
	Content         json.RawMessage `json:"content"`
	ID              flexString      `json:"id"`
	ToolCallID      flexString      `json:"toolCallId"`
	ToolCallIDSnake flexString      `json:"tool_call_id"`
	ToolUseID       flexString      `json:"tool_use_id"`
	Name            flexString      `json:"name"`
	ToolName        flexString      `json:"toolName"`
	Arguments       json.RawMessage `json:"arguments"`
	Input           json.RawMessage `json:"input"`
}

// rawCall is an entry of function_call, function_calls or tool_calls.
type rawCall struct {
	ID         flexString      `json:"id"`
	ToolCallID flexString      `json:"tool_call_id"`
	Name       flexString      `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Function   json.RawMessage `json:"function"`
}

type rawFunction struct {
	Name      flexString      `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// lineStatus classifies a decoded line.
type lineStatus int

const (
	lineOK lineStatus = iota
	lineUnparseable
	lineUntimed
)

// record is one decoded transcript line.
type record struct {
	Timestamp time.Time
	// IsMessage is true for type "message" or any record carrying a message.
	IsMessage bool
	Message   rawMessage
}

// decodeRecord parses one non-empty line.
func decodeRecord(line []byte) (record, lineStatus) {
	var raw rawRecord
	if err := unmarshalExact(line, &raw); err != nil {
		// Valid JSON that is not an object has no timestamp to offer.
		if json.Valid(line) {
			return record{}, lineUntimed
		}
		return record{}, lineUnparseable
	}

	var rec record
	hasMessage := decodeObject(raw.Message, &rec.Message)
	rec.IsMessage = raw.Type == "message" || truthy(raw.Message)

	ts, ok := parseTimestamp(raw.Timestamp)
	if !ok && hasMessage {
		ts, ok = parseTimestamp(rec.Message.Timestamp)
	}
	if !ok {
		return record{}, lineUntimed
	}
	rec.Timestamp = ts
	return rec, lineOK
}

func firstByte(raw json.RawMessage) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

// decodeObject decodes raw into v only when raw is a JSON object.
func decodeObject(raw json.RawMessage, v any) bool {
	if firstByte(raw) != '{' {
		return false
	}
	return unmarshalExact(raw, v) == nil
}

// decodeArray splits a JSON array into its elements. Non-arrays yield nil.
func decodeArray(raw json.RawMessage) []json.RawMessage {
	if firstByte(raw) != '[' {
		return nil
	}
	var elems []json.RawMessage
	if json.Unmarshal(raw, &elems) != nil {
		return nil
	}
	return elems
}

// tagCache maps a struct type to its set of json key names.
var tagCache sync.Map

func jsonKeys(t reflect.Type) map[string]bool {
	if keys, ok := tagCache.Load(t); ok {
		return keys.(map[string]bool)
	}
	keys := make(map[string]bool, t.NumField())
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	tagCache.Store(t, keys)
	return keys
}

// unmarshalExact decodes a JSON object into the struct pointed to by v,
// matching keys case-sensitively: "Text" does not fill a "text" field.
func unmarshalExact(data []byte, v any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	keys := jsonKeys(reflect.TypeOf(v).Elem())
	for k := range fields {
		if !keys[k] {
			delete(fields, k)
		}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// jsonString returns the value of raw when it is a JSON string.
func jsonString(raw json.RawMessage) (string, bool) {
	if firstByte(raw) != '"' {
		return "", false
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return s, true
}

// truthy mirrors loose truthiness of a JSON value: absent, null, false, 0
// and "" are false.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch c := raw[0]; {
	case c == 'n', c == 'f':
		return false
	case c == '"':
		s, _ := jsonString(raw)
		return s != ""
	case c == '-' || (c >= '0' && c <= '9'):
		f, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && f != 0
	default:
		return true
	}
}

// maxEpochMillis is the largest representable instant, ±8.64e15 ms.
const maxEpochMillis = 8.64e15

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
}

var dateLayouts = []string{"2006-01-02", "2006-01", "2006"}

var zonedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
	time.RFC1123,
	time.RFC1123Z,
}

// parseTimestamp accepts epoch milliseconds or a date string. Zero, empty
// and unparseable values report false.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if !truthy(raw) {
		return time.Time{}, false
	}
	raw = bytes.TrimSpace(raw)

	switch c := raw[0]; {
	case c == '-' || (c >= '0' && c <= '9'):
		ms, err := strconv.ParseFloat(string(raw), 64)
		if err != nil || math.Abs(ms) > maxEpochMillis {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(math.Trunc(ms))), true
	case c == '"':
		s, _ := jsonString(raw)
		return parseDateString(s)
	default:
		return time.Time{}, false
	}
}

func parseDateString(s string) (time.Time, bool) {
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	// Date-only strings are UTC midnight.
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
