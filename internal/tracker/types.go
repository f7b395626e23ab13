package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Activity action and type values used for delivered tool calls.
const (
	ActionToolCall = "tool_call"
	TypeTechnical  = "technical"
)

// TaskID is a task identifier. The tracker serves numeric ids; strings are
// accepted too.
type TaskID string

// UnmarshalJSON accepts a JSON number or string.
func (id *TaskID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = TaskID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("task id must be a number or string: %w", err)
		}
		*id = TaskID(n.String())
	}
	return nil
}

func (id TaskID) String() string {
	return string(id)
}

// Task is the subset of a tracker task the sync reads.
type Task struct {
	ID          TaskID  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Column      string  `json:"column"`
	Assignee    string  `json:"assignee,omitempty"`
	CreatedBy   string  `json:"created_by,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

// InColumn reports whether the task sits in column, ignoring case.
func (t Task) InColumn(column string) bool {
	return strings.EqualFold(t.Column, column)
}

// Activity is one entry posted to a task's activity log.
type Activity struct {
	Action    string `json:"action"`
	User      string `json:"user"`
	Details   string `json:"details"`
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// ToolCallActivity builds the activity body for a delivered tool call.
func ToolCallActivity(user, details, sessionID string) Activity {
	return Activity{
		Action:    ActionToolCall,
		User:      user,
		Details:   details,
		Type:      TypeTechnical,
		SessionID: sessionID,
	}
}
