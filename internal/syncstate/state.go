// Package syncstate persists which tool calls have been delivered per task.
//
// The state file is the only record that survives between runs:
//
//	{"version": 1, "synced": {"<taskId>": {"<callKey>": true}}}
//
// A call key, once marked for a task, is never delivered to that task again.
// The store assumes a single writer; concurrent runs against the same file
// can lose updates.
package syncstate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Version is the schema version written by Save.
const Version = 1

// ErrCorrupted marks a state file that exists but cannot be used.
var ErrCorrupted = errors.New("sync state corrupted")

// State maps task ids to the call keys already delivered to them.
type State struct {
	Version int                        `json:"version"`
	Synced  map[string]map[string]bool `json:"synced"`
}

// New returns an empty state.
func New() *State {
	return &State{Version: Version, Synced: make(map[string]map[string]bool)}
}

// CallKey identifies a tool call across runs: the session id, a colon, then
// the call id, or "i<index>" when the call has no id.
func CallKey(sessionID, callID string, index int) string {
	if callID == "" {
		return sessionID + ":i" + strconv.Itoa(index)
	}
	return sessionID + ":" + callID
}

// IsSynced reports whether key was delivered to task.
func (s *State) IsSynced(taskID, key string) bool {
	return s.Synced[taskID][key]
}

// MarkSynced records key as delivered to task. Marks are never removed.
func (s *State) MarkSynced(taskID, key string) {
	keys, ok := s.Synced[taskID]
	if !ok {
		keys = make(map[string]bool)
		s.Synced[taskID] = keys
	}
	keys[key] = true
}

// Count returns how many keys are recorded for task.
func (s *State) Count(taskID string) int {
	return len(s.Synced[taskID])
}

// Tasks returns the task ids with recorded keys, sorted.
func (s *State) Tasks() []string {
	ids := make([]string, 0, len(s.Synced))
	for id := range s.Synced {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := &State{Version: s.Version, Synced: make(map[string]map[string]bool, len(s.Synced))}
	for task, keys := range s.Synced {
		cp := make(map[string]bool, len(keys))
		for k, v := range keys {
			cp[k] = v
		}
		c.Synced[task] = cp
	}
	return c
}

// Load reads the state at path and always returns a usable state. A missing
// file yields an empty state with no error. An unreadable or corrupt file
// also yields an empty state, along with the reason it was rejected.
func Load(path string) (*State, error) {
	s, err := Read(path)
	if err != nil {
		return New(), err
	}
	return s, nil
}

// Read is the strict form of Load: a rejected file returns a nil state. A
// missing file is not an error.
func Read(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sync state: %w", err)
	}
	return decode(data)
}

// decode accepts any JSON object. Unknown fields are ignored and a synced
// entry counts when its value is truthy.
func decode(data []byte) (*State, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		if err == nil {
			err = errors.New("not an object")
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	s := New()
	if raw, ok := top["version"]; ok {
		var v int
		if json.Unmarshal(raw, &v) == nil {
			s.Version = v
		}
	}

	var tasks map[string]json.RawMessage
	if json.Unmarshal(top["synced"], &tasks) != nil {
		return s, nil
	}
	for task, raw := range tasks {
		var keys map[string]json.RawMessage
		if json.Unmarshal(raw, &keys) != nil {
			continue
		}
		for key, val := range keys {
			if truthy(val) {
				s.MarkSynced(task, key)
			}
		}
	}
	return s, nil
}

func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0, bytes.Equal(raw, []byte("null")), bytes.Equal(raw, []byte("false")), bytes.Equal(raw, []byte(`""`)):
		return false
	case raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'):
		f, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && f != 0
	default:
		return true
	}
}

// Save writes the whole state as indented JSON, replacing the file
// atomically. Parent directories are created as needed.
func Save(path string, s *State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}
