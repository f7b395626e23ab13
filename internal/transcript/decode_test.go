package transcript

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
		ok   bool
	}{
		{"absent", ``, time.Time{}, false},
		{"null", `null`, time.Time{}, false},
		{"zero", `0`, time.Time{}, false},
		{"empty string", `""`, time.Time{}, false},
		{"bool", `true`, time.Time{}, false},
		{"object", `{"s":1}`, time.Time{}, false},
		{"epoch millis", `1773489600000`, time.UnixMilli(1773489600000), true},
		{"fractional millis", `1773489600000.9`, time.UnixMilli(1773489600000), true},
		{"rfc3339", `"2026-03-14T12:00:00Z"`, time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC), true},
		{"rfc3339 millis offset", `"2026-03-14T12:00:00.250+02:00"`,
			time.Date(2026, 3, 14, 10, 0, 0, 250e6, time.UTC), true},
		{"local datetime", `"2026-03-14T12:00:00"`, time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local), true},
		{"date only is utc", `"2026-03-14"`, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), true},
		{"minutes with zone", `"2026-10-18T10:00Z"`, time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC), true},
		{"minutes with offset", `"2026-10-18T10:00+02:00"`, time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC), true},
		{"year and month", `"2026-10"`, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), true},
		{"year only", `"2026"`, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"garbage", `"yesterday"`, time.Time{}, false},
		{"out of range", `1e300`, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseTimestamp(json.RawMessage(tt.raw))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
			}
		})
	}
}

func TestTruthy(t *testing.T) {
	for _, raw := range []string{``, `null`, `false`, `0`, `0.0`, `""`} {
		assert.False(t, truthy(json.RawMessage(raw)), raw)
	}
	for _, raw := range []string{`1`, `"x"`, `{}`, `[]`, `true`} {
		assert.True(t, truthy(json.RawMessage(raw)), raw)
	}
}

func TestFlexString(t *testing.T) {
	var v struct {
		A flexString `json:"a"`
		B flexString `json:"b"`
		C flexString `json:"c"`
		D flexString `json:"d"`
	}
	err := json.Unmarshal([]byte(`{"a":"text","b":12,"c":{"x":1},"d":null}`), &v)
	assert.NoError(t, err)
	assert.Equal(t, flexString("text"), v.A)
	assert.Equal(t, flexString("12"), v.B)
	assert.Equal(t, flexString(""), v.C)
	assert.Equal(t, flexString(""), v.D)
}

func TestDecodeRecord(t *testing.T) {
	rec, status := decodeRecord([]byte(`{"type":"message","timestamp":"2026-03-14T12:00:00Z"}`))
	assert.Equal(t, lineOK, status)
	assert.True(t, rec.IsMessage)

	rec, status = decodeRecord([]byte(`{"type":"custom","timestamp":1773489600000,"message":"hello"}`))
	assert.Equal(t, lineOK, status)
	assert.True(t, rec.IsMessage, "any truthy message field marks a message")

	_, status = decodeRecord([]byte(`{"type":"custom","message":"hello"}`))
	assert.Equal(t, lineUntimed, status)

	_, status = decodeRecord([]byte(`{"type":"message","Timestamp":"2026-03-14T12:00:00Z"}`))
	assert.Equal(t, lineUntimed, status, "mismatched key case is not a timestamp")

	_, status = decodeRecord([]byte(`{broken`))
	assert.Equal(t, lineUnparseable, status)
}
