package transcript

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(id, content string) ToolResult {
	raw, _ := json.Marshal(content)
	return ToolResult{CallID: id, Content: raw}
}

func TestCorrelator_MatchesByIDRegardlessOfOrder(t *testing.T) {
	c := NewCorrelator()
	for _, id := range []string{"a", "b", "c"} {
		c.AddCall(&ToolCall{ID: id, Tool: "t"})
	}

	assert.True(t, c.Resolve(result("c", "for c")))
	assert.True(t, c.Resolve(result("a", "for a")))
	assert.True(t, c.Resolve(result("b", "for b")))

	calls := c.Calls()
	assert.Equal(t, "for a", calls[0].Result)
	assert.Equal(t, "for b", calls[1].Result)
	assert.Equal(t, "for c", calls[2].Result)
	for _, call := range calls {
		assert.Equal(t, ByID, call.Resolution)
		assert.False(t, call.Ambiguous)
	}
	assert.Zero(t, c.Open())
}

func TestCorrelator_FirstResultWins(t *testing.T) {
	c := NewCorrelator()
	c.AddCall(&ToolCall{ID: "a", Tool: "t"})
	c.AddCall(&ToolCall{ID: "b", Tool: "t"})

	assert.True(t, c.Resolve(result("a", "first")))
	assert.False(t, c.Resolve(result("a", "second")), "duplicate id must not fall back to another call")

	assert.Equal(t, "first", c.Calls()[0].Result)
	assert.False(t, c.Calls()[1].HasResult())
}

func TestCorrelator_FallbackIsLIFOAmongOpenCalls(t *testing.T) {
	c := NewCorrelator()
	c.AddCall(&ToolCall{Tool: "one"})
	c.AddCall(&ToolCall{Tool: "two"})
	c.AddCall(&ToolCall{Tool: "three"})

	require.True(t, c.Resolve(result("", "r1")))
	require.True(t, c.Resolve(result("unknown-id", "r2")))
	require.True(t, c.Resolve(result("", "r3")))
	assert.False(t, c.Resolve(result("", "r4")), "no open call left")

	calls := c.Calls()
	assert.Equal(t, "r3", calls[0].Result)
	assert.Equal(t, "r2", calls[1].Result)
	assert.Equal(t, "r1", calls[2].Result)

	assert.True(t, calls[2].Ambiguous)
	assert.True(t, calls[1].Ambiguous)
	assert.False(t, calls[0].Ambiguous, "last open call is unambiguous")
	assert.Equal(t, ByOrder, calls[0].Resolution)
}

func TestCorrelator_SequentialCallsAreUnambiguous(t *testing.T) {
	c := NewCorrelator()
	for i := 0; i < 3; i++ {
		c.AddCall(&ToolCall{Tool: "step"})
		require.True(t, c.Resolve(result("", "done")))
	}
	for _, call := range c.Calls() {
		assert.False(t, call.Ambiguous)
		assert.Equal(t, ByOrder, call.Resolution)
	}
}

func TestCorrelator_EmptyResultLeavesCallOpen(t *testing.T) {
	c := NewCorrelator()
	c.AddCall(&ToolCall{ID: "a", Tool: "t"})

	assert.False(t, c.Resolve(result("a", "")))
	assert.Equal(t, 1, c.Open())
	assert.True(t, c.Resolve(result("a", "later")))
	assert.Equal(t, "later", c.Calls()[0].Result)
}

func TestCorrelator_AssignsIndexes(t *testing.T) {
	c := NewCorrelator()
	a, b := &ToolCall{Tool: "a"}, &ToolCall{Tool: "b"}
	c.AddCall(a)
	c.AddCall(b)
	assert.Equal(t, 0, a.Index)
	assert.Equal(t, 1, b.Index)
}

func TestCorrelator_NoCalls(t *testing.T) {
	c := NewCorrelator()
	assert.False(t, c.Resolve(result("x", "orphan")))
	assert.Empty(t, c.Calls())
}
