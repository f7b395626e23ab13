package transcript

// Correlator pairs tool results with the calls they answer within one
// session. Results are matched by correlation id when the id names a known
// call; otherwise they attach to the most recent call still waiting for a
// result. The order-based fallback assumes results arrive in call order and
// is flagged as ambiguous whenever more than one call is waiting.
type Correlator struct {
	calls []*ToolCall
	byID  map[string]*ToolCall
	open  int
}

// NewCorrelator returns an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{byID: make(map[string]*ToolCall)}
}

// AddCall registers a call and assigns its session-wide index.
// A later call reusing an id shadows the earlier one for id lookups.
func (c *Correlator) AddCall(call *ToolCall) {
	call.Index = len(c.calls)
	c.calls = append(c.calls, call)
	if call.ID != "" {
		c.byID[call.ID] = call
	}
	c.open++
}

// Resolve attaches a result and reports whether it was kept. Results whose
// call already has one, results with nothing to attach to, and empty
// results are dropped.
func (c *Correlator) Resolve(res ToolResult) bool {
	content := normalizeContent(res.Content)

	target, how := c.byID[res.CallID], ByID
	if res.CallID == "" || target == nil {
		target, how = c.lastOpen(), ByOrder
	}
	if target == nil || target.HasResult() || content == "" {
		return false
	}

	target.Result = content
	target.Resolution = how
	if how == ByOrder && c.open > 1 {
		target.Ambiguous = true
	}
	c.open--
	return true
}

// Calls returns all registered calls in extraction order.
func (c *Correlator) Calls() []*ToolCall {
	return c.calls
}

// Open returns how many calls still have no result.
func (c *Correlator) Open() int {
	return c.open
}

func (c *Correlator) lastOpen() *ToolCall {
	for i := len(c.calls) - 1; i >= 0; i-- {
		if !c.calls[i].HasResult() {
			return c.calls[i]
		}
	}
	return nil
}
