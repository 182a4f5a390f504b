package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int              `json:"seq"`
	Op      string           `json:"op"`
	Model   string           `json:"model"`
	Result  map[string]any   `json:"result,omitempty"`
	Records []map[string]any `json:"records,omitempty"`
	Count   *int64           `json:"count,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds the steps in execution order. Setup is not traced.
	Trace []TraceEvent `json:"trace"`

	// Errors describes each failed expectation or assertion.
	Errors []string `json:"errors,omitempty"`

	// State holds the final contents of every collection, keyed by
	// collection name, with storage field names.
	State map[string][]map[string]any `json:"state,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string][]map[string]any),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends ev with the next sequence number.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
