package harness

// TraceEvent is one executed step.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Op       string `json:"op"`
	Resource string `json:"resource,omitempty"`
	// Target is the backend path or key of backend steps.
	Target string `json:"target,omitempty"`
	// Result is the id returned by add or the key returned by push.
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	// State maps each observed resource to its data after the step.
	State map[string]any `json:"state,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors is empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final maps every resource named in the scenario to its data after
	// the last step.
	Final map[string]any `json:"final,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Final:  make(map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event with the next sequence number.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
