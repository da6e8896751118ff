package harness

// Trace event types.
const (
	EventCreate = "create"
	EventSet    = "set"
	EventRemove = "remove"
	EventRead   = "read"
	EventNotify = "notify"
	EventError  = "error"
)

// TraceEvent is one entry of a scenario trace. Actions are followed by
// the notifications and errors they caused.
type TraceEvent struct {
	Step    int            `json:"step"` // 0 for store creation
	Type    string         `json:"type"`
	Store   string         `json:"store"`
	Key     string         `json:"key,omitempty"`
	State   map[string]any `json:"state,omitempty"`
	Changed []string       `json:"changed,omitempty"`
	Value   any            `json:"value,omitempty"`
	Code    string         `json:"code,omitempty"`

	// Recomputed counts derivations run by the action.
	Recomputed int `json:"recomputed,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expectation and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains every action, notification and error in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Recomputes counts derivations per "store.key", construction included.
	Recomputes map[string]int `json:"recomputes,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Errors:     []string{},
		Recomputes: make(map[string]int),
	}
}

// AddError adds an expectation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) int {
	r.Trace = append(r.Trace, ev)
	return len(r.Trace) - 1
}

// notifications returns the notify events of step in order.
func (r *Result) notifications(step int) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Step == step && ev.Type == EventNotify {
			out = append(out, ev)
		}
	}
	return out
}
