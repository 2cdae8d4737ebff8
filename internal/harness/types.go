package harness

// TraceEvent records the outcome of one unit of work.
type TraceEvent struct {
	// Handle is the unit's handle ("uow-N").
	Handle string `json:"handle"`

	// TransactionID is the committed id, or 0 when the unit was aborted or
	// had no net changes.
	TransactionID int64 `json:"tx"`

	// Aborted is true when the scenario aborted the unit.
	Aborted bool `json:"aborted,omitempty"`

	// Versions lists the versions the unit wrote, as "type:id@tx", sorted.
	Versions []string `json:"versions,omitempty"`

	// Rejected lists steps that failed with their expected error, as
	// "op CODE".
	Rejected []string `json:"rejected,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every step behaved as expected and every assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per unit of work, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
