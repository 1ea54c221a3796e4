package harness

import (
	"fmt"

	"github.com/roach88/mvistore/internal/counter"
)

// Trace event types.
const (
	EventStart             = "start"
	EventIntent            = "intent"
	EventState             = "state"
	EventAction            = "action"
	EventException         = "exception"
	EventUndeliveredIntent = "undelivered_intent"
	EventStop              = "stop"
)

// TraceEvent is one observed hook.
type TraceEvent struct {
	Seq   int64  `json:"seq"`
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

// Key is the "type:value" form used by trace_order.
func (e TraceEvent) Key() string {
	if e.Value == "" {
		return e.Type
	}
	return e.Type + ":" + e.Value
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Trace      []TraceEvent  `json:"trace"`
	FinalState counter.State `json:"final_state"`
	Actions    []string      `json:"actions"`

	// Errors holds one message per failed expectation.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Actions: []string{},
		Errors:  []string{},
	}
}

// AddError records a failure.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}
