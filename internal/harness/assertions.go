package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, event.Key())
		}
	}
	return buf.String()
}

// evaluate checks the scenario's expectations and assertions against
// result. stopErr is the error the run stopped with.
func evaluate(scenario *Scenario, result *Result, stopErr error) {
	if exp := scenario.Expect; exp != nil {
		if exp.FinalState != "" && result.FinalState.String() != exp.FinalState {
			result.AddError("final state: expected %s, got %s", exp.FinalState, result.FinalState)
		}
		if exp.Actions != nil && !slices.Equal(exp.Actions, result.Actions) {
			result.AddError("actions: expected %v, got %v", exp.Actions, result.Actions)
		}
		if states := stateValues(result.Trace); exp.States != nil && !slices.Equal(exp.States, states) {
			result.AddError("states: expected %v, got %v", exp.States, states)
		}
	}
	checkStopError(scenario.Expect, result, stopErr)

	for i, a := range scenario.Assertions {
		if err := runAssertion(result, a); err != nil {
			result.AddError("assertion %d: %v", i, err)
		}
	}
}

func stateValues(trace []TraceEvent) []string {
	states := []string{}
	for _, event := range trace {
		if event.Type == EventState {
			states = append(states, event.Value)
		}
	}
	return states
}

func checkStopError(exp *Expect, result *Result, stopErr error) {
	want := ""
	if exp != nil {
		want = exp.Error
	}
	switch {
	case want == "" && stopErr != nil:
		result.AddError("unexpected error: %v", stopErr)
	case want != "" && stopErr == nil:
		result.AddError("expected error containing %q, run stopped cleanly", want)
	case want != "" && !strings.Contains(stopErr.Error(), want):
		result.AddError("expected error containing %q, got %v", want, stopErr)
	}
}

func runAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertFinalState:
		return assertFinalState(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func matches(event TraceEvent, typ, value string) bool {
	return event.Type == typ && (value == "" || event.Value == value)
}

func describe(typ, value string) string {
	if value == "" {
		return typ
	}
	return typ + ":" + value
}

// assertTraceContains checks that some event has the given type and,
// when set, value.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if matches(event, a.Event, a.Value) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(a.Event, a.Value),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that events appear in the given order.
// Events don't need to be consecutive; each is matched after the previous
// one.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for _, want := range a.Events {
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if event.Key() == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   fmt.Sprintf("%s missing or out of order", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks the exact number of matching events.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, a.Event, a.Value) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, describe(a.Event, a.Value)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState compares the expected fields with the JSON form of the
// final state. Fields not named in the assertion are ignored.
func assertFinalState(result *Result, a Assertion) error {
	data, err := json.Marshal(result.FinalState)
	if err != nil {
		return fmt.Errorf("marshal final state: %w", err)
	}
	var actual map[string]any
	if err := json.Unmarshal(data, &actual); err != nil {
		return fmt.Errorf("unmarshal final state: %w", err)
	}

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %s = %v", k, a.Expect[k]),
				Actual:   "field missing",
			}
		}
		if !valuesEqual(a.Expect[k], got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %s = %v", k, a.Expect[k]),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

// valuesEqual compares YAML-decoded expectations with JSON-decoded values.
// YAML yields int for whole numbers where JSON yields float64.
func valuesEqual(expected, actual any) bool {
	if e, ok := toFloat(expected); ok {
		a, ok := toFloat(actual)
		return ok && e == a
	}
	return reflect.DeepEqual(expected, actual)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
