package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/mvistore/internal/counter"
)

// Scenario drives the counter store with a list of intents and states
// what should come out.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Config tunes the store under test. Zero values keep the defaults.
	Config ScenarioConfig `yaml:"config,omitempty"`

	// Intents in the text form accepted by counter.ParseIntent.
	Intents []string `yaml:"intents"`

	Expect *Expect `yaml:"expect,omitempty"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ScenarioConfig is the subset of store configuration a scenario may set.
type ScenarioConfig struct {
	IntentCapacity int    `yaml:"intent_capacity,omitempty"`
	IntentOverflow string `yaml:"intent_overflow,omitempty"`
	Debug          bool   `yaml:"debug,omitempty"`
}

// Expect compares whole outcomes.
type Expect struct {
	// FinalState in State.String form, e.g. "Count(3)".
	FinalState string `yaml:"final_state,omitempty"`

	// Actions in Action.String form, in emission order. Nil skips the
	// check; an empty list requires no actions.
	Actions []string `yaml:"actions,omitempty"`

	// States in State.String form, in the order they were proposed,
	// starting with the load to Count(0). Nil skips the check.
	States []string `yaml:"states,omitempty"`

	// Error is a substring of the error the run stopped with.
	Error string `yaml:"error,omitempty"`
}

// Assertion checks one property of the trace or final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count,
	// final_state.
	Type string `yaml:"type"`

	// Event and Value select trace events (trace_contains, trace_count).
	// An empty Value matches any value.
	Event string `yaml:"event,omitempty"`
	Value string `yaml:"value,omitempty"`

	// Events in "type:value" form, for trace_order.
	Events []string `yaml:"events,omitempty"`

	// Count for trace_count.
	Count int `yaml:"count,omitempty"`

	// Expect is a subset of the JSON form of the final state.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario file. Unknown fields (typos)
// are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Intents) == 0 {
		return errors.New("intents list is required and must be non-empty")
	}

	for i, text := range s.Intents {
		if _, err := counter.ParseIntent(text); err != nil {
			return fmt.Errorf("intents[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return errors.New("trace_contains requires event")
		}
	case AssertTraceOrder:
		if len(a.Events) < 2 {
			return errors.New("trace_order requires at least two events")
		}
	case AssertTraceCount:
		if a.Event == "" {
			return errors.New("trace_count requires event")
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return errors.New("final_state requires expect")
		}
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
