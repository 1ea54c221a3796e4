// Package counter is a small application store built on the engine: an
// integer that starts Loading, becomes Count(0) once loaded and then
// follows increment, decrement, add and reset intents.
package counter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/mvistore/internal/engine"
)

// State is Loading until the store started, then Count(n).
type State struct {
	Loaded bool `json:"loaded"`
	Count  int  `json:"count"`
}

// Loading is the initial State.
var Loading = State{}

// Count returns a loaded State holding n.
func Count(n int) State {
	return State{Loaded: true, Count: n}
}

func (s State) String() string {
	if !s.Loaded {
		return "Loading"
	}
	return fmt.Sprintf("Count(%d)", s.Count)
}

type IntentKind string

const (
	Increment IntentKind = "increment"
	Decrement IntentKind = "decrement"
	Add       IntentKind = "add"
	Reset     IntentKind = "reset"
	Fail      IntentKind = "fail"
)

// Intent is a request to change the counter. Amount is used by Add.
type Intent struct {
	Kind   IntentKind `json:"kind"`
	Amount int        `json:"amount,omitempty"`
}

func (i Intent) String() string {
	if i.Kind == Add {
		return fmt.Sprintf("add %d", i.Amount)
	}
	return string(i.Kind)
}

// ErrUnknownIntent is returned for intents the counter does not know.
var ErrUnknownIntent = errors.New("unknown intent")

// ParseIntent parses the text form used by the CLI and scenarios:
// "increment", "decrement", "reset", "fail" or "add <n>".
func ParseIntent(s string) (Intent, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Intent{}, fmt.Errorf("%w: empty", ErrUnknownIntent)
	}

	kind := IntentKind(strings.ToLower(fields[0]))
	switch kind {
	case Increment, Decrement, Reset, Fail:
		if len(fields) != 1 {
			return Intent{}, fmt.Errorf("%w: %q takes no argument", ErrUnknownIntent, kind)
		}
		return Intent{Kind: kind}, nil
	case Add:
		if len(fields) != 2 {
			return Intent{}, fmt.Errorf("%w: add needs an amount", ErrUnknownIntent)
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return Intent{}, fmt.Errorf("%w: add amount: %v", ErrUnknownIntent, err)
		}
		return Intent{Kind: Add, Amount: n}, nil
	}
	return Intent{}, fmt.Errorf("%w: %q", ErrUnknownIntent, fields[0])
}

type ActionKind string

const (
	// WentNegative is emitted when the count drops below zero.
	WentNegative ActionKind = "went_negative"
	// WasReset is emitted after a reset.
	WasReset ActionKind = "was_reset"
	// Failed is emitted when a requested failure was recovered.
	Failed ActionKind = "failed"
)

// Action is a one-shot event for subscribers.
type Action struct {
	Kind  ActionKind `json:"kind"`
	Count int        `json:"count"`
}

func (a Action) String() string {
	return fmt.Sprintf("%s(%d)", a.Kind, a.Count)
}

type (
	Store     = engine.Engine[State, Intent, Action]
	Plugin    = engine.Plugin[State, Intent, Action]
	Decorator = engine.Decorator[State, Intent, Action]
	Pipeline  = engine.Pipeline[State, Intent, Action]
)

// ErrFailRequested is what a Fail intent raises.
var ErrFailRequested = errors.New("failure requested")
