package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Overflow is the policy applied when a bounded buffer is full.
type Overflow int

const (
	// OverflowSuspend makes blocking producers wait for space. Non-blocking
	// producers drop the new value.
	OverflowSuspend Overflow = iota
	// OverflowDropOldest evicts the oldest buffered value.
	OverflowDropOldest
	// OverflowDropLatest drops the new value.
	OverflowDropLatest
	// OverflowFail rejects the new value with ErrQueueFull.
	OverflowFail
)

var overflowNames = []string{"suspend", "drop_oldest", "drop_latest", "fail"}

func (o Overflow) String() string {
	if o >= 0 && int(o) < len(overflowNames) {
		return overflowNames[o]
	}
	return fmt.Sprintf("Overflow(%d)", int(o))
}

// ParseOverflow parses the lower_snake_case name of an overflow policy.
func ParseOverflow(s string) (Overflow, error) {
	for i, name := range overflowNames {
		if strings.EqualFold(s, name) {
			return Overflow(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown overflow policy %q", ErrInvalidConfig, s)
}

// ActionStrategy selects how emitted actions reach subscribers.
type ActionStrategy int

const (
	// ActionsDistribute delivers each action to exactly one subscriber
	// through a shared buffer.
	ActionsDistribute ActionStrategy = iota
	// ActionsBroadcast delivers every action to every subscriber.
	ActionsBroadcast
	// ActionsConsume is Distribute restricted to a single subscriber.
	ActionsConsume
	// ActionsDisabled rejects every emission with ErrActionsDisabled.
	ActionsDisabled
)

var actionStrategyNames = []string{"distribute", "broadcast", "consume", "disabled"}

func (s ActionStrategy) String() string {
	if s >= 0 && int(s) < len(actionStrategyNames) {
		return actionStrategyNames[s]
	}
	return fmt.Sprintf("ActionStrategy(%d)", int(s))
}

// ParseActionStrategy parses the lower-case name of an action strategy.
func ParseActionStrategy(s string) (ActionStrategy, error) {
	for i, name := range actionStrategyNames {
		if strings.EqualFold(s, name) {
			return ActionStrategy(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown action strategy %q", ErrInvalidConfig, s)
}

// StateMode selects the state transaction discipline.
type StateMode int

const (
	// StateAtomic serializes transactions behind a lock.
	StateAtomic StateMode = iota
	// StateImmediate uses a lock-free compare-and-swap loop; transaction
	// blocks may run more than once.
	StateImmediate
)

func (m StateMode) String() string {
	switch m {
	case StateAtomic:
		return "atomic"
	case StateImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("StateMode(%d)", int(m))
	}
}

// ParseStateMode parses "atomic" or "immediate".
func ParseStateMode(s string) (StateMode, error) {
	switch strings.ToLower(s) {
	case "atomic":
		return StateAtomic, nil
	case "immediate":
		return StateImmediate, nil
	default:
		return 0, fmt.Errorf("%w: unknown state mode %q", ErrInvalidConfig, s)
	}
}

// StateStrategy configures the state cell.
type StateStrategy struct {
	Mode StateMode `validate:"gte=0,lte=1"`

	// Reentrant lets a transaction block open nested transactions with the
	// context it was given. Only meaningful in atomic mode.
	Reentrant bool
}

// ActionConfig configures action distribution.
type ActionConfig struct {
	Strategy   ActionStrategy `validate:"gte=0,lte=3"`
	BufferSize int            `validate:"gte=0"`
	Overflow   Overflow       `validate:"gte=0,lte=3"`
}

// Config is the immutable configuration of an Engine.
type Config struct {
	// Name is the optional human-readable engine name. When set it is also
	// the engine identity.
	Name string `validate:"max=256"`

	// Debug turns unhandled intents into errors and enables verbose checks.
	Debug bool

	// ParallelIntents processes intents on bounded child goroutines.
	ParallelIntents bool

	// MaxParallelIntents bounds ParallelIntents; 0 means unbounded.
	MaxParallelIntents int `validate:"gte=0"`

	// IntentCapacity bounds the intent queue; 0 means unbounded.
	IntentCapacity int `validate:"gte=0"`

	// IntentOverflow applies when a bounded intent queue is full.
	IntentOverflow Overflow `validate:"gte=0,lte=3"`

	Actions ActionConfig

	State StateStrategy

	// Logger defaults to slog.Default().
	Logger *slog.Logger `validate:"-"`

	// IDs generates the engine identity when Name is empty.
	IDs IDGenerator `validate:"-"`
}

// ConfigOption mutates a Config under construction.
type ConfigOption func(*Config)

// DefaultConfig returns the configuration used when no option is given:
// unbounded intent queue, distributed actions with a 64-slot suspending
// buffer, reentrant atomic state.
func DefaultConfig() Config {
	return Config{
		Actions: ActionConfig{
			Strategy:   ActionsDistribute,
			BufferSize: 64,
			Overflow:   OverflowSuspend,
		},
		State: StateStrategy{Mode: StateAtomic, Reentrant: true},
	}
}

// NewConfig applies opts to DefaultConfig.
func NewConfig(opts ...ConfigOption) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithName sets the engine name.
func WithName(name string) ConfigOption {
	return func(c *Config) { c.Name = name }
}

// WithDebug toggles debug mode.
func WithDebug(debug bool) ConfigOption {
	return func(c *Config) { c.Debug = debug }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ConfigOption {
	return func(c *Config) { c.Logger = logger }
}

// WithIntentQueue bounds the intent queue.
func WithIntentQueue(capacity int, overflow Overflow) ConfigOption {
	return func(c *Config) {
		c.IntentCapacity = capacity
		c.IntentOverflow = overflow
	}
}

// WithActions configures action distribution.
func WithActions(strategy ActionStrategy, bufferSize int, overflow Overflow) ConfigOption {
	return func(c *Config) {
		c.Actions = ActionConfig{Strategy: strategy, BufferSize: bufferSize, Overflow: overflow}
	}
}

// WithStateStrategy sets the state transaction discipline.
func WithStateStrategy(mode StateMode, reentrant bool) ConfigOption {
	return func(c *Config) { c.State = StateStrategy{Mode: mode, Reentrant: reentrant} }
}

// WithParallelIntents enables parallel intent processing bounded by max
// (0 = unbounded).
func WithParallelIntents(max int) ConfigOption {
	return func(c *Config) {
		c.ParallelIntents = true
		c.MaxParallelIntents = max
	}
}

// WithIDGenerator overrides the identity generator.
func WithIDGenerator(gen IDGenerator) ConfigOption {
	return func(c *Config) { c.IDs = gen }
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.ParallelIntents && c.State.Mode == StateImmediate {
		return fmt.Errorf("%w: parallel intents require the atomic state mode", ErrInvalidConfig)
	}
	return nil
}
