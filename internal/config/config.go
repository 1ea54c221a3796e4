// Package config loads store configuration from CUE files and the
// environment.
//
// A file is unified with the embedded #Config schema, so omitted fields
// take their defaults and unknown fields are rejected. Environment
// variables prefixed with MVISTORE_ override the file afterwards, e.g.
// MVISTORE_INTENTS_CAPACITY=16 or MVISTORE_STATE_MODE=immediate.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/caarlos0/env/v11"

	"github.com/roach88/mvistore/internal/engine"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MVISTORE_"

// File is the decoded configuration file.
type File struct {
	Name        string         `json:"name" env:"NAME"`
	Debug       bool           `json:"debug" env:"DEBUG"`
	Intents     IntentSettings `json:"intents" envPrefix:"INTENTS_"`
	Actions     ActionSettings `json:"actions" envPrefix:"ACTIONS_"`
	State       StateSettings  `json:"state" envPrefix:"STATE_"`
	Journal     string         `json:"journal" env:"JOURNAL"`
	MetricsAddr string         `json:"metrics_addr" env:"METRICS_ADDR"`
	Trace       bool           `json:"trace" env:"TRACE"`
}

type IntentSettings struct {
	Capacity    int    `json:"capacity" env:"CAPACITY"`
	Overflow    string `json:"overflow" env:"OVERFLOW"`
	Parallel    bool   `json:"parallel" env:"PARALLEL"`
	MaxParallel int    `json:"max_parallel" env:"MAX_PARALLEL"`
}

type ActionSettings struct {
	Strategy   string `json:"strategy" env:"STRATEGY"`
	BufferSize int    `json:"buffer_size" env:"BUFFER_SIZE"`
	Overflow   string `json:"overflow" env:"OVERFLOW"`
}

type StateSettings struct {
	Mode      string `json:"mode" env:"MODE"`
	Reentrant bool   `json:"reentrant" env:"REENTRANT"`
}

// Error is a configuration error, with the CUE position when known.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Unwrap lets callers match engine.ErrInvalidConfig.
func (e *Error) Unwrap() error {
	return engine.ErrInvalidConfig
}

type loadOptions struct {
	environ map[string]string
	skipEnv bool
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithEnvironment replaces the process environment, for tests.
func WithEnvironment(environ map[string]string) LoadOption {
	return func(o *loadOptions) {
		o.environ = environ
	}
}

// WithoutEnvironment ignores environment overrides.
func WithoutEnvironment() LoadOption {
	return func(o *loadOptions) {
		o.skipEnv = true
	}
}

// Load reads the CUE file at path, applies defaults and environment
// overrides. An empty path yields the defaults.
func Load(path string, opts ...LoadOption) (File, error) {
	var src []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return File{}, fmt.Errorf("read config: %w", err)
		}
		src = data
	}
	return parse(path, src, opts...)
}

// Parse is Load for in-memory source. filename is used in error
// positions.
func Parse(filename string, src []byte, opts ...LoadOption) (File, error) {
	return parse(filename, src, opts...)
}

func parse(filename string, src []byte, opts ...LoadOption) (File, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return File{}, fmt.Errorf("compile schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config"))
	if len(src) > 0 {
		file := ctx.CompileBytes(src, cue.Filename(filename))
		if err := file.Err(); err != nil {
			return File{}, formatCUEError(err)
		}
		value = value.Unify(file)
	}

	if err := value.Validate(cue.Concrete(true)); err != nil {
		return File{}, formatCUEError(err)
	}

	var f File
	if err := value.Decode(&f); err != nil {
		return File{}, formatCUEError(err)
	}

	if !o.skipEnv {
		envOpts := env.Options{Prefix: EnvPrefix}
		if o.environ != nil {
			envOpts.Environment = o.environ
		}
		if err := env.ParseWithOptions(&f, envOpts); err != nil {
			return File{}, &Error{Message: fmt.Sprintf("environment: %v", err)}
		}
	}
	return f, nil
}

// EngineConfig converts the file into an engine configuration and
// validates it. opts are applied last (logger, id generator).
func (f File) EngineConfig(opts ...engine.ConfigOption) (engine.Config, error) {
	intentOverflow, err := engine.ParseOverflow(f.Intents.Overflow)
	if err != nil {
		return engine.Config{}, err
	}
	strategy, err := engine.ParseActionStrategy(f.Actions.Strategy)
	if err != nil {
		return engine.Config{}, err
	}
	actionOverflow, err := engine.ParseOverflow(f.Actions.Overflow)
	if err != nil {
		return engine.Config{}, err
	}
	mode, err := engine.ParseStateMode(f.State.Mode)
	if err != nil {
		return engine.Config{}, err
	}

	base := []engine.ConfigOption{
		engine.WithName(f.Name),
		engine.WithDebug(f.Debug),
		engine.WithIntentQueue(f.Intents.Capacity, intentOverflow),
		engine.WithActions(strategy, f.Actions.BufferSize, actionOverflow),
		engine.WithStateStrategy(mode, f.State.Reentrant),
	}
	if f.Intents.Parallel {
		base = append(base, engine.WithParallelIntents(f.Intents.MaxParallel))
	}

	cfg := engine.NewConfig(append(base, opts...)...)
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	var pos token.Pos
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		pos = positions[0]
	}
	return &Error{Message: first.Error(), Pos: pos}
}
