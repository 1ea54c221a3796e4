package engine

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Sentinel errors. Match with errors.Is; they are usually wrapped in *Error.
var (
	ErrAlreadyStarted            = errors.New("engine already started")
	ErrNotRunning                = errors.New("engine is not running")
	ErrQueueFull                 = errors.New("queue is full")
	ErrActionsDisabled           = errors.New("actions are disabled")
	ErrActionsAlreadyConsumed    = errors.New("actions are already consumed by another subscriber")
	ErrUnhandledIntent           = errors.New("intent was not handled by any plugin")
	ErrRecursiveStateTransaction = errors.New("recursive state transaction")
	ErrDuplicatePlugin           = errors.New("duplicate plugin name")
	ErrInvalidConfig             = errors.New("invalid configuration")
	ErrRestartForbidden          = errors.New("engine may not be restarted")
)

// ErrorKind categorizes engine errors.
type ErrorKind string

const (
	// KindRecoverable errors originate in hooks and pass through OnException.
	KindRecoverable ErrorKind = "RECOVERABLE"

	// KindFatal errors escaped the exception chain and stop the run.
	KindFatal ErrorKind = "FATAL"

	// KindUsage errors are caller mistakes. They fail fast and are never
	// offered to OnException.
	KindUsage ErrorKind = "USAGE"
)

// Error is an engine error with structured context.
type Error struct {
	// Kind is the error category.
	Kind ErrorKind

	// Op names the operation that failed ("start", "send", "intent", ...).
	Op string

	// Engine is the identity of the engine that reported the error.
	Engine string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Engine != "" {
		return fmt.Sprintf("%s: %s (engine=%s): %v", e.Kind, e.Op, e.Engine, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// PanicError carries a value recovered from a panicking hook.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsUsage reports whether err is a usage error.
func IsUsage(err error) bool {
	return kindOf(err) == KindUsage
}

// IsFatal reports whether err is a fatal error.
func IsFatal(err error) bool {
	return kindOf(err) == KindFatal
}

// IsRecoverable reports whether err is a recoverable error.
func IsRecoverable(err error) bool {
	return kindOf(err) == KindRecoverable
}

// IsPanic reports whether err carries a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}

func kindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NewUsageError wraps err as a usage error.
func NewUsageError(engine, op string, err error) *Error {
	return &Error{Kind: KindUsage, Op: op, Engine: engine, Err: err}
}

// NewRecoverableError wraps err as a recoverable error.
func NewRecoverableError(engine, op string, err error) *Error {
	return &Error{Kind: KindRecoverable, Op: op, Engine: engine, Err: err}
}

// NewFatalError wraps err as a fatal error.
func NewFatalError(engine, op string, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Engine: engine, Err: err}
}

// protect runs fn and converts a panic into a *PanicError.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
