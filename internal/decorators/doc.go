// Package decorators provides engine.Decorator implementations that
// control how often and when a wrapped plugin's hooks run: retry,
// debounce, conflate, batch and timeout.
//
// Decorators are generic over the engine's State, Intent and Action types
// and are applied with engine.Decorate:
//
//	chain := engine.Decorate(reducer,
//		decorators.TimeoutIntents[S, I, A](time.Second, nil),
//		decorators.RetryIntents[S, I, A](decorators.Exponential(3, 10*time.Millisecond), nil),
//	)
package decorators
