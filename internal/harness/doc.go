// Package harness runs YAML scenarios against the counter store and
// checks the resulting trace.
//
// # Scenario Format
//
//	name: count_to_three
//	description: "Three increments after loading"
//	config:
//	  intent_capacity: 4
//	  intent_overflow: drop_oldest
//	intents:
//	  - increment
//	  - add 2
//	expect:
//	  final_state: Count(3)
//	  actions: []
//	  states: [Count(0), Count(1), Count(3)]
//	assertions:
//	  - type: trace_contains
//	    event: state
//	    value: Count(1)
//	  - type: trace_order
//	    events: ["intent:increment", "state:Count(1)"]
//	  - type: trace_count
//	    event: intent
//	    count: 2
//	  - type: final_state
//	    expect: { count: 3 }
//
// # Trace
//
// A traceRecorder plugin sits first in the chain and records start, intents,
// proposed states, actions, exceptions, undelivered intents and stop,
// stamped with a logical clock. The engine runs intents one at a time, so
// the same scenario always produces the same trace; RunWithGolden
// compares it against testdata/golden/<name>.golden.
package harness
