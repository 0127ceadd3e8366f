// Package harness runs YAML scenarios against configured resources and
// compares their traces with golden files.
//
// # Scenario Format
//
//	name: optimistic_add
//	description: "An added todo appears with its server id"
//	config:            # inline configuration (see package config), or
//	config_file: ../livestate.yaml
//	steps:
//	  - observe: todos
//	  - add: {resource: todos, data: {title: write, rank: 1}}
//	  - write: {path: users/u1/todos/t9, fields: {title: remote}}
//	  - remove: {path: users/u1/todos/t9}
//	  - put: {key: presence/u1, value: {online: false}}
//	  - delete: {resource: todos, id: doc-0001}
//	  - save_field: {resource: profile, field: age, value: 31}
//	  - push: {resource: chat, value: hello}
//	  - refetch: stats
//	  - release: todos
//	assertions:
//	  - type: data
//	    resource: todos
//	    expect: [...]
//	  - type: trace_contains
//	    op: add
//	    resource: todos
//	  - type: trace_count
//	    op: write
//	    count: 1
//	  - type: trace_order
//	    ops: [observe, add, release]
//
// # Steps
//
// Resource steps (observe, release, refetch, add, delete, save_field, push)
// act through a resource. Backend steps (write, remove, put, unset) change
// the stores directly, as another client would.
//
// After every step the harness records the state of each observed
// resource. Listening resources are first settled: the harness waits until
// their data equals a one-shot read of the same resource.
//
// # Deterministic Testing
//
// Store ids come from ids.Sequence ("doc-0001", ...) and node list keys
// from a second sequence ("key-0001", ...). Observer releases run on a
// reactive.Loop drained after each step. Identical scenarios therefore
// produce identical traces.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/optimistic_add.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
package harness
