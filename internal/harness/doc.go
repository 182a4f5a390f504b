// Package harness runs conformance scenarios against the in-memory
// backend.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: employees_lifecycle
//	description: "What this scenario validates"
//	models: models.cue
//	setup:
//	  - model: persons
//	    records:
//	      - {id: 1, name: Ann, email: ann@x}
//	steps:
//	  - op: insert
//	    model: employees
//	    data: {personId: 1, name: Annie, title: dev}
//	    expect:
//	      result: {name: Annie}
//	  - op: find
//	    model: employees
//	    query:
//	      where: {title: dev}
//	      order: {id: asc}
//	    expect:
//	      records:
//	        - {name: Annie, email: ann@x}
//	  - op: update
//	    model: employees
//	    data: {title: lead}
//	    expect:
//	      error: BAD_INPUT
//	assertions:
//	  - type: record_count
//	    collection: employees
//	    count: 1
//	  - type: final_state
//	    collection: persons
//	    where: {id: 1}
//	    expect: {name: Ann}
//
// models is a CUE file, relative to the scenario, declaring the models
// under "model". Setup records are inserted through the model's
// repository and must succeed. query keeps its key order, so order keys
// tie-break in the order written.
//
// # Expectations
//
// result and records are subset matches: only the listed fields are
// compared, with keys in either naming convention. records must match in
// length and order. count compares Count results and the affected counts
// of update and remove. error names a dberr code (BAD_INPUT,
// BAD_INDEXES_FOR_UPSERT, CANT_INSERT_RECORD) or NOT_FOUND for a
// findOne without a match.
//
// # Determinism
//
// Each run gets a fresh store whose uuid and string keys come from
// testutil.SequentialKeys, so traces are stable across runs and can be
// compared against golden files with RunWithGolden.
package harness
