// Package uql defines the Unified Query Language: one declarative query
// shape that every backend compiles.
//
// ARCHITECTURE:
//
//	[caller: YAML/JSON/builders] → [uql.Query] → Normalize → [relational text]
//	                                                       → [document filter]
//	                                                       → [in-memory plan]
//
// A Query is {where, order, limit, skip}. The where clause is a typed AST:
//
//   - Predicate: one field with a literal (equality), an operator object
//     ({gt, gte, lt, lte, ne, contains}) or a regex ({regex, options})
//   - Group: and/or over a list of sub-clauses, each a full Where
//
// Clause is a sealed interface. Backends switch over *Predicate and *Group
// and need no default branch for foreign implementations.
//
// Dot paths ("job.title") address keys inside JSON fields. Validation
// reduces a dot path to its root field before checking it against the
// model.
//
// Field names in a parsed query are external (camelCase). Normalize
// rewrites them to storage names (snake_case) and validates the result;
// transpilers only ever see normalized queries.
package uql
