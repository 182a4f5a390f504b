// Package transpile defines the contract every backend transpiler
// implements: compile an operation on a model into a backend artifact.
//
// The three implementations (relational, document, memory) share this
// interface but produce different artifact types. Callers switch on the
// concrete artifact; nothing about one backend's edge cases leaks into
// another.
package transpile

import (
	"fmt"

	"github.com/roach88/uql/internal/schema"
	"github.com/roach88/uql/internal/uql"
)

// Backend tags an artifact with the backend that produced it.
type Backend string

const (
	Relational Backend = "relational"
	Document   Backend = "document"
	Memory     Backend = "memory"
)

// Operation is the kind of statement being compiled.
type Operation string

const (
	Select Operation = "select"
	Count  Operation = "count"
	Insert Operation = "insert"
	Update Operation = "update"
	Remove Operation = "remove"
	Upsert Operation = "upsert"
)

// Operations lists every operation in a stable order.
var Operations = []Operation{Select, Count, Insert, Update, Remove, Upsert}

// ParseOperation resolves an operation name.
func ParseOperation(name string) (Operation, error) {
	for _, op := range Operations {
		if string(op) == name {
			return op, nil
		}
	}
	if name == "find" {
		return Select, nil
	}
	return "", fmt.Errorf("unknown operation %q", name)
}

// Artifact is a compiled, single-use statement. It carries no identity
// beyond one execution.
type Artifact interface {
	Backend() Backend
}

// Compiler turns a normalized query (and data, for writes) into an artifact.
//
// Queries handed to Compile must already have passed uql.Normalize; data
// must already have passed uql.NormalizeRecord. Compile is pure and safe
// for concurrent use.
type Compiler interface {
	Backend() Backend
	Compile(op Operation, m *schema.Model, q *uql.Query, data uql.Record) (Artifact, error)
}
