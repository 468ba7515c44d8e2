// Package tx provides the conditional transaction vocabulary of key-value backends.
package tx

import (
	"github.com/tarantool/go-coordination/kv"
	"github.com/tarantool/go-coordination/operation"
	"github.com/tarantool/go-coordination/predicate"
)

// Response is the outcome of a committed transaction.
type Response struct {
	// Succeeded reports whether the predicates held and the Then branch ran.
	Succeeded bool
	// Results holds one entry per operation of the executed branch.
	Results []RequestResponse
}

// RequestResponse is the outcome of one operation. Values is filled by get
// and delete operations; a put has none.
type RequestResponse struct {
	Values []kv.KeyValue
}

// Tx represents a transactional interface for atomic operations.
// Transactions support conditional execution with predicates.
type Tx interface {
	// If specifies predicates for conditional transaction execution.
	// Empty predicate list means always true (unconditional execution).
	If(predicates ...predicate.Predicate) Tx
	// Then specifies operations to execute if predicates evaluate to true.
	Then(operations ...operation.Operation) Tx
	// Else specifies operations to execute if predicates evaluate to false.
	// This is optional.
	Else(operations ...operation.Operation) Tx
	// Commit atomically executes the transaction and returns the result.
	Commit() (Response, error)
}
