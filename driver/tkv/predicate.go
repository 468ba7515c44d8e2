package tkv

import (
	"errors"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tarantool/go-coordination/predicate"
)

var (
	// ErrUnknownOperator is returned when the operator is unknown.
	ErrUnknownOperator = errors.New("unknown operator")
	// ErrUnknownTarget is returned when the target is unknown.
	ErrUnknownTarget = errors.New("unknown target")

	_ msgpack.CustomEncoder = tkvPredicate{Predicate: nil}

	//nolint: gochecknoglobals
	operators = map[predicate.Op]string{
		predicate.OpEqual:    "==",
		predicate.OpNotEqual: "!=",
		predicate.OpGreater:  ">",
		predicate.OpLess:     "<",
	}

	//nolint: gochecknoglobals
	targets = map[predicate.Target]string{
		predicate.TargetValue:   "value",
		predicate.TargetVersion: "mod_revision",
	}
)

type tkvPredicate struct {
	predicate.Predicate
}

func newTKVPredicates(predicates []predicate.Predicate) []tkvPredicate {
	tkvPredicates := make([]tkvPredicate, 0, len(predicates))
	for _, p := range predicates {
		tkvPredicates = append(tkvPredicates, tkvPredicate{p})
	}

	return tkvPredicates
}

const (
	defaultPredicateArrayLen = 4
)

// EncodeMsgpack encodes the predicate as [target, operator, value, key].
func (p tkvPredicate) EncodeMsgpack(encoder *msgpack.Encoder) error {
	op, ok := operators[p.Operation()]
	if !ok {
		return NewPredicateEncodingError(p.Operation().String(), ErrUnknownOperator)
	}

	target, ok := targets[p.Target()]
	if !ok {
		return NewPredicateEncodingError(p.Target().String(), ErrUnknownTarget)
	}

	if err := encoder.EncodeArrayLen(defaultPredicateArrayLen); err != nil {
		return NewPredicateEncodingError("array length", err)
	}

	if err := encoder.EncodeString(target); err != nil {
		return NewPredicateEncodingError("target", err)
	}

	if err := encoder.EncodeString(op); err != nil {
		return NewPredicateEncodingError("operator", err)
	}

	value := p.Value()
	if raw, isBytes := value.([]byte); isBytes {
		value = string(raw)
	}

	if err := encoder.Encode(value); err != nil {
		return NewPredicateEncodingError("value", err)
	}

	// Keys are strings on the config storage side.
	if err := encoder.EncodeString(string(p.Key())); err != nil {
		return NewPredicateEncodingError("key", err)
	}

	return nil
}
